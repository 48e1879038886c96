package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeToken je hotový token s danou chybou.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

// fakeClient simuluje broker, který naběhne až po failConnects pokusech.
type fakeClient struct {
	mu           sync.Mutex
	failConnects int
	connects     int
	connected    bool
	published    map[string][][]byte
	publishErr   error
	handlers     map[string]mqtt.MessageHandler
	disconnected bool
	hangConnect  bool // Connect vrací token, který se nikdy nedokončí
}

func newFakeClient(failConnects int) *fakeClient {
	return &fakeClient{
		failConnects: failConnects,
		published:    make(map[string][][]byte),
		handlers:     make(map[string]mqtt.MessageHandler),
	}
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.hangConnect {
		return &fakeToken{done: make(chan struct{})}
	}
	if c.connects <= c.failConnects {
		return newToken(errors.New("connection refused"))
	}
	c.connected = true
	return newToken(nil)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return newToken(c.publishErr)
	}
	c.published[topic] = append(c.published[topic], payload.([]byte))
	return newToken(nil)
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = cb
	return newToken(nil)
}

func (c *fakeClient) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestConnector(client *fakeClient) *Connector {
	return NewConnector(Options{
		Broker:        "tcp://mqtt:1883",
		ClientID:      "test",
		RetryInterval: 10 * time.Millisecond,
	}, discardLogger(), WithClientFactory(func(*mqtt.ClientOptions) Client { return client }))
}

func TestConnectWaitsForBroker(t *testing.T) {
	client := newFakeClient(2)
	c := newTestConnector(client)
	assert.Equal(t, Disconnected, c.State())

	conn, err := c.Connect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, conn)

	assert.Equal(t, 3, client.connectCount())
	assert.Equal(t, Connected, c.State())
	assert.True(t, conn.IsConnected())

	require.NoError(t, conn.Publish(context.Background(), "agent_data_topic", []byte(`{}`)))
	assert.Len(t, client.published["agent_data_topic"], 1)
}

func TestConnectReturnsOnCancel(t *testing.T) {
	client := newFakeClient(1 << 30)
	c := newTestConnector(client)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	conn, err := c.Connect(ctx)
	assert.Nil(t, conn)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Disconnected, c.State())
}

func TestPublishSurfacesTokenError(t *testing.T) {
	client := newFakeClient(0)
	conn, err := newTestConnector(client).Connect(context.Background())
	require.NoError(t, err)

	client.publishErr = errors.New("not connected")
	err = conn.Publish(context.Background(), "t", []byte("x"))
	assert.EqualError(t, err, "not connected")
}

func TestLogWriterPublishesCopy(t *testing.T) {
	client := newFakeClient(0)
	conn, err := newTestConnector(client).Connect(context.Background())
	require.NoError(t, err)

	w := NewLogWriter(conn, "logs", "telemetry-publisher")
	buf := []byte(`{"msg":"hello"}`)
	n, err := w.Write(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)

	buf[2] = 'X'
	require.Len(t, client.published["logs/telemetry-publisher"], 1)
	assert.Equal(t, `{"msg":"hello"}`, string(client.published["logs/telemetry-publisher"][0]))
}

func TestCloseDisconnects(t *testing.T) {
	client := newFakeClient(0)
	conn, err := newTestConnector(client).Connect(context.Background())
	require.NoError(t, err)

	conn.Close()
	assert.True(t, client.disconnected)
	assert.False(t, conn.IsConnected())
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestSubscriptionsRestoredAfterReconnect(t *testing.T) {
	client := newFakeClient(0)
	var opts *mqtt.ClientOptions
	c := NewConnector(Options{Broker: "tcp://mqtt:1883", ClientID: "hub", RetryInterval: time.Millisecond},
		discardLogger(), WithClientFactory(func(o *mqtt.ClientOptions) Client {
			opts = o
			return client
		}))

	conn, err := c.Connect(context.Background())
	require.NoError(t, err)

	var got []string
	require.NoError(t, conn.Subscribe(context.Background(), "agent_data_topic", func(topic string, payload []byte) {
		got = append(got, topic+":"+string(payload))
	}))

	// Broker po výpadku odběry zapomněl.
	client.mu.Lock()
	client.handlers = make(map[string]mqtt.MessageHandler)
	client.mu.Unlock()

	require.NotNil(t, opts.OnConnect)
	opts.OnConnect(nil)

	client.mu.Lock()
	h := client.handlers["agent_data_topic"]
	client.mu.Unlock()
	require.NotNil(t, h)

	h(nil, fakeMessage{topic: "agent_data_topic", payload: []byte("x")})
	assert.Equal(t, []string{"agent_data_topic:x"}, got)
}

func TestConnectCancelledMidAttemptDisconnects(t *testing.T) {
	client := newFakeClient(0)
	client.hangConnect = true
	c := newTestConnector(client)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	conn, err := c.Connect(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, conn)
	assert.Equal(t, Disconnected, c.State())

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.True(t, client.disconnected)
}
