// Package broker drží spojení na MQTT broker.
// Connector při startu čeká (a opakuje pokusy), dokud broker nenaběhne.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"road-telemetry/internal/retry"
)

// State je stav connectoru.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Client je podmnožina mqtt.Client, kterou opravdu používáme.
// mqtt.Client ji splňuje, v testech ji nahrazuje fake.
type Client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Options je nastavení připojení.
type Options struct {
	Broker         string        // např. tcp://mqtt:1883
	ClientID       string        // prefix; doplní se náhodná přípona, aby se instance nevykopávaly
	ConnectTimeout time.Duration // timeout jednoho pokusu
	PublishTimeout time.Duration // jak dlouho čekáme na token při publish
	QoS            byte
	RetryInterval  time.Duration // pauza mezi pokusy, default 5s
}

// Connector vytváří živé spojení na broker.
type Connector struct {
	opts      Options
	policy    retry.Policy
	logger    *slog.Logger
	newClient func(*mqtt.ClientOptions) Client
	state     atomic.Int32
}

// ConnectorOption upravuje Connector (hlavně pro testy).
type ConnectorOption func(*Connector)

// WithClientFactory nahradí mqtt.NewClient.
func WithClientFactory(f func(*mqtt.ClientOptions) Client) ConnectorOption {
	return func(c *Connector) { c.newClient = f }
}

// NewConnector vytvoří connector. Sám se nepřipojuje.
func NewConnector(opts Options, logger *slog.Logger, options ...ConnectorOption) *Connector {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = retry.DefaultInterval
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}

	c := &Connector{
		opts:   opts,
		logger: logger,
		newClient: func(o *mqtt.ClientOptions) Client {
			return mqtt.NewClient(o)
		},
	}
	c.policy = retry.Forever(opts.RetryInterval)
	c.policy.OnRetry = func(attempt int, err error) {
		c.logger.Warn("Připojení k MQTT selhalo, zkusím to znovu",
			"broker", c.opts.Broker, "attempt", attempt, "retry_in", c.opts.RetryInterval, "error", err)
	}

	for _, o := range options {
		o(c)
	}
	return c
}

// State vrací aktuální stav.
func (c *Connector) State() State {
	return State(c.state.Load())
}

// Connect blokuje, dokud se nepodaří připojit. Broker, který ještě neběží, není chyba:
// každý neúspěch se zaloguje a po pevném intervalu se zkusí znovu, bez omezení počtu pokusů.
// Chybu vrací jen při zrušení ctx.
func (c *Connector) Connect(ctx context.Context) (*Connection, error) {
	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(c.opts.Broker)
	clientOpts.SetClientID(fmt.Sprintf("%s-%s", c.opts.ClientID, uuid.NewString()[:8]))
	clientOpts.SetConnectTimeout(c.opts.ConnectTimeout)
	// Opakování při startu řešíme sami, paho jen drží už navázané spojení.
	clientOpts.SetConnectRetry(false)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Error("Spojení s MQTT brokerem ztraceno", "broker", c.opts.Broker, "error", err)
	})

	conn := &Connection{
		qos:            c.opts.QoS,
		publishTimeout: c.opts.PublishTimeout,
		logger:         c.logger,
		subs:           make(map[string]Handler),
	}
	// Po auto-reconnectu s čistou session broker odběry zapomněl.
	clientOpts.SetOnConnectHandler(func(mqtt.Client) {
		conn.resubscribe()
	})

	client := c.newClient(clientOpts)
	conn.client = client
	c.state.Store(int32(Connecting))
	c.logger.Info("Připojuji se k MQTT", "broker", c.opts.Broker)

	err := c.policy.Do(ctx, func(ctx context.Context) error {
		return waitToken(ctx, client.Connect(), 0)
	})
	if err != nil {
		// Rozpracovaný pokus by se mohl dokončit později a nechat viset spojení.
		client.Disconnect(0)
		c.state.Store(int32(Disconnected))
		return nil, err
	}

	c.state.Store(int32(Connected))
	c.logger.Info("Připojeno k MQTT", "broker", c.opts.Broker)

	return conn, nil
}

// waitToken čeká na dokončení tokenu, zrušení ctx nebo vypršení timeoutu (0 = bez timeoutu).
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-deadline:
		return fmt.Errorf("mqtt token nedokončen do %s", timeout)
	}
}
