package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection je navázané spojení. Síťovou smyčku (čtení, zápis, ping) obsluhuje paho na pozadí.
type Connection struct {
	client         Client
	qos            byte
	publishTimeout time.Duration
	logger         *slog.Logger

	mu   sync.Mutex
	subs map[string]Handler // topic -> handler, pro obnovení po reconnectu
}

// Publish odešle payload a počká na potvrzení tokenu (u QoS 0 jen lokální odeslání).
func (c *Connection) Publish(ctx context.Context, topic string, payload []byte) error {
	return waitToken(ctx, c.client.Publish(topic, c.qos, false, payload), c.publishTimeout)
}

// PublishNoWait odešle payload bez čekání (fire-and-forget), používá ho log writer.
func (c *Connection) PublishNoWait(topic string, payload []byte) {
	c.client.Publish(topic, 0, false, payload)
}

// Handler zpracuje jednu přijatou zprávu.
type Handler func(topic string, payload []byte)

// Subscribe přihlásí odběr topicu. Handler běží v goroutině paho klienta.
// Odběr se pamatuje a po znovupřipojení se obnoví.
func (c *Connection) Subscribe(ctx context.Context, topic string, handler Handler) error {
	if err := waitToken(ctx, c.client.Subscribe(topic, c.qos, adapt(handler)), c.publishTimeout); err != nil {
		return err
	}
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()
	return nil
}

// resubscribe běží v goroutině paho po každém (i prvním) připojení, proto nečeká na tokeny.
func (c *Connection) resubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, handler := range c.subs {
		c.client.Subscribe(topic, c.qos, adapt(handler))
		c.logger.Info("Obnovuji odběr po reconnectu", "topic", topic)
	}
}

func adapt(handler Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}
}

// IsConnected hlásí, jestli paho klient právě drží spojení.
func (c *Connection) IsConnected() bool {
	return c.client.IsConnected()
}

// Close odpojí klienta s timeoutem 250ms na dokončení rozpracovaných zpráv.
func (c *Connection) Close() {
	c.client.Disconnect(250)
}
