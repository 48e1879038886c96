package broker

import "fmt"

// NoWaitPublisher je cokoliv, co umí odeslat zprávu bez čekání na potvrzení.
type NoWaitPublisher interface {
	PublishNoWait(topic string, payload []byte)
}

// LogWriter implementuje io.Writer. Každý zápis (jeden JSON řádek ze slog) odejde do MQTT
// na topic "<prefix>/<služba>", kde ho sebere log-collector.
type LogWriter struct {
	pub   NoWaitPublisher
	topic string
}

// NewLogWriter vytvoří writer, topic bude např. "logs/telemetry-publisher".
func NewLogWriter(pub NoWaitPublisher, topicPrefix, serviceName string) *LogWriter {
	return &LogWriter{
		pub:   pub,
		topic: fmt.Sprintf("%s/%s", topicPrefix, serviceName),
	}
}

// Topic vrací cílový topic.
func (w *LogWriter) Topic() string {
	return w.topic
}

// Write nikdy neblokuje a nikdy nevrací chybu, logování nesmí zastavit aplikaci.
func (w *LogWriter) Write(p []byte) (int, error) {
	// slog buffer znovu použije, proto kopie.
	payload := make([]byte, len(p))
	copy(payload, p)

	w.pub.PublishNoWait(w.topic, payload)
	return len(p), nil
}
