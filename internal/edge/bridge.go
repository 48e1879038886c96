package edge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"road-telemetry/internal/metrics"
	"road-telemetry/internal/retry"
	"road-telemetry/internal/telemetry"
)

// ErrInvalidMessage: zprávu z MQTT nešlo dekódovat nebo nemá timestamp.
var ErrInvalidMessage = errors.New("neplatná zpráva")

// Forwarder pošle dávku do store (StoreClient).
type Forwarder interface {
	PostBatch(ctx context.Context, batch []telemetry.ProcessedAgentData) (int, error)
}

// ParkingCache uloží poslední parkovací údaj uživatele (cache.Valkey).
type ParkingCache interface {
	SetLatestParking(ctx context.Context, p telemetry.AggregatedParking) error
}

// BridgeConfig řídí skládání dávek.
type BridgeConfig struct {
	BatchSize     int
	FlushInterval time.Duration

	// Forward je politika opakování při neúspěšném POST do store.
	Forward retry.Policy
}

// DefaultForwardPolicy: tři pokusy s pauzou 1s.
func DefaultForwardPolicy() retry.Policy {
	return retry.Policy{Interval: time.Second, MaxAttempts: 3}
}

const (
	queueSize      = 1024
	forwardTimeout = 10 * time.Second
	cacheTimeout   = 2 * time.Second
)

// Bridge přijímá zprávy z MQTT handlerů a z jedné goroutiny (Run) posílá dávky do store.
type Bridge struct {
	cfg        BridgeConfig
	classifier Classifier
	forwarder  Forwarder
	parking    ParkingCache
	logger     *slog.Logger
	metrics    *metrics.Edge

	queue chan telemetry.ProcessedAgentData
	done  chan struct{}
}

// NewBridge - parking a m mohou být nil.
func NewBridge(cfg BridgeConfig, c Classifier, f Forwarder, parking ParkingCache, logger *slog.Logger, m *metrics.Edge) *Bridge {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	// Nekonečné opakování by zablokovalo příjem dalších dávek.
	if cfg.Forward.MaxAttempts <= 0 {
		cfg.Forward = DefaultForwardPolicy()
	}
	return &Bridge{
		cfg:        cfg,
		classifier: c,
		forwarder:  f,
		parking:    parking,
		logger:     logger,
		metrics:    m,
		queue:      make(chan telemetry.ProcessedAgentData, queueSize),
		done:       make(chan struct{}),
	}
}

// HandleTelemetry je MQTT handler pro telemetrii vozidla.
// Neplatné zprávy se zalogují a zahodí.
func (b *Bridge) HandleTelemetry(topic string, payload []byte) {
	if b.metrics != nil {
		b.metrics.Received.Inc()
	}

	item, err := b.decodeTelemetry(payload)
	if err != nil {
		b.invalid(topic, payload, err)
		return
	}
	if b.metrics != nil {
		b.metrics.Classified.WithLabelValues(item.RoadState).Inc()
	}

	// Po skončení Run frontu nikdo nečte, i když v ní je místo.
	select {
	case <-b.done:
		b.dropLate(topic)
		return
	default:
	}

	select {
	case b.queue <- item:
	case <-b.done:
		b.dropLate(topic)
	}
}

func (b *Bridge) dropLate(topic string) {
	if b.metrics != nil {
		b.metrics.Dropped.Inc()
	}
	b.logger.Warn("Bridge už neběží, zpráva zahozena", "topic", topic)
}

// Pending vrací počet zpráv čekajících ve frontě.
func (b *Bridge) Pending() int {
	return len(b.queue)
}

// HandleParking je MQTT handler pro parkovací data. Poslední hodnota jde do cache.
func (b *Bridge) HandleParking(topic string, payload []byte) {
	if b.metrics != nil {
		b.metrics.Received.Inc()
	}

	var p telemetry.AggregatedParking
	if err := json.Unmarshal(payload, &p); err != nil {
		b.invalid(topic, payload, fmt.Errorf("%w: %w", ErrInvalidMessage, err))
		return
	}
	if b.parking == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	if err := b.parking.SetLatestParking(ctx, p); err != nil {
		b.logger.Warn("Uložení parkovacích dat do cache selhalo", "user_id", p.UserID, "error", err)
	}
}

func (b *Bridge) decodeTelemetry(payload []byte) (telemetry.ProcessedAgentData, error) {
	var msg telemetry.AggregatedTelemetry
	if err := json.Unmarshal(payload, &msg); err != nil {
		return telemetry.ProcessedAgentData{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if msg.Timestamp.IsZero() {
		return telemetry.ProcessedAgentData{}, fmt.Errorf("%w: chybí timestamp", ErrInvalidMessage)
	}

	return telemetry.ProcessedAgentData{
		RoadState: b.classifier.Classify(msg.Accelerometer),
		AgentData: telemetry.AgentData{
			Accelerometer: msg.Accelerometer,
			Gps:           msg.Gps,
			Timestamp:     msg.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	}, nil
}

func (b *Bridge) invalid(topic string, payload []byte, err error) {
	if b.metrics != nil {
		b.metrics.Invalid.Inc()
	}
	b.logger.Warn("Neplatná zpráva zahozena", "topic", topic, "payload", string(payload), "error", err)
}

// Run skládá dávky a posílá je, když dosáhnou BatchSize nebo uplyne FlushInterval.
// Po zrušení ctx odešle zbytek a vrátí nil.
func (b *Bridge) Run(ctx context.Context) error {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]telemetry.ProcessedAgentData, 0, b.cfg.BatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		b.forward(ctx, batch)
		batch = make([]telemetry.ProcessedAgentData, 0, b.cfg.BatchSize)
	}

	for {
		select {
		case <-ctx.Done():
			// Dočerpat frontu, ať se neztratí, co už přišlo.
		drain:
			for {
				select {
				case item := <-b.queue:
					batch = append(batch, item)
				default:
					break drain
				}
			}
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), forwardTimeout)
			flush(shutdownCtx)
			cancel()
			return nil

		case item := <-b.queue:
			batch = append(batch, item)
			if len(batch) >= b.cfg.BatchSize {
				flush(ctx)
			}

		case <-ticker.C:
			flush(ctx)
		}
	}
}

// forward pošle dávku. Po vyčerpání pokusů se dávka zahodí (žádná trvalá fronta).
func (b *Bridge) forward(ctx context.Context, batch []telemetry.ProcessedAgentData) {
	policy := b.cfg.Forward
	policy.OnRetry = func(attempt int, err error) {
		b.logger.Warn("Odeslání dávky do store selhalo", "attempt", attempt, "size", len(batch), "error", err)
	}

	var inserted int
	err := policy.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, forwardTimeout)
		defer cancel()

		n, err := b.forwarder.PostBatch(callCtx, batch)
		if errors.Is(err, ErrRejected) {
			return retry.NonRetryable(err)
		}
		inserted = n
		return err
	})
	if err != nil {
		if b.metrics != nil {
			b.metrics.ForwardFailures.Inc()
		}
		b.logger.Error("Dávka zahozena", "size", len(batch), "error", err)
		return
	}

	if b.metrics != nil {
		b.metrics.Forwarded.Add(float64(inserted))
	}
	b.logger.Debug("Dávka odeslána do store", "inserted", inserted)
}
