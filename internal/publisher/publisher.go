// Package publisher řídí periodický cyklus čtení -> serializace -> publikace
// pro dva nezávislé proudy (data vozidla a parkování) na jednom spojení.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"road-telemetry/internal/metrics"
	"road-telemetry/internal/telemetry"
)

// ErrPublish označuje neúspěšné odeslání jedné zprávy. Není fatální.
var ErrPublish = errors.New("publikace zprávy selhala")

// Source je zdroj záznamů (v produkci source.FileSource).
type Source interface {
	ReadAggregate(ctx context.Context) (telemetry.AggregatedTelemetry, error)
	ReadParking(ctx context.Context) (telemetry.AggregatedParking, error)
}

// Sink odešle payload na topic (v produkci broker.Connection).
type Sink interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Config určuje topicy a periodu cyklu.
type Config struct {
	Topic        string
	ParkingTopic string
	Period       time.Duration
}

// Publisher drží jeden zdroj a jedno spojení. Oba proudy čte sekvenčně z jedné goroutiny.
type Publisher struct {
	src     Source
	sink    Sink
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Publisher
}

// New vytvoří publisher. m může být nil.
func New(src Source, sink Sink, cfg Config, logger *slog.Logger, m *metrics.Publisher) *Publisher {
	return &Publisher{src: src, sink: sink, cfg: cfg, logger: logger, metrics: m}
}

// Run běží, dokud se nezruší ctx (vrací nil) nebo dokud zdroj nevrátí chybu (vrací ji).
// Chyby publikace se jen zalogují, smyčka pokračuje.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("Spouštím publikační smyčku",
		"topic", p.cfg.Topic, "parking_topic", p.cfg.ParkingTopic, "period", p.cfg.Period)

	timer := time.NewTimer(p.cfg.Period)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Publikační smyčka ukončena")
			return nil
		case <-timer.C:
		}

		if err := p.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		timer.Reset(p.cfg.Period)
	}
}

// cycle provede jedno čtení a publikaci pro každý proud.
func (p *Publisher) cycle(ctx context.Context) error {
	agg, err := p.src.ReadAggregate(ctx)
	if err != nil {
		return fmt.Errorf("čtení dat vozidla: %w", err)
	}
	p.publish(ctx, p.cfg.Topic, agg)

	parking, err := p.src.ReadParking(ctx)
	if err != nil {
		return fmt.Errorf("čtení parkovacích dat: %w", err)
	}
	p.publish(ctx, p.cfg.ParkingTopic, parking)

	return nil
}

func (p *Publisher) publish(ctx context.Context, topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		// Naše vlastní struktury, v praxi nenastane.
		p.logger.Error("Serializace zprávy selhala", "topic", topic, "error", err)
		return
	}

	if err := p.sink.Publish(ctx, topic, payload); err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Error("Nepodařilo se odeslat zprávu", "topic", topic,
			"error", fmt.Errorf("%w: %w", ErrPublish, err))
		if p.metrics != nil {
			p.metrics.Failures.WithLabelValues(topic).Inc()
		}
		return
	}

	if p.metrics != nil {
		p.metrics.Published.WithLabelValues(topic).Inc()
	}
	p.logger.Debug("Zpráva odeslána", "topic", topic, "bytes", len(payload))
}
