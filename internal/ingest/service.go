// Package ingest přijímá validované dávky, ukládá je v jedné transakci
// a uložené řádky předává dál websocket klientům a do hot cache.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"road-telemetry/internal/metrics"
	"road-telemetry/internal/store"
	"road-telemetry/internal/telemetry"
)

// Broadcaster rozešle uložené řádky živým odběratelům. Vrací počet doručení.
type Broadcaster interface {
	Push(ctx context.Context, records []telemetry.PersistedRecord) int
}

// LatestCache drží poslední uložený řádek (Valkey).
type LatestCache interface {
	SetLatestRecord(ctx context.Context, rec telemetry.PersistedRecord) error
}

// cacheTimeout omezuje zápis do cache, aby pomalý Valkey nezdržel odpověď API.
const cacheTimeout = 2 * time.Second

type Service struct {
	store       store.Store
	broadcaster Broadcaster
	cache       LatestCache
	logger      *slog.Logger
	metrics     *metrics.Ingest
}

// Option upravuje volitelné závislosti služby.
type Option func(*Service)

// WithCache zapne zápis posledního řádku do hot cache.
func WithCache(c LatestCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithMetrics zapne Prometheus čítače.
func WithMetrics(m *metrics.Ingest) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService - broadcaster může být nil (pak se jen ukládá).
func NewService(st store.Store, b Broadcaster, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{store: st, broadcaster: b, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest uloží dávku a vrátí počet vložených řádků.
// Prázdná dávka je no-op. Chyba obaluje store.ErrPersistence a znamená, že se neuložilo nic.
// Doručení klientům ani zápis do cache výsledek neovlivní.
func (s *Service) Ingest(ctx context.Context, batch []telemetry.ValidatedRecord) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	inserted, err := s.store.InsertBatch(ctx, batch)
	if err != nil {
		if s.metrics != nil {
			s.metrics.Failures.Inc()
		}
		s.logger.Error("Dávku se nepodařilo uložit", "size", len(batch), "error", err)
		return 0, err
	}

	if s.metrics != nil {
		s.metrics.Batches.Inc()
		s.metrics.Records.Add(float64(len(inserted)))
	}
	s.logger.Debug("Dávka uložena", "inserted", len(inserted))

	// Od teď je dávka commitnutá, zbytek je best-effort.
	// Context požadavku může po odeslání odpovědi skončit, proto WithoutCancel.
	after := context.WithoutCancel(ctx)

	if s.cache != nil {
		cctx, cancel := context.WithTimeout(after, cacheTimeout)
		if err := s.cache.SetLatestRecord(cctx, inserted[len(inserted)-1]); err != nil {
			s.logger.Warn("Zápis posledního záznamu do cache selhal", "error", err)
		}
		cancel()
	}

	if s.broadcaster != nil {
		delivered := s.broadcaster.Push(after, inserted)
		s.logger.Debug("Dávka rozeslána", "subscribers", delivered)
	}

	return len(inserted), nil
}
