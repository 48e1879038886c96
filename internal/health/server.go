// Package health je malý HTTP server pro služby bez API (publisher, hub):
// GET /health pro Docker healthcheck a GET /metrics pro Prometheus.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"road-telemetry/internal/metrics"
	"road-telemetry/internal/sysstats"
)

// Check ověří jednu závislost, např. spojení s brokerem.
type Check func(ctx context.Context) error

// Report je tělo odpovědi /health.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	System sysstats.Snapshot `json:"system"`
}

// Handler vrátí mux s /health a (pokud reg není nil) /metrics.
func Handler(checks map[string]Check, reg *prometheus.Registry, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		report := Report{
			Status: "ok",
			Checks: make(map[string]string, len(checks)),
			System: sysstats.Collect(ctx, logger, ""),
		}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				report.Checks[name] = err.Error()
				report.Status = "degraded"
				continue
			}
			report.Checks[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		if report.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(report); err != nil {
			logger.Error("Chyba při zápisu JSON odpovědi", "error", err)
		}
	})
	if reg != nil {
		mux.Handle("GET /metrics", metrics.Handler(reg))
	}
	return mux
}

// Run obsluhuje port, dokud se nezruší ctx. Pak server slušně ukončí.
func Run(ctx context.Context, port string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Health server běží", "port", port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
