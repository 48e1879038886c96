// telemetry-store přijímá dávky zpracovaných záznamů, ukládá je do Postgres
// a rozesílá je websocket klientům. Nad tabulkou nabízí i CRUD.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"road-telemetry/internal/api"
	"road-telemetry/internal/broadcast"
	"road-telemetry/internal/cache"
	"road-telemetry/internal/config"
	"road-telemetry/internal/ingest"
	"road-telemetry/internal/logging"
	"road-telemetry/internal/metrics"
	"road-telemetry/internal/retry"
	"road-telemetry/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Služba skončila s chybou", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Načtení konfigurace
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 2. Logger
	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Startuji Telemetry Store", "port", cfg.Store.HTTPPort)

	// 3. Inicializace DB Connection Pool.
	// Databáze v docker-compose startuje pomaleji, čekáme na ni stejně jako na broker.
	var db *store.PostgresStore
	dbPolicy := retry.Forever(cfg.MQTT.RetryInterval)
	dbPolicy.OnRetry = func(attempt int, err error) {
		logger.Warn("Databáze nedostupná, zkusím to znovu", "attempt", attempt, "error", err)
	}
	err = dbPolicy.Do(ctx, func(ctx context.Context) error {
		var err error
		db, err = store.NewPostgresStore(ctx, cfg.Store.PostgresURL)
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("Databáze připojena")

	// 4. Websocket hub pro živé odběratele
	reg := metrics.NewRegistry()
	hub := broadcast.NewHub(logger,
		broadcast.WithWriteTimeout(cfg.Store.PushTimeout),
		broadcast.WithMetrics(metrics.NewBroadcast(reg)),
	)
	defer hub.Close()

	ingestOpts := []ingest.Option{ingest.WithMetrics(metrics.NewIngest(reg))}
	handlerOpts := []api.HandlerOption{
		api.WithWebsocket(hub.ServeWS, hub.Len),
		api.WithHealthCheck("postgres", db.Ping),
	}

	// 5. Hot cache (volitelná). Bez ní nefunguje jen /latest a /parking.
	if cfg.Store.ValkeyAddr != "" {
		valkey, err := cache.NewValkey(ctx, cfg.Store.ValkeyAddr)
		if err != nil {
			logger.Warn("Valkey nedostupný, běžím bez hot cache", "error", err)
		} else {
			defer valkey.Close()
			ingestOpts = append(ingestOpts, ingest.WithCache(valkey))
			handlerOpts = append(handlerOpts,
				api.WithLatest(valkey),
				api.WithHealthCheck("valkey", valkey.Ping),
			)
		}
	}

	// 6. Ingestion služba a echo server
	svc := ingest.NewService(db, hub, logger, ingestOpts...)
	e := api.NewServer(api.NewHandler(svc, db, logger, handlerOpts...), reg, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(":" + cfg.Store.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("HTTP API běží", "port", cfg.Store.HTTPPort)

	// 7. Graceful shutdown (SIGINT/SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Vypínám službu...")
	// Websocket klienty odpojíme dřív, Shutdown na hijacknutá spojení nečeká.
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
