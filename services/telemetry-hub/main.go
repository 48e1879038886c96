// telemetry-hub odebírá telemetrii z MQTT, určí stav vozovky a posílá dávky
// do telemetry-store. Poslední parkovací údaje drží ve Valkey.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"road-telemetry/internal/broker"
	"road-telemetry/internal/cache"
	"road-telemetry/internal/config"
	"road-telemetry/internal/edge"
	"road-telemetry/internal/health"
	"road-telemetry/internal/logging"
	"road-telemetry/internal/metrics"
)

const (
	serviceName      = "telemetry-hub"
	storeCallTimeout = 5 * time.Second
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

	// 2. Logger (stdout, volitelně soubor s rotací)
	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Startuji Telemetry Hub", "broker", cfg.MQTT.BrokerURL(), "store", cfg.Hub.StoreURL)

	// 3. Metriky a healthchecky
	reg := metrics.NewRegistry()

	// Spojení vzniká až po startu health serveru, check ho čte přes atomic.
	var mqttConn atomic.Pointer[broker.Connection]
	checks := map[string]health.Check{
		"mqtt": func(context.Context) error {
			if c := mqttConn.Load(); c == nil || !c.IsConnected() {
				return errors.New("mqtt odpojeno")
			}
			return nil
		},
	}

	// 4. Hot cache pro parkovací data.
	// Valkey je volitelný: bez něj se parkovací data jen zahodí.
	var parking edge.ParkingCache
	if cfg.Store.ValkeyAddr != "" {
		valkey, err := cache.NewValkey(ctx, cfg.Store.ValkeyAddr)
		if err != nil {
			logger.Warn("Valkey nedostupný, parkovací data se nebudou ukládat", "error", err)
		} else {
			defer valkey.Close()
			parking = valkey
			checks["valkey"] = valkey.Ping
		}
	}

	// 5. Bridge: klasifikace vozovky + dávkování do telemetry-store přes HTTP
	bridge := edge.NewBridge(edge.BridgeConfig{
		BatchSize:     cfg.Hub.BatchSize,
		FlushInterval: cfg.Hub.FlushInterval,
	}, edge.Classifier{
		Baseline:         cfg.Hub.ZBaseline,
		BumpThreshold:    cfg.Hub.BumpThreshold,
		PotholeThreshold: cfg.Hub.PotholeThreshold,
	}, edge.NewStoreClient(cfg.Hub.StoreURL, storeCallTimeout), parking, logger, metrics.NewEdge(reg))

	connector := broker.NewConnector(broker.Options{
		Broker:        cfg.MQTT.BrokerURL(),
		ClientID:      cfg.MQTT.ClientID + "-hub",
		RetryInterval: cfg.MQTT.RetryInterval,
	}, logger)

	// 6. Bridge a healthcheck server na pozadí
	g, gctx := errgroup.WithContext(ctx)
	// Bridge musí běžet dřív, než přijde první zpráva.
	g.Go(func() error { return bridge.Run(gctx) })
	g.Go(func() error {
		return health.Run(gctx, cfg.Hub.HTTPPort, health.Handler(checks, reg, logger), logger)
	})

	// 7. Připojení k brokeru (čeká, dokud broker nenaběhne)
	conn, err := connector.Connect(gctx)
	if err != nil {
		stop()
		_ = g.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	defer conn.Close()
	mqttConn.Store(conn)

	// 8. Subscribe. Handlery běží v goroutinách paho a jen plní frontu bridge.
	if err := conn.Subscribe(gctx, cfg.MQTT.Topic, bridge.HandleTelemetry); err != nil {
		stop()
		_ = g.Wait()
		return err
	}
	if err := conn.Subscribe(gctx, cfg.MQTT.ParkingTopic, bridge.HandleParking); err != nil {
		stop()
		_ = g.Wait()
		return err
	}
	logger.Info("Poslouchám na topicích", "topic", cfg.MQTT.Topic, "parking_topic", cfg.MQTT.ParkingTopic)

	// 9. Graceful shutdown: bridge po zrušení contextu odešle rozpracovanou dávku.
	err = g.Wait()
	logger.Info("Vypínám službu...")
	return err
}
