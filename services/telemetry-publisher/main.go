// telemetry-publisher přehrává nahraný dataset (CSV) jako živý proud do MQTT.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"road-telemetry/internal/broker"
	"road-telemetry/internal/config"
	"road-telemetry/internal/health"
	"road-telemetry/internal/logging"
	"road-telemetry/internal/metrics"
	"road-telemetry/internal/publisher"
	"road-telemetry/internal/source"
)

const serviceName = "telemetry-publisher"

func main() {
	if err := run(); err != nil {
		slog.Error("Služba skončila s chybou", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Načtení konfigurace (default -> CONFIG_FILE -> ENV)
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 2. Dočasný logger. Dokud nejsme připojeni k MQTT, logujeme jen lokálně
	// (slepice-vejce: MQTT writer potřebuje spojení, připojení chce logovat).
	bootLogger, bootCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	slog.SetDefault(bootLogger)

	// Ctrl+C / docker stop zruší context, všechny smyčky na něj reagují.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootLogger.Info("Startuji Telemetry Publisher", "broker", cfg.MQTT.BrokerURL(), "data_dir", cfg.Publisher.DataDir)

	// 3. Otevření CSV souborů. Chybějící soubor = konec, bez dat nemá smysl běžet.
	src := source.New(source.Paths{
		Accelerometer: filepath.Join(cfg.Publisher.DataDir, "accelerometer.csv"),
		Gps:           filepath.Join(cfg.Publisher.DataDir, "gps.csv"),
		Parking:       filepath.Join(cfg.Publisher.DataDir, "parking.csv"),
	}, cfg.Publisher.UserID, source.WithLogger(bootLogger))
	if err := src.Open(); err != nil {
		return err
	}
	defer src.Close()

	// 4. Připojení k brokeru. Blokuje, dokud broker nenaběhne.
	connector := broker.NewConnector(broker.Options{
		Broker:        cfg.MQTT.BrokerURL(),
		ClientID:      cfg.MQTT.ClientID + "-publisher",
		RetryInterval: cfg.MQTT.RetryInterval,
	}, bootLogger)

	conn, err := connector.Connect(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	defer conn.Close()

	// 5. Plnohodnotný logger: stdout + soubor + MQTT (MultiWriter).
	// Od teď jdou logy i do MQTT (logs/telemetry-publisher) pro log-collector.
	_ = bootCloser.Close()
	logger, closer, err := logging.New(cfg.Logging, broker.NewLogWriter(conn, cfg.MQTT.LogTopic, serviceName))
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(logger)

	// 6. Publisher s metrikami
	reg := metrics.NewRegistry()
	pub := publisher.New(src, conn, publisher.Config{
		Topic:        cfg.MQTT.Topic,
		ParkingTopic: cfg.MQTT.ParkingTopic,
		Period:       cfg.Publisher.Delay,
	}, logger, metrics.NewPublisher(reg))

	checks := map[string]health.Check{
		"mqtt": func(context.Context) error {
			if !conn.IsConnected() {
				return errors.New("mqtt odpojeno")
			}
			return nil
		},
	}

	// 7. Publikační smyčka a healthcheck server. Skončí-li jeden, zruší se i druhý.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pub.Run(gctx) })
	g.Go(func() error {
		return health.Run(gctx, cfg.Publisher.HTTPPort, health.Handler(checks, reg, logger), logger)
	})

	// 8. Graceful shutdown: čekáme na signál nebo na fatální chybu zdroje.
	// Pak proběhnou defery (disconnect MQTT, zavření souborů).
	err = g.Wait()
	logger.Info("Vypínám službu...")
	return err
}
