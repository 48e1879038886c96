// log-collector sbírá logy služeb z MQTT (logs/#) a ukládá je do souborů
// <LOG_DIR>/<služba>.log s rotací.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"road-telemetry/internal/broker"
	"road-telemetry/internal/config"
	"road-telemetry/internal/logging"
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

	// 2. Logger.
	// Vlastní logy collectoru jdou jen na stdout, jinak by se posílal sám sobě.
	logger, closer, err := logging.New(config.LoggingConfig{Level: cfg.Logging.Level})
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Startuji Log Collector", "dir", cfg.Logging.Dir)
	// 3. Adresář pro logy (volume v kontejneru)
	if err := os.MkdirAll(cfg.Logging.Dir, 0o755); err != nil {
		return err
	}

	collector := logging.NewCollector(cfg.Logging.Dir)
	defer collector.Close()

	// 4. Připojení k brokeru
	conn, err := broker.NewConnector(broker.Options{
		Broker:        cfg.MQTT.BrokerURL(),
		ClientID:      cfg.MQTT.ClientID + "-log-collector",
		RetryInterval: cfg.MQTT.RetryInterval,
	}, logger).Connect(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	defer conn.Close()

	// 5. Subscribe na logs/#. Každá služba má vlastní soubor.
	topic := cfg.MQTT.LogTopic + "/#"
	err = conn.Subscribe(ctx, topic, func(topic string, payload []byte) {
		if err := collector.Handle(topic, payload); err != nil {
			logger.Error("Chyba při zápisu logu", "topic", topic, "error", err)
		}
	})
	if err != nil {
		return err
	}
	logger.Info("Poslouchám logy", "topic", topic)

	// 6. Blokujeme, dokud nepřijde SIGINT nebo SIGTERM. Pak defery zavřou soubory a MQTT.
	<-ctx.Done()
	logger.Info("Vypínám službu...")
	return nil
}
