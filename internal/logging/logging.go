// Package logging skládá slog logger služby: JSON na stdout, volitelně
// rotovaný soubor (lumberjack) a další výstupy, např. MQTT.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"road-telemetry/internal/config"
)

// Limity rotace souboru s logy.
const (
	maxSizeMB  = 50
	maxBackups = 5
	maxAgeDays = 14
)

// New vytvoří JSON logger podle konfigurace. Extra writery (MQTT) se přidají přes io.MultiWriter.
// Vrácený Closer zavře souborový výstup, volat při ukončení služby.
func New(cfg config.LoggingConfig, extra ...io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	writers := []io.Writer{os.Stdout}
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		file := NewRotatingFile(cfg.File)
		writers = append(writers, file)
		closer = file
	}
	writers = append(writers, extra...)

	var out io.Writer = os.Stdout
	if len(writers) > 1 {
		out = io.MultiWriter(writers...)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler), closer, nil
}

// NewRotatingFile vrací zapisovač do souboru s rotací podle velikosti.
func NewRotatingFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
