package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"road-telemetry/internal/config"
)

func TestNewWritesJSONToExtraWriterAndFile(t *testing.T) {
	dir := t.TempDir()
	var mqtt bytes.Buffer

	logger, closer, err := New(config.LoggingConfig{
		Level: "warn",
		File:  filepath.Join(dir, "service.log"),
	}, &mqtt)
	require.NoError(t, err)

	logger.Info("nezobrazí se")
	logger.Warn("broker nedostupný", "attempt", 2)
	require.NoError(t, closer.Close())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(mqtt.Bytes(), &entry))
	assert.Equal(t, "broker nedostupný", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, float64(2), entry["attempt"])

	data, err := os.ReadFile(filepath.Join(dir, "service.log"))
	require.NoError(t, err)
	assert.Equal(t, mqtt.String(), string(data))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, _, err := New(config.LoggingConfig{Level: "chatty"})
	assert.Error(t, err)
}

func TestCollectorAppendsPerService(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(dir)

	require.NoError(t, c.Handle("logs/telemetry-publisher", []byte(`{"msg":"a"}`)))
	require.NoError(t, c.Handle("logs/telemetry-publisher", []byte("{\"msg\":\"b\"}\n")))
	require.NoError(t, c.Handle("logs/telemetry-hub/info", []byte(`{"msg":"c"}`)))
	require.NoError(t, c.Close())

	pub, err := os.ReadFile(filepath.Join(dir, "telemetry-publisher.log"))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"msg":"a"}`, `{"msg":"b"}`}, strings.Split(strings.TrimSpace(string(pub)), "\n"))

	hub, err := os.ReadFile(filepath.Join(dir, "telemetry-hub.log"))
	require.NoError(t, err)
	assert.Equal(t, "{\"msg\":\"c\"}\n", string(hub))
}

func TestCollectorRejectsBadTopics(t *testing.T) {
	c := NewCollector(t.TempDir())
	defer c.Close()

	for _, topic := range []string{"logs", "logs/", "logs/..", `logs/a\b`} {
		assert.ErrorIs(t, c.Handle(topic, []byte("x")), ErrBadTopic, topic)
	}
}
