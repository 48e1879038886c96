//go:build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"road-telemetry/internal/telemetry"
)

func startPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "user",
				"POSTGRES_PASSWORD": "pass",
				"POSTGRES_DB":       "test_db",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	url := fmt.Sprintf("postgres://user:pass@%s:%s/test_db?sslmode=disable", host, port.Port())
	s, err := NewPostgresStore(ctx, url)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(ctx))
	return s
}

func record(state string, z float64) telemetry.ValidatedRecord {
	return telemetry.ValidatedRecord{
		RoadState:     state,
		Accelerometer: telemetry.AccelerometerSample{X: 1, Y: 2, Z: z},
		Gps:           telemetry.GpsSample{Latitude: 50.45, Longitude: 30.52},
		Timestamp:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestInsertBatchAssignsIncreasingIDs(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	batch := []telemetry.ValidatedRecord{record("normal", 1), record("bump", 2), record("pothole", 3)}
	inserted, err := s.InsertBatch(ctx, batch)
	require.NoError(t, err)
	require.Len(t, inserted, 3)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := range all {
		assert.Equal(t, batch[i].RoadState, all[i].RoadState)
		assert.Equal(t, inserted[i].ID, all[i].ID)
		if i > 0 {
			assert.Greater(t, all[i].ID, all[i-1].ID)
		}
	}
}

func TestInsertBatchIsAtomic(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	// NUL bajt Postgres v TEXT odmítne -> druhý insert selže uprostřed transakce.
	batch := []telemetry.ValidatedRecord{record("normal", 1), record("bad\x00state", 2), record("normal", 3)}
	_, err := s.InsertBatch(ctx, batch)
	require.ErrorIs(t, err, ErrPersistence)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCRUDAndNotFound(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	inserted, err := s.InsertBatch(ctx, []telemetry.ValidatedRecord{record("normal", 1)})
	require.NoError(t, err)
	id := inserted[0].ID

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "normal", got.RoadState)

	updated, err := s.Update(ctx, id, record("pothole", 9))
	require.NoError(t, err)
	assert.Equal(t, "pothole", updated.RoadState)
	assert.Equal(t, 9.0, updated.Z)

	deleted, err := s.Delete(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, deleted.ID)

	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Update(ctx, id, record("normal", 1))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Delete(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}
