package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"road-telemetry/internal/cache"
	"road-telemetry/internal/ingest"
	"road-telemetry/internal/metrics"
	"road-telemetry/internal/telemetry"
	memstore "road-telemetry/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLatest struct {
	rec     *telemetry.PersistedRecord
	parking map[int64]telemetry.AggregatedParking
}

func (f *fakeLatest) LatestRecord(context.Context) (telemetry.PersistedRecord, error) {
	if f.rec == nil {
		return telemetry.PersistedRecord{}, cache.ErrMiss
	}
	return *f.rec, nil
}

func (f *fakeLatest) LatestParking(_ context.Context, userID int64) (telemetry.AggregatedParking, error) {
	p, ok := f.parking[userID]
	if !ok {
		return p, cache.ErrMiss
	}
	return p, nil
}

type testServer struct {
	e     *echo.Echo
	store *memstore.MemoryStore
}

func newTestServer(t *testing.T, opts ...HandlerOption) *testServer {
	t.Helper()
	st := memstore.NewMemoryStore()
	svc := ingest.NewService(st, nil, discardLogger())
	h := NewHandler(svc, st, discardLogger(), opts...)
	return &testServer{e: NewServer(h, metrics.NewRegistry(), discardLogger()), store: st}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func item(state string, z float64, ts string) string {
	return fmt.Sprintf(`{"road_state":%q,"agent_data":{"accelerometer":{"x":1,"y":2,"z":%g},`+
		`"gps":{"latitude":50.45,"longitude":30.52},"timestamp":%q}}`, state, z, ts)
}

func TestIngestAndList(t *testing.T) {
	s := newTestServer(t)

	body := "[" + strings.Join([]string{
		item("normal", 16500, "2024-03-01T12:00:00Z"),
		item("bump", 17000, "2024-03-01T12:00:01.5"),
		item("pothole", 20000, "2024-03-01 12:00:02"),
	}, ",") + "]"

	rec := s.do(http.MethodPost, "/processed_agent_data/", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"ok","inserted":3}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/processed_agent_data/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []telemetry.PersistedRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"normal", "bump", "pothole"},
		[]string{rows[0].RoadState, rows[1].RoadState, rows[2].RoadState})
	assert.Less(t, rows[0].ID, rows[1].ID)
	assert.Less(t, rows[1].ID, rows[2].ID)
	assert.True(t, rows[1].Timestamp.Equal(time.Date(2024, 3, 1, 12, 0, 1, 500_000_000, time.UTC)))
}

func TestIngestEmptyArray(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/processed_agent_data/", "[]")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","inserted":0}`, rec.Body.String())
}

func TestIngestRejectsInvalidPayload(t *testing.T) {
	cases := map[string]string{
		"bad timestamp":   "[" + item("normal", 1, "yesterday") + "]",
		"missing gps":     `[{"road_state":"normal","agent_data":{"accelerometer":{"x":1,"y":2,"z":3},"timestamp":"2024-03-01T12:00:00Z"}}]`,
		"string as float": `[{"road_state":"normal","agent_data":{"accelerometer":{"x":"a","y":2,"z":3},"gps":{"latitude":1,"longitude":2},"timestamp":"2024-03-01T12:00:00Z"}}]`,
		"not an array":    item("normal", 1, "2024-03-01T12:00:00Z"),
		"not json":        "{",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(http.MethodPost, "/processed_agent_data/", body)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"VALIDATION_ERROR"`)
			assert.Zero(t, s.store.Len())
		})
	}
}

func TestIngestPersistenceFailure(t *testing.T) {
	s := newTestServer(t)
	s.store.FailAt = 2

	body := "[" + item("normal", 1, "2024-03-01T12:00:00Z") + "," + item("bump", 2, "2024-03-01T12:00:01Z") + "]"
	rec := s.do(http.MethodPost, "/processed_agent_data/", body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, s.store.Len())
}

func TestGetUpdateDelete(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/processed_agent_data/", "["+item("normal", 1, "2024-03-01T12:00:00Z")+"]")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/processed_agent_data/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"road_state":"normal"`)

	rec = s.do(http.MethodPut, "/processed_agent_data/1", item("pothole", 9, "2024-03-02T08:00:00Z"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated telemetry.PersistedRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, int64(1), updated.ID)
	assert.Equal(t, "pothole", updated.RoadState)
	assert.Equal(t, 9.0, updated.Z)

	rec = s.do(http.MethodPut, "/processed_agent_data/1", item("pothole", 9, "bad"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodDelete, "/processed_agent_data/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":1`)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec = s.do(method, "/processed_agent_data/1", "")
		assert.Equal(t, http.StatusNotFound, rec.Code, method)
	}
	rec = s.do(http.MethodPut, "/processed_agent_data/1", item("normal", 1, "2024-03-01T12:00:00Z"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/processed_agent_data/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestAndParking(t *testing.T) {
	latest := &fakeLatest{parking: map[int64]telemetry.AggregatedParking{
		7: {Parking: telemetry.ParkingSample{EmptyCount: 12}, UserID: 7},
	}}
	s := newTestServer(t, WithLatest(latest))

	rec := s.do(http.MethodGet, "/processed_agent_data/latest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	latest.rec = &telemetry.PersistedRecord{ID: 5, RoadState: "bump"}
	rec = s.do(http.MethodGet, "/processed_agent_data/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":5`)

	rec = s.do(http.MethodGet, "/parking/7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"empty_count":12`)

	rec = s.do(http.MethodGet, "/parking/8", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	e := echo.New()
	h := NewHandler(nil, memstore.NewMemoryStore(), discardLogger(),
		WithHealthCheck("postgres", func(context.Context) error { return nil }),
		WithHealthCheck("valkey", func(context.Context) error { return errors.New("connection refused") }),
	)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if assert.NoError(t, h.HandleHealth(c)) {
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "ok", resp.Checks["postgres"])
		assert.Equal(t, "connection refused", resp.Checks["valkey"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
