package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"road-telemetry/internal/broadcast"
	"road-telemetry/internal/ingest"
	"road-telemetry/internal/telemetry"
	memstore "road-telemetry/internal/testutil"
)

// POST dávky přes echo se rozešle klientům připojeným na /ws/.
// Odpojený klient nemá vliv na odpověď API.
func TestIngestPushesToWebsocketClients(t *testing.T) {
	hub := broadcast.NewHub(discardLogger(), broadcast.WithWriteTimeout(time.Second))
	defer hub.Close()

	st := memstore.NewMemoryStore()
	svc := ingest.NewService(st, hub, discardLogger())
	h := NewHandler(svc, st, discardLogger(), WithWebsocket(hub.ServeWS, hub.Len))
	srv := httptest.NewServer(NewServer(h, nil, discardLogger()))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/"
	live, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer live.Close()
	gone, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.Len() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, gone.Close())

	body := "[" + item("normal", 16500, "2024-03-01T12:00:00Z") + "," +
		item("pothole", 20000, "2024-03-01T12:00:01Z") + "]"
	resp, err := http.Post(srv.URL+"/processed_agent_data/", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out IngestResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, IngestResponse{Status: "ok", Inserted: 2}, out)

	require.NoError(t, live.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := live.ReadMessage()
	require.NoError(t, err)

	var rows []telemetry.PersistedRecord
	require.NoError(t, json.Unmarshal(msg, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "normal", rows[0].RoadState)
	assert.Equal(t, "pothole", rows[1].RoadState)
	assert.Less(t, rows[0].ID, rows[1].ID)

	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
}
