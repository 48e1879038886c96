// Package broadcast drží množinu živých websocket odběratelů a rozesílá jim
// nově uložené záznamy. Doručení je best-effort: kdo nestihne zápis, je odpojen.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"road-telemetry/internal/metrics"
	"road-telemetry/internal/telemetry"
)

// DefaultWriteTimeout je limit na zápis jedné dávky jednomu klientovi.
const DefaultWriteTimeout = 5 * time.Second

const (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	readLimit  = 4096
)

// Conn je část *websocket.Conn, kterou hub potřebuje pro rozesílání.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type subscriber struct {
	id        string
	conn      Conn
	writeMu   sync.Mutex // gorilla dovoluje jen jednoho zapisovatele najednou
	closeOnce sync.Once
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() { _ = s.conn.Close() })
}

// Hub vlastní registr odběratelů. Všechny změny i iterace jdou přes jeho metody.
type Hub struct {
	mu   sync.RWMutex
	subs map[Conn]*subscriber

	writeTimeout time.Duration
	upgrader     websocket.Upgrader
	logger       *slog.Logger
	metrics      *metrics.Broadcast
}

type Option func(*Hub)

// WithWriteTimeout nastaví limit zápisu na jednoho klienta.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

func WithMetrics(m *metrics.Broadcast) Option {
	return func(h *Hub) { h.metrics = m }
}

func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		subs:         make(map[Conn]*subscriber),
		writeTimeout: DefaultWriteTimeout,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			// Dashboard běží na jiném originu (CORS řeší API vrstva).
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe přidá spojení do registru a vrátí id odběratele.
// Opakované přidání stejného spojení vrátí původní id.
func (h *Hub) Subscribe(conn Conn) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.subs[conn]; ok {
		return s.id
	}
	s := &subscriber{id: uuid.NewString(), conn: conn}
	h.subs[conn] = s
	h.updateGauge()
	h.logger.Info("Klient připojen", "subscriber", s.id, "subscribers", len(h.subs))
	return s.id
}

// Unsubscribe odebere spojení a zavře ho. Odebrání neznámého spojení je no-op.
func (h *Hub) Unsubscribe(conn Conn) {
	h.mu.Lock()
	s, ok := h.subs[conn]
	if ok {
		delete(h.subs, conn)
		h.updateGauge()
	}
	n := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return
	}
	s.close()
	h.logger.Info("Klient odpojen", "subscriber", s.id, "subscribers", n)
}

// Len vrátí aktuální počet odběratelů.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Push rozešle dávku všem aktuálním odběratelům a vrátí počet úspěšných doručení.
// Klient, u kterého zápis selže nebo nestihne limit, je odebrán. Chyby se dál nešíří.
func (h *Hub) Push(ctx context.Context, records []telemetry.PersistedRecord) int {
	if len(records) == 0 {
		return 0
	}
	if err := ctx.Err(); err != nil {
		return 0
	}

	data, err := json.Marshal(records)
	if err != nil {
		h.logger.Error("Dávku nelze serializovat", "error", err)
		return 0
	}

	// Snapshot pod read lockem, zápisy běží bez zámku registru.
	h.mu.RLock()
	snapshot := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	if len(snapshot) == 0 {
		return 0
	}

	start := time.Now()
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for _, s := range snapshot {
		wg.Add(1)
		go func(s *subscriber) {
			defer wg.Done()
			if err := h.deliver(ctx, s, data); err != nil {
				h.logger.Warn("Doručení selhalo, odpojuji klienta", "subscriber", s.id, "error", err)
				if h.metrics != nil {
					h.metrics.Dropped.Inc()
				}
				h.Unsubscribe(s.conn)
				return
			}
			mu.Lock()
			delivered++
			mu.Unlock()
		}(s)
	}
	wg.Wait()

	if h.metrics != nil {
		h.metrics.Deliveries.Add(float64(delivered))
		h.metrics.PushDuration.Observe(time.Since(start).Seconds())
	}
	return delivered
}

func (h *Hub) deliver(ctx context.Context, s *subscriber, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(h.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// ServeWS je HTTP handler pro /ws/. Klient jen poslouchá, co pošle, se zahodí.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade už odpověděl klientovi chybou.
		h.logger.Warn("Websocket upgrade selhal", "remote", r.RemoteAddr, "error", err)
		return
	}

	h.Subscribe(conn)
	defer h.Unsubscribe(conn)

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go h.keepAlive(conn, done)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// keepAlive posílá ping, aby se mrtvá spojení projevila vypršením read deadline.
// WriteControl smí běžet souběžně s WriteMessage.
func (h *Hub) keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		}
	}
}

// Close odpojí všechny klienty (shutdown).
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[Conn]*subscriber)
	h.updateGauge()
	h.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

// updateGauge volat pod h.mu.
func (h *Hub) updateGauge() {
	if h.metrics != nil {
		h.metrics.Subscribers.Set(float64(len(h.subs)))
	}
}
