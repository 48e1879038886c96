// Package api je HTTP vrstva telemetry-store: ingestion dávek, CRUD nad
// processed_agent_data, poslední hodnoty z cache, websocket a health.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"road-telemetry/internal/cache"
	"road-telemetry/internal/store"
	"road-telemetry/internal/sysstats"
	"road-telemetry/internal/telemetry"
)

// Ingester uloží dávku (ingest.Service).
type Ingester interface {
	Ingest(ctx context.Context, batch []telemetry.ValidatedRecord) (int, error)
}

// LatestReader čte poslední hodnoty z hot cache.
type LatestReader interface {
	LatestRecord(ctx context.Context) (telemetry.PersistedRecord, error)
	LatestParking(ctx context.Context, userID int64) (telemetry.AggregatedParking, error)
}

// HealthCheck ověří jednu závislost (DB, cache).
type HealthCheck func(ctx context.Context) error

// IngestResponse je odpověď na POST dávky.
type IngestResponse struct {
	Status   string `json:"status"`
	Inserted int    `json:"inserted"`
}

// HealthResponse je odpověď /health.
type HealthResponse struct {
	Status      string            `json:"status"`
	Checks      map[string]string `json:"checks"`
	Subscribers int               `json:"subscribers"`
	System      sysstats.Snapshot `json:"system"`
}

// Handler drží závislosti všech endpointů.
type Handler struct {
	ingester Ingester
	store    store.Store
	latest   LatestReader
	ws       http.HandlerFunc
	clients  func() int
	checks   map[string]HealthCheck
	logger   *slog.Logger
}

type HandlerOption func(*Handler)

// WithLatest zapne endpointy nad Valkey cache.
func WithLatest(r LatestReader) HandlerOption {
	return func(h *Handler) { h.latest = r }
}

// WithWebsocket připojí /ws/ handler a počítadlo klientů pro /health.
func WithWebsocket(ws http.HandlerFunc, clients func() int) HandlerOption {
	return func(h *Handler) {
		h.ws = ws
		h.clients = clients
	}
}

// WithHealthCheck přidá kontrolu závislosti do /health.
func WithHealthCheck(name string, check HealthCheck) HandlerOption {
	return func(h *Handler) { h.checks[name] = check }
}

func NewHandler(ingester Ingester, st store.Store, logger *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		ingester: ingester,
		store:    st,
		checks:   make(map[string]HealthCheck),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleIngest: POST /processed_agent_data/
func (h *Handler) HandleIngest(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return NewBadRequestError("tělo požadavku nelze přečíst", err)
	}

	batch, err := DecodeBatch(body)
	if err != nil {
		return NewValidationError(err.Error())
	}

	n, err := h.ingester.Ingest(c.Request().Context(), batch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, IngestResponse{Status: "ok", Inserted: n})
}

// HandleList: GET /processed_agent_data/
func (h *Handler) HandleList(c echo.Context) error {
	records, err := h.store.List(c.Request().Context())
	if err != nil {
		return NewInternalError("načtení záznamů selhalo", err)
	}
	return c.JSON(http.StatusOK, records)
}

// HandleGet: GET /processed_agent_data/:id
func (h *Handler) HandleGet(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	rec, err := h.store.Get(c.Request().Context(), id)
	if err != nil {
		return lookupError(err, id)
	}
	return c.JSON(http.StatusOK, rec)
}

// HandleUpdate: PUT /processed_agent_data/:id
func (h *Handler) HandleUpdate(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return NewBadRequestError("tělo požadavku nelze přečíst", err)
	}
	rec, err := DecodeItem(body)
	if err != nil {
		return NewValidationError(err.Error())
	}

	updated, err := h.store.Update(c.Request().Context(), id, rec)
	if err != nil {
		return lookupError(err, id)
	}
	return c.JSON(http.StatusOK, updated)
}

// HandleDelete: DELETE /processed_agent_data/:id, vrací smazaný řádek.
func (h *Handler) HandleDelete(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	deleted, err := h.store.Delete(c.Request().Context(), id)
	if err != nil {
		return lookupError(err, id)
	}
	return c.JSON(http.StatusOK, deleted)
}

// HandleLatest: GET /processed_agent_data/latest
func (h *Handler) HandleLatest(c echo.Context) error {
	if h.latest == nil {
		return NewNotFoundError("poslední záznam", "cache vypnutá")
	}
	rec, err := h.latest.LatestRecord(c.Request().Context())
	if errors.Is(err, cache.ErrMiss) {
		return NewNotFoundError("poslední záznam", "latest")
	}
	if err != nil {
		return NewInternalError("čtení z cache selhalo", err)
	}
	return c.JSON(http.StatusOK, rec)
}

// HandleParking: GET /parking/:user_id
func (h *Handler) HandleParking(c echo.Context) error {
	userID, err := pathID(c, "user_id")
	if err != nil {
		return err
	}
	if h.latest == nil {
		return NewNotFoundError("parkovací údaj", userID)
	}
	p, err := h.latest.LatestParking(c.Request().Context(), userID)
	if errors.Is(err, cache.ErrMiss) {
		return NewNotFoundError("parkovací údaj", userID)
	}
	if err != nil {
		return NewInternalError("čtení z cache selhalo", err)
	}
	return c.JSON(http.StatusOK, p)
}

// HandleWebsocket: GET /ws/
func (h *Handler) HandleWebsocket(c echo.Context) error {
	if h.ws == nil {
		return echo.ErrNotFound
	}
	h.ws(c.Response(), c.Request())
	return nil
}

// HandleHealth: GET /health. Při selhání některé kontroly vrací 503.
func (h *Handler) HandleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status: "ok",
		Checks: make(map[string]string, len(h.checks)),
		System: sysstats.Collect(ctx, h.logger, ""),
	}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "ok"
	}
	if h.clients != nil {
		resp.Subscribers = h.clients()
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

func pathID(c echo.Context, name string) (int64, error) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, NewBadRequestError("neplatné ID (musí být číslo): "+raw, nil)
	}
	return id, nil
}

func lookupError(err error, id int64) error {
	if errors.Is(err, store.ErrNotFound) {
		return NewNotFoundError("záznam", id)
	}
	return err
}
