package api

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"road-telemetry/internal/metrics"
)

// bodyLimit omezuje velikost jedné dávky.
const bodyLimit = "4M"

// NewServer sestaví echo instanci s middleware a všemi routami.
func NewServer(h *Handler, reg *prometheus.Registry, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler(logger)

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 * 1024,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		Skipper: func(c echo.Context) bool {
			p := c.Path()
			return p == "/health" || p == "/metrics"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("HTTP požadavek", "method", v.Method, "uri", v.URI,
				"status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	e.Use(middleware.BodyLimit(bodyLimit))
	// Dashboard běží na jiném portu, povolíme přístup odkudkoliv.
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	RegisterRoutes(e, h)
	if reg != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler(reg)))
	}
	return e
}

// RegisterRoutes mapuje URL cesty na handlery.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/processed_agent_data")
	g.POST("/", h.HandleIngest)
	g.GET("/", h.HandleList)
	g.GET("/latest", h.HandleLatest)
	g.GET("/:id", h.HandleGet)
	g.PUT("/:id", h.HandleUpdate)
	g.DELETE("/:id", h.HandleDelete)

	e.GET("/parking/:user_id", h.HandleParking)
	e.GET("/ws/", h.HandleWebsocket)
	e.GET("/health", h.HandleHealth)
}
