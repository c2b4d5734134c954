// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocr-scanner/scanner/internal/preview"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Controller      Controller
	Previews        preview.Store
	Logger          *slog.Logger
	Version         string
	ServiceEndpoint string

	// Gatherer enables GET /metrics when set.
	Gatherer prometheus.Gatherer

	WebSocketMaxMessageKB int
}

// Handlers holds all handler instances
type Handlers struct {
	Health  HealthHandler
	State   StateHandler
	Preview PreviewHandler
	Stream  StreamHandler

	metrics http.Handler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handlers{
		Health:  NewHealthHandler(deps.Version, deps.ServiceEndpoint),
		State:   NewStateHandler(deps.Controller, logger),
		Preview: NewPreviewHandler(deps.Previews),
		Stream:  NewWebSocketHandler(deps.Controller, logger, deps.WebSocketMaxMessageKB),
	}
	if deps.Gatherer != nil {
		h.metrics = promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})
	}
	return h
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Upload controller
	apiGroup.GET("/state", handlers.State.HandleGetState)
	apiGroup.POST("/select", handlers.State.HandleSelect)
	apiGroup.POST("/scan", handlers.State.HandleScan)
	apiGroup.POST("/copy", handlers.State.HandleCopy)

	// WebSocket state stream
	apiGroup.GET("/ws/state", handlers.Stream.HandleStateStream)

	// Live previews
	e.GET(preview.DefaultURLPrefix+":id", handlers.Preview.HandleGetPreview)

	if handlers.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(handlers.metrics))
	}
}

// MiddlewareConfig selects the common middleware
type MiddlewareConfig struct {
	Logger               *slog.Logger
	EnableRequestLogging bool
	EnableCORS           bool
	AllowOrigins         []string
	BodyLimit            string
	ShowErrorDetails     bool
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Use custom error handler
	e.HTTPErrorHandler = NewErrorHandler(logger, cfg.ShowErrorDetails)

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/api/health" ||
				path == "/metrics" ||
				strings.HasPrefix(path, preview.DefaultURLPrefix)
		},
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(c.Request().Context(), level, "request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			)
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	if cfg.EnableCORS {
		origins := cfg.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}
