// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/mtconnect-agent/backend/internal/config"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Agent   AgentService
	Archive ArchiveReader // nil when the archive is disabled
	Version string
	Logger  *zap.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health  HealthHandler
	Probe   ProbeHandler
	Streams StreamsHandler
	Assets  AssetHandler
	Input   InputHandler
	Archive ArchiveHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		Health:  NewHealthHandler(deps.Version, deps.Agent, deps.Archive),
		Probe:   NewProbeHandler(deps.Agent),
		Streams: NewStreamsHandler(deps.Agent, logger),
		Assets:  NewAssetHandler(deps.Agent),
		Input:   NewInputHandler(deps.Agent),
		Archive: NewArchiveHandler(deps.Agent, deps.Archive),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	// Health check
	e.GET("/health", handlers.Health.HandleHealth)

	// Agent wide documents
	e.GET("/probe", handlers.Probe.HandleProbe)
	e.GET("/current", handlers.Streams.HandleCurrent)
	e.GET("/sample", handlers.Streams.HandleSample)
	e.GET("/sample/stream", handlers.Streams.HandleSampleStream)

	// Assets
	e.GET("/assets", handlers.Assets.HandleGetAssets)
	e.DELETE("/assets", handlers.Assets.HandleDeleteAssets)
	e.GET("/asset/:ids", handlers.Assets.HandleGetAsset)
	e.POST("/asset", handlers.Assets.HandlePostAsset)
	e.DELETE("/asset/:id", handlers.Assets.HandleDeleteAsset)

	// Archive
	e.GET("/archive", handlers.Archive.HandleArchive)

	// Per device documents and input
	deviceGroup := e.Group("/:device")
	deviceGroup.GET("/probe", handlers.Probe.HandleProbe)
	deviceGroup.GET("/current", handlers.Streams.HandleCurrent)
	deviceGroup.GET("/sample", handlers.Streams.HandleSample)
	deviceGroup.GET("/assets", handlers.Assets.HandleGetAssets)
	deviceGroup.POST("/observations", handlers.Input.HandlePostObservations)
}

// SetupMiddleware configures common middleware from the server config
func SetupMiddleware(e *echo.Echo, cfg *config.AppConfig, logger *zap.Logger) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			// Skip logging if disabled in config
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/health" || strings.HasSuffix(path, "/stream")
		},
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize:         1024 * 4,
		DisablePrintStack: false,
	}))

	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		Skipper: func(c echo.Context) bool {
			return strings.HasSuffix(c.Request().URL.Path, "/stream")
		},
		ErrorMessage: "Request timeout - query took too long",
	}))

	// Compression middleware
	if cfg.Server.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level: cfg.Server.CompressionLevel,
			Skipper: func(c echo.Context) bool {
				return strings.HasSuffix(c.Request().URL.Path, "/stream")
			},
		}))
	}

	// Body limit middleware
	if cfg.Server.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))
	}

	// CORS configuration
	if cfg.Server.EnableCORS {
		origins := cfg.Server.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}
