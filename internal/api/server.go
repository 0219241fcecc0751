// Package api is the admin HTTP surface: item operations, stream curation,
// settings, scheduled tasks and the VFS listing.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/harborr/harborr/internal/auth"
	"github.com/harborr/harborr/internal/config"
	"github.com/harborr/harborr/internal/database"
	"github.com/harborr/harborr/internal/events"
	"github.com/harborr/harborr/internal/logger"
	"github.com/harborr/harborr/internal/media"
	"github.com/harborr/harborr/internal/metrics"
	"github.com/harborr/harborr/internal/schedule"
	"github.com/harborr/harborr/internal/scheduler"
	"github.com/harborr/harborr/internal/vfs"
	"github.com/harborr/harborr/internal/websocket"
)

// Server handles HTTP requests for the Harborr API.
type Server struct {
	echo   *echo.Echo
	logger zerolog.Logger

	db       *database.DB
	store    *media.Store
	tasks    *schedule.Store
	manager  *events.Manager
	sched    *scheduler.Scheduler
	reindex  scheduler.Reindexer
	settings *config.Settings
	vfs      *vfs.Service
	auth     *auth.Service
	hub      *websocket.Hub
	logs     *logger.Logger
	metrics  *metrics.Metrics

	// shutdown asks the process to stop; restart selects exec-and-replace.
	shutdown func(restart bool)
}

// Deps carries everything the server needs.
type Deps struct {
	DB       *database.DB
	Store    *media.Store
	Tasks    *schedule.Store
	Manager  *events.Manager
	Sched    *scheduler.Scheduler
	Reindex  scheduler.Reindexer
	Settings *config.Settings
	VFS      *vfs.Service
	Auth     *auth.Service
	Hub      *websocket.Hub
	Logs     *logger.Logger
	Metrics  *metrics.Metrics
	Shutdown func(restart bool)
}

// NewServer creates the API server and registers all routes.
func NewServer(deps Deps, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		logger:   log.With().Str("component", "api").Logger(),
		db:       deps.DB,
		store:    deps.Store,
		tasks:    deps.Tasks,
		manager:  deps.Manager,
		sched:    deps.Sched,
		reindex:  deps.Reindex,
		settings: deps.Settings,
		vfs:      deps.VFS,
		auth:     deps.Auth,
		hub:      deps.Hub,
		logs:     deps.Logs,
		metrics:  deps.Metrics,
		shutdown: deps.Shutdown,
	}
	s.registerRoutes()
	return s
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("API server starting")
	err := s.echo.Start(address)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// authMiddleware accepts either the API key header or a Bearer JWT.
func (s *Server) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if key := c.Request().Header.Get("X-Api-Key"); key != "" {
			if err := s.auth.ValidateAPIKey(key); err == nil {
				return next(c)
			}
		}
		header := c.Request().Header.Get("Authorization")
		if len(header) > 7 && header[:7] == "Bearer " {
			if _, err := s.auth.ValidateToken(header[7:]); err == nil {
				return next(c)
			}
		}
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(
		s.metrics.Registry, promhttp.HandlerOpts{})))
	s.echo.POST("/api/v1/auth/token", s.handleToken)

	api := s.echo.Group("/api/v1", s.authMiddleware)

	api.GET("/ws", s.hub.HandleWebSocket)

	api.POST("/items", s.handleAddItem)
	api.GET("/items/:id", s.handleGetItem)
	api.DELETE("/items/:id", s.handleRemoveItem)
	api.POST("/items/:id/reset", s.handleResetItem)
	api.POST("/items/:id/retry", s.handleRetryItem)
	api.POST("/items/:id/pause", s.handlePauseItem)
	api.POST("/items/:id/unpause", s.handleUnpauseItem)
	api.POST("/items/:id/reindex", s.handleReindexItem)

	api.GET("/items/:id/streams", s.handleListStreams)
	api.GET("/items/:id/streams/blacklisted", s.handleListBlacklisted)
	api.POST("/items/:id/streams/:streamId/blacklist", s.handleBlacklistStream)
	api.POST("/items/:id/streams/:streamId/unblacklist", s.handleUnblacklistStream)
	api.POST("/items/:id/streams/reset", s.handleResetStreams)

	api.GET("/settings", s.handleAllSettings)
	api.GET("/settings/:key", s.handleGetSetting)
	api.PUT("/settings/:key", s.handleSetSetting)
	api.POST("/settings/load", s.handleLoadSettings)
	api.POST("/settings/save", s.handleSaveSettings)

	api.GET("/tasks", s.handleListTasks)
	api.POST("/tasks/:id/run", s.handleRunTask)
	api.GET("/calendar", s.handleCalendar)
	api.GET("/queue", s.handleQueue)

	api.GET("/vfs/files", s.handleVFSFiles)
	api.GET("/vfs/read", s.handleVFSRead)

	api.GET("/logs", s.handleLogs)
	api.POST("/auth/apikey", s.handleGenerateAPIKey)

	api.POST("/system/backup", s.handleBackup)
	api.POST("/system/restart", s.handleRestart)
	api.POST("/system/stop", s.handleStop)
}

// requestTimeout bounds handler-side store calls.
const requestTimeout = 30 * time.Second

func (s *Server) requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}
