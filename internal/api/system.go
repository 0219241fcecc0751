package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/harborr/harborr/internal/auth"
	"github.com/harborr/harborr/internal/media"
)

// handleListTasks returns both the recurring background jobs and the
// pending one-shot scheduled tasks.
func (s *Server) handleListTasks(c echo.Context) error {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	pending, err := s.tasks.Pending(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"jobs":    s.sched.ListTasks(),
		"pending": pending,
	})
}

// handleRunTask triggers a recurring job out of schedule.
func (s *Server) handleRunTask(c echo.Context) error {
	if err := s.sched.RunNow(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "triggered"})
}

// handleCalendar lists upcoming releases, soonest first.
func (s *Server) handleCalendar(c echo.Context) error {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	now := time.Now()
	episodes, err := s.store.Upcoming(ctx, media.TypeEpisode, now)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	movies, err := s.store.Upcoming(ctx, media.TypeMovie, now)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"episodes": episodes,
		"movies":   movies,
	})
}

// handleQueue exposes the event engine's queued and running work.
func (s *Server) handleQueue(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"queued":  s.manager.QueueSnapshot(),
		"running": s.manager.RunningItems(),
	})
}

func (s *Server) handleVFSFiles(c echo.Context) error {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	entries, err := s.vfs.List(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if entries == nil {
		entries = []media.FilesystemEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

// handleVFSRead serves a byte range of a library file through the chunk
// cache: ?entry=<id>&offset=<n>&length=<n>.
func (s *Server) handleVFSRead(c echo.Context) error {
	entryID, err := strconv.ParseInt(c.QueryParam("entry"), 10, 64)
	if err != nil || entryID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid entry id")
	}
	offset, err := strconv.ParseInt(c.QueryParam("offset"), 10, 64)
	if err != nil || offset < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
	}
	length, err := strconv.Atoi(c.QueryParam("length"))
	if err != nil || length <= 0 || length > 8<<20 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid length")
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	data, err := s.vfs.ReadAt(ctx, entryID, offset, length)
	if err != nil {
		if err == media.ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "entry not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) handleLogs(c echo.Context) error {
	return c.JSON(http.StatusOK, s.logs.RecentLogs())
}

type tokenRequest struct {
	APIKey string `json:"api_key"`
}

// handleToken exchanges the API key for a short-lived JWT. This is the
// only unauthenticated API endpoint besides /health and /metrics.
func (s *Server) handleToken(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.auth.ValidateAPIKey(req.APIKey); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid API key")
	}

	token, err := s.auth.GenerateToken()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

// handleGenerateAPIKey rotates the API key and persists it to settings.
// Existing JWTs stay valid until expiry.
func (s *Server) handleGenerateAPIKey(c echo.Context) error {
	key, err := auth.GenerateAPIKey()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	s.auth.SetAPIKey(key)
	if err := s.settings.Set("auth.api_key", key); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := s.settings.Save(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"api_key": key})
}

// handleBackup writes a consistent snapshot of the database next to the
// live file, under backups/. The snapshot is safe to take while serving.
func (s *Server) handleBackup(c echo.Context) error {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	dest := filepath.Join(filepath.Dir(s.db.Path()), "backups",
		fmt.Sprintf("harborr-%s.db", time.Now().Format("20060102-150405")))
	if err := s.db.Snapshot(ctx, dest); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	s.logger.Info().Str("path", dest).Msg("database snapshot written")
	return c.JSON(http.StatusOK, map[string]string{"path": dest})
}

func (s *Server) handleRestart(c echo.Context) error {
	s.logger.Info().Msg("restart requested")
	go s.shutdown(true)
	return c.JSON(http.StatusOK, map[string]string{"status": "restarting"})
}

func (s *Server) handleStop(c echo.Context) error {
	s.logger.Info().Msg("stop requested")
	go s.shutdown(false)
	return c.JSON(http.StatusOK, map[string]string{"status": "stopping"})
}
