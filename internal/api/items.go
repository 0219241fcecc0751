package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/harborr/harborr/internal/events"
	"github.com/harborr/harborr/internal/media"
)

type addItemRequest struct {
	Type        string `json:"type"`
	ImdbID      string `json:"imdb_id"`
	TmdbID      string `json:"tmdb_id"`
	TvdbID      string `json:"tvdb_id"`
	RequestedBy string `json:"requested_by"`
}

// handleAddItem accepts an external-id submission and feeds it into the
// event engine as a content event. Resolution against existing library
// items happens inside the manager.
func (s *Server) handleAddItem(c echo.Context) error {
	var req addItemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	typ := media.ItemType(req.Type)
	if typ != media.TypeMovie && typ != media.TypeShow {
		return echo.NewHTTPError(http.StatusBadRequest, "type must be movie or show")
	}
	if req.ImdbID == "" && req.TmdbID == "" && req.TvdbID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one external id is required")
	}

	item := &media.Item{
		Type:        typ,
		LastState:   media.StateRequested,
		RequestedBy: req.RequestedBy,
		RequestedAt: time.Now(),
	}
	if req.ImdbID != "" {
		item.ImdbID = &req.ImdbID
	}
	if req.TmdbID != "" {
		item.TmdbID = &req.TmdbID
	}
	if req.TvdbID != "" {
		item.TvdbID = &req.TvdbID
	}
	if item.RequestedBy == "" {
		item.RequestedBy = "api"
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	accepted, err := s.manager.AddEvent(ctx, events.NewContentEvent(item, events.ServiceManual))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !accepted {
		return c.JSON(http.StatusOK, map[string]any{"accepted": false, "reason": "duplicate"})
	}
	return c.JSON(http.StatusAccepted, map[string]any{"accepted": true})
}

func (s *Server) handleGetItem(c echo.Context) error {
	id, err := itemID(c)
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	item, err := s.store.LoadTree(ctx, id)
	if errors.Is(err, media.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "item not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, item)
}

// handleRemoveItem cancels any in-flight work, drops scheduled tasks and
// deletes the item subtree.
func (s *Server) handleRemoveItem(c echo.Context) error {
	id, err := itemID(c)
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.manager.CancelJob(ctx, id); err != nil {
		s.logger.Warn().Err(err).Int64("item_id", id).Msg("cancel before delete failed")
	}
	if err := s.tasks.CancelForItem(ctx, id); err != nil {
		s.logger.Warn().Err(err).Int64("item_id", id).Msg("task cancellation before delete failed")
	}
	if err := s.store.DeleteCascade(ctx, id); err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "item not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// handleResetItem clears acquisition progress on the subtree and requeues
// it from the top.
func (s *Server) handleResetItem(c echo.Context) error {
	id, err := itemID(c)
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.manager.CancelJob(ctx, id); err != nil {
		s.logger.Warn().Err(err).Int64("item_id", id).Msg("cancel before reset failed")
	}
	if err := s.store.Reset(ctx, id); err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "item not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return s.enqueueManual(c, id)
}

// handleRetryItem requeues the item without touching its progress.
func (s *Server) handleRetryItem(c echo.Context) error {
	id, err := itemID(c)
	if err != nil {
		return err
	}
	return s.enqueueManual(c, id)
}

func (s *Server) handlePauseItem(c echo.Context) error {
	id, err := itemID(c)
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.manager.CancelJob(ctx, id); err != nil {
		s.logger.Warn().Err(err).Int64("item_id", id).Msg("cancel before pause failed")
	}
	if err := s.store.Pause(ctx, id); err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "item not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	s.hub.BroadcastStateChange(id, string(media.StatePaused))
	return c.JSON(http.StatusOK, map[string]string{"state": string(media.StatePaused)})
}

// handleUnpauseItem restores the derived state and requeues unless the
// item came back Completed.
func (s *Server) handleUnpauseItem(c echo.Context) error {
	id, err := itemID(c)
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	state, err := s.store.Unpause(ctx, id)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "item not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	s.hub.BroadcastStateChange(id, string(state))

	if state != media.StateCompleted {
		if _, err := s.manager.AddEvent(ctx, events.NewItemEvent(id, events.ServiceManual, time.Time{}, state)); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"state": string(state)})
}

// handleReindexItem re-runs metadata indexing synchronously.
func (s *Server) handleReindexItem(c echo.Context) error {
	id, err := itemID(c)
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.reindex.ReindexItem(ctx, id); err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "item not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "reindexed"})
}

func (s *Server) enqueueManual(c echo.Context, id int64) error {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	state, _, err := s.store.GetState(ctx, id)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "item not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	accepted, err := s.manager.AddEvent(ctx, events.NewItemEvent(id, events.ServiceManual, time.Time{}, state))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"accepted": accepted})
}

func itemID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid item id")
	}
	return id, nil
}
