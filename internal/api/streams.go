package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/harborr/harborr/internal/media"
)

func (s *Server) handleListStreams(c echo.Context) error {
	return s.listStreams(c, s.store.StreamsFor)
}

func (s *Server) handleListBlacklisted(c echo.Context) error {
	return s.listStreams(c, s.store.BlacklistedStreamsFor)
}

func (s *Server) listStreams(c echo.Context, query func(ctx context.Context, itemID int64) ([]media.Stream, error)) error {
	id, err := itemID(c)
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	streams, err := query(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if streams == nil {
		streams = []media.Stream{}
	}
	return c.JSON(http.StatusOK, streams)
}

func (s *Server) handleBlacklistStream(c echo.Context) error {
	return s.setStreamBlacklist(c, s.store.BlacklistStream)
}

func (s *Server) handleUnblacklistStream(c echo.Context) error {
	return s.setStreamBlacklist(c, s.store.UnblacklistStream)
}

func (s *Server) setStreamBlacklist(c echo.Context, op func(ctx context.Context, itemID, streamID int64) error) error {
	id, err := itemID(c)
	if err != nil {
		return err
	}
	streamID, err := strconv.ParseInt(c.Param("streamId"), 10, 64)
	if err != nil || streamID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid stream id")
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := op(ctx, id, streamID); err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "stream not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// handleResetStreams drops every stream association, blacklisted ones
// included, so the next scrape starts clean.
func (s *Server) handleResetStreams(c echo.Context) error {
	id, err := itemID(c)
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.store.ResetStreams(ctx, id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
