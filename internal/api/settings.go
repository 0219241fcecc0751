package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleAllSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, s.settings.All())
}

func (s *Server) handleGetSetting(c echo.Context) error {
	key := c.Param("key")
	value := s.settings.Get(key)
	if value == nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown setting")
	}
	return c.JSON(http.StatusOK, map[string]any{"key": key, "value": value})
}

type setSettingRequest struct {
	Value any `json:"value"`
}

func (s *Server) handleSetSetting(c echo.Context) error {
	var req setSettingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	key := c.Param("key")
	if err := s.settings.Set(key, req.Value); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"key": key, "value": s.settings.Get(key)})
}

func (s *Server) handleLoadSettings(c echo.Context) error {
	if err := s.settings.Load(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s.settings.All())
}

func (s *Server) handleSaveSettings(c echo.Context) error {
	if err := s.settings.Save(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
