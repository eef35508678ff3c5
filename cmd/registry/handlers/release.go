package handlers

import (
	"errors"
	"net/http"

	"github.com/ModelOps-Data-and-Analytics/agentops/cmd/registry/service"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/repository"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ReleaseHandler handles release pointer and promotion queries
type ReleaseHandler struct {
	releases *service.ReleaseService
}

// NewReleaseHandler creates a new release handler
func NewReleaseHandler(releases *service.ReleaseService) *ReleaseHandler {
	return &ReleaseHandler{releases: releases}
}

// GetRelease retrieves a release pointer
// GET /api/v1/releases/:name
func (h *ReleaseHandler) GetRelease(c echo.Context) error {
	release, err := h.releases.Get(c.Request().Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, release)
}

// GetReleaseHistory retrieves the release's move history
// GET /api/v1/releases/:name/history?limit=50
func (h *ReleaseHandler) GetReleaseHistory(c echo.Context) error {
	history, err := h.releases.History(c.Request().Context(), c.Param("name"), intQueryParam(c, "limit"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"history": history})
}

// ListPromotions lists recent promotion runs
// GET /api/v1/promotions?limit=50
func (h *ReleaseHandler) ListPromotions(c echo.Context) error {
	promotions, err := h.releases.Promotions(c.Request().Context(), intQueryParam(c, "limit"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"promotions": promotions})
}

// GetPromotion retrieves one promotion run
// GET /api/v1/promotions/:id
func (h *ReleaseHandler) GetPromotion(c echo.Context) error {
	promotionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid promotion id")
	}

	promotion, err := h.releases.Promotion(c.Request().Context(), promotionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, promotion)
}
