package handlers

import (
	"errors"
	"net/http"

	"github.com/ModelOps-Data-and-Analytics/agentops/cmd/registry/service"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/models"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/repository"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// BuildHandler handles build run requests
type BuildHandler struct {
	builds *service.BuildService
}

// NewBuildHandler creates a new build handler
func NewBuildHandler(builds *service.BuildService) *BuildHandler {
	return &BuildHandler{builds: builds}
}

// TriggerBuild starts a new build run
// POST /api/v1/builds
func (h *BuildHandler) TriggerBuild(c echo.Context) error {
	var req service.TriggerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	run, err := h.builds.Trigger(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrTriggerDisabled) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		if verr := req.Validate(); verr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusCreated, run)
}

// PushHook starts a build run from a source-change webhook
// POST /api/v1/hooks/push
func (h *BuildHandler) PushHook(c echo.Context) error {
	var payload struct {
		PipelineName string `json:"pipeline_name"`
		AgentName    string `json:"agent_name"`
		Ref          string `json:"ref,omitempty"`
		Pusher       string `json:"pusher,omitempty"`
	}
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid webhook payload")
	}

	req := service.TriggerRequest{
		PipelineName: payload.PipelineName,
		AgentName:    payload.AgentName,
		Trigger:      models.TriggerPush,
		SubmittedBy:  payload.Pusher,
	}

	run, err := h.builds.Trigger(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrTriggerDisabled) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		if verr := req.Validate(); verr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusCreated, run)
}

// GetBuild retrieves a build run with its stage log
// GET /api/v1/builds/:id
func (h *BuildHandler) GetBuild(c echo.Context) error {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid run id")
	}

	run, err := h.builds.Get(c.Request().Context(), runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, run)
}

// ListBuilds lists recent build runs
// GET /api/v1/builds?limit=50
func (h *BuildHandler) ListBuilds(c echo.Context) error {
	runs, err := h.builds.List(c.Request().Context(), intQueryParam(c, "limit"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"builds": runs})
}

// CancelBuild requests cooperative cancellation of a run
// POST /api/v1/builds/:id/cancel
func (h *BuildHandler) CancelBuild(c echo.Context) error {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid run id")
	}

	accepted, err := h.builds.Cancel(c.Request().Context(), runID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !accepted {
		return echo.NewHTTPError(http.StatusConflict, "run is already terminal")
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"run_id":           runID,
		"cancel_requested": true,
	})
}
