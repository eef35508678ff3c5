package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/ModelOps-Data-and-Analytics/agentops/cmd/registry/service"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/approval"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/repository"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ArtifactHandler handles artifact record and approval requests
type ArtifactHandler struct {
	artifacts *service.ArtifactService
}

// NewArtifactHandler creates a new artifact handler
func NewArtifactHandler(artifacts *service.ArtifactService) *ArtifactHandler {
	return &ArtifactHandler{artifacts: artifacts}
}

type approvalRequest struct {
	Approver string `json:"approver"`
}

// GetArtifact retrieves an artifact record
// GET /api/v1/artifacts/:id
func (h *ArtifactHandler) GetArtifact(c echo.Context) error {
	artifactID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid artifact id")
	}

	artifact, err := h.artifacts.Get(c.Request().Context(), artifactID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, artifact)
}

// ListArtifacts lists artifact records
// GET /api/v1/artifacts?state=PENDING_MANUAL_APPROVAL&limit=50
func (h *ArtifactHandler) ListArtifacts(c echo.Context) error {
	artifacts, err := h.artifacts.List(c.Request().Context(), c.QueryParam("state"), intQueryParam(c, "limit"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"artifacts": artifacts})
}

// ApproveArtifact approves a pending artifact, triggering its promotion
// POST /api/v1/artifacts/:id/approve
func (h *ArtifactHandler) ApproveArtifact(c echo.Context) error {
	return h.decide(c, "APPROVED", h.artifacts.Approve)
}

// RejectArtifact rejects a pending artifact
// POST /api/v1/artifacts/:id/reject
func (h *ArtifactHandler) RejectArtifact(c echo.Context) error {
	return h.decide(c, "REJECTED", h.artifacts.Reject)
}

// DispatchArtifact re-emits the promotion trigger for an approved artifact
// POST /api/v1/artifacts/:id/dispatch
func (h *ArtifactHandler) DispatchArtifact(c echo.Context) error {
	artifactID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid artifact id")
	}

	if err := h.artifacts.Dispatch(c.Request().Context(), artifactID); err != nil {
		switch {
		case errors.Is(err, approval.ErrIllegalTransition):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, repository.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"artifact_id": artifactID,
		"dispatched":  true,
	})
}

func (h *ArtifactHandler) decide(c echo.Context, state string, fn func(ctx context.Context, artifactID uuid.UUID, approver string) error) error {
	artifactID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid artifact id")
	}

	var req approvalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Approver == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "approver is required")
	}

	if err := fn(c.Request().Context(), artifactID, req.Approver); err != nil {
		switch {
		case errors.Is(err, approval.ErrIllegalTransition):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, repository.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"artifact_id":    artifactID,
		"approval_state": state,
		"approver":       req.Approver,
	})
}

func intQueryParam(c echo.Context, name string) int {
	v, err := strconv.Atoi(c.QueryParam(name))
	if err != nil {
		return 0
	}
	return v
}
