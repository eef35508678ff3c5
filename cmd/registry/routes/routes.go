package routes

import (
	"github.com/ModelOps-Data-and-Analytics/agentops/cmd/registry/container"
	"github.com/ModelOps-Data-and-Analytics/agentops/cmd/registry/handlers"
	"github.com/labstack/echo/v4"
)

// RegisterBuildRoutes registers build run routes
func RegisterBuildRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewBuildHandler(c.BuildService)

	builds := e.Group("/api/v1/builds")
	{
		builds.POST("", h.TriggerBuild)
		builds.GET("", h.ListBuilds)
		builds.GET("/:id", h.GetBuild)
		builds.POST("/:id/cancel", h.CancelBuild)
	}

	e.POST("/api/v1/hooks/push", h.PushHook)
}

// RegisterArtifactRoutes registers artifact record and approval routes
func RegisterArtifactRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewArtifactHandler(c.ArtifactService)

	artifacts := e.Group("/api/v1/artifacts")
	{
		artifacts.GET("", h.ListArtifacts)
		artifacts.GET("/:id", h.GetArtifact)
		artifacts.POST("/:id/approve", h.ApproveArtifact)
		artifacts.POST("/:id/reject", h.RejectArtifact)
		artifacts.POST("/:id/dispatch", h.DispatchArtifact)
	}
}

// RegisterReleaseRoutes registers release pointer and promotion routes
func RegisterReleaseRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewReleaseHandler(c.ReleaseService)

	releases := e.Group("/api/v1/releases")
	{
		releases.GET("/:name", h.GetRelease)
		releases.GET("/:name/history", h.GetReleaseHistory)
	}

	promotions := e.Group("/api/v1/promotions")
	{
		promotions.GET("", h.ListPromotions)
		promotions.GET("/:id", h.GetPromotion)
	}
}
