package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ModelOps-Data-and-Analytics/agentops/cmd/registry/container"
	"github.com/ModelOps-Data-and-Analytics/agentops/cmd/registry/routes"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/bootstrap"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/repository"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	ctx := context.Background()

	// Bootstrap common components (DB, logger, redis, bus, telemetry)
	components, err := bootstrap.Setup(ctx, "registry")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap registry: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	if err := repository.EnsureSchema(ctx, components.DB); err != nil {
		components.Logger.Error("Failed to ensure schema", "error", err)
		os.Exit(1)
	}

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, components)
	registerRoutes(e, serviceContainer)

	startServer(e, components)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(503, map[string]string{
				"status":  "degraded",
				"service": "registry",
				"error":   err.Error(),
			})
		}
		return c.JSON(200, map[string]string{
			"status":  "ok",
			"service": "registry",
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterBuildRoutes(e, serviceContainer)
	routes.RegisterArtifactRoutes(e, serviceContainer)
	routes.RegisterReleaseRoutes(e, serviceContainer)
}

// startServer starts the Echo server on the configured port
func startServer(e *echo.Echo, components *bootstrap.Components) {
	port := components.Config.Service.Port
	components.Logger.Info("Starting registry", "port", port)

	if err := e.Start(fmt.Sprintf(":%d", port)); err != nil {
		components.Logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
