package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ModelOps-Data-and-Analytics/agentops/cmd/promoter/promoter"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/bootstrap"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/lease"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/provisioner"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/repository"
	"github.com/google/uuid"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Setup(ctx, "promoter")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap promoter: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	if err := repository.EnsureSchema(ctx, components.DB); err != nil {
		components.Logger.Error("Failed to ensure schema", "error", err)
		os.Exit(1)
	}

	executor := promoter.NewExecutor(promoter.ExecutorOpts{
		Artifacts:  repository.NewArtifactRepository(components.DB),
		Promotions: repository.NewPromotionRepository(components.DB),
		Releases:   repository.NewReleaseRepository(components.DB),
		Prov:       provisioner.NewMemoryProvisioner(),
		Checker:    newChecker(),
		Leases:     lease.NewRedisManager(components.Redis),
		Bus:        components.Bus,
		Logger:     components.Logger,
	})

	consumer := promoter.NewConsumer(executor, components.Bus, components.Logger)
	if err := consumer.Start(ctx); err != nil {
		components.Logger.Error("Failed to start consumer", "error", err)
		os.Exit(1)
	}

	components.Logger.Info("Promoter started")
	<-ctx.Done()
	components.Logger.Info("Promoter shutting down")
}

// newChecker selects the post-swap verifier: a smoke-test endpoint when
// configured, otherwise promotions verify trivially.
func newChecker() promoter.Checker {
	endpoint := os.Getenv("RELEASE_CHECK_URL")
	if endpoint == "" {
		return nil
	}

	client := &http.Client{Timeout: 30 * time.Second}
	return promoter.CheckerFunc(func(ctx context.Context, releaseName string, artifactID uuid.UUID) error {
		url := fmt.Sprintf("%s?release=%s&artifact=%s", endpoint, releaseName, artifactID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("release check returned status %d", resp.StatusCode)
		}
		return nil
	})
}
