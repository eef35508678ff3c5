package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ModelOps-Data-and-Analytics/agentops/cmd/pipeline-runner/runner"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/bootstrap"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/evaluation"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/lease"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/pipeline"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/provisioner"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Setup(ctx, "pipeline-runner")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap pipeline-runner: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	if err := repository.EnsureSchema(ctx, components.DB); err != nil {
		components.Logger.Error("Failed to ensure schema", "error", err)
		os.Exit(1)
	}

	def, err := pipeline.LoadDefinition(components.Config.Pipeline.DefinitionPath)
	if err != nil {
		components.Logger.Error("Failed to load pipeline definition", "error", err)
		os.Exit(1)
	}

	runRepo := repository.NewBuildRunRepository(components.DB)
	artifactRepo := repository.NewArtifactRepository(components.DB)
	resultRepo := repository.NewEvaluationRepository(components.DB)

	seq := pipeline.NewSequencer(pipeline.SequencerOpts{
		Leases:       lease.NewRedisManager(components.Redis),
		LeaseTTL:     components.Config.Pipeline.LeaseTTL,
		StageTimeout: components.Config.Pipeline.StageTimeout,
		Store:        runRepo,
		Logger:       components.Logger,
	})

	evaluator := evaluation.NewRunner(newInvoker(), components.Logger)

	r, err := runner.New(runner.Opts{
		Definition: def,
		Sequencer:  seq,
		Runs:       runRepo,
		Artifacts:  artifactRepo,
		Results:    resultRepo,
		Prov:       provisioner.NewMemoryProvisioner(),
		Evaluator:  evaluator,
		Flags:      components.Config.Features,
		Bus:        components.Bus,
		Logger:     components.Logger,
	})
	if err != nil {
		components.Logger.Error("Failed to initialize runner", "error", err)
		os.Exit(1)
	}

	consumer := runner.NewConsumer(r, components.Bus, components.Logger)
	if err := consumer.Start(ctx); err != nil {
		components.Logger.Error("Failed to start consumer", "error", err)
		os.Exit(1)
	}

	components.Logger.Info("Pipeline runner started", "pipeline", def.Name)
	<-ctx.Done()
	components.Logger.Info("Pipeline runner shutting down")
}

// newInvoker selects the agent invoker: a serving endpoint when configured,
// otherwise the local echo backend.
func newInvoker() evaluation.AgentInvoker {
	if endpoint := os.Getenv("AGENT_INVOKER_URL"); endpoint != "" {
		return runner.NewHTTPInvoker(endpoint)
	}
	return runner.EchoInvoker{}
}
