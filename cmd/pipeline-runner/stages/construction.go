package stages

import (
	"context"
	"fmt"
	"sync"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/pipeline"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/provisioner"
)

// Stage names referenced by pipeline definitions
const (
	StageSetup               = "setup"
	StageCreateAgent         = "create_agent"
	StageCreateKnowledgeBase = "create_knowledge_base"
	StageDeployActionGroups  = "deploy_action_groups"
	StagePrepareAgent        = "prepare_agent"
	StageEvaluate            = "evaluate"
	StageRegister            = "register"
)

// Setup validates inputs and provisions the shared execution role for the
// agent. Re-runs converge on the existing role.
func Setup(prov provisioner.Provisioner) pipeline.Stage {
	return pipeline.NewStage(StageSetup, func(ctx context.Context, rc *pipeline.Context) (map[string]interface{}, error) {
		if rc.AgentName == "" {
			return nil, pipeline.NewFailure(StageSetup, pipeline.KindProvision, fmt.Errorf("agent name is empty"))
		}

		handle, err := prov.CreateOrUpdate(ctx, provisioner.Spec{
			Kind: "execution_role",
			Name: rc.AgentName + "-role",
			Properties: map[string]interface{}{
				"agent": rc.AgentName,
			},
		})
		if err != nil {
			return nil, pipeline.NewFailure(StageSetup, pipeline.KindProvision, err)
		}

		return map[string]interface{}{
			"role_id": handle.ID,
		}, nil
	})
}

// CreateAgent provisions the agent resource itself. Idempotent: an existing
// agent with the same spec is left untouched.
func CreateAgent(prov provisioner.Provisioner) pipeline.Stage {
	return pipeline.NewStage(StageCreateAgent, func(ctx context.Context, rc *pipeline.Context) (map[string]interface{}, error) {
		roleID := outputString(rc, StageSetup, "role_id")

		handle, err := prov.CreateOrUpdate(ctx, provisioner.Spec{
			Kind: "agent",
			Name: rc.AgentName,
			Properties: map[string]interface{}{
				"role_id":     roleID,
				"instruction": rc.Params["instruction"],
				"model":       rc.Params["model"],
			},
		})
		if err != nil {
			return nil, pipeline.NewFailure(StageCreateAgent, pipeline.KindProvision, err)
		}

		return map[string]interface{}{
			"agent_id": handle.ID,
			"created":  handle.Created,
		}, nil
	})
}

// CreateKnowledgeBase provisions the knowledge base and attaches it to the
// agent. Toggled off entirely when the pipeline disables knowledge bases.
func CreateKnowledgeBase(prov provisioner.Provisioner) pipeline.Stage {
	return pipeline.NewStage(StageCreateKnowledgeBase, func(ctx context.Context, rc *pipeline.Context) (map[string]interface{}, error) {
		agentID := outputString(rc, StageCreateAgent, "agent_id")
		if agentID == "" {
			return nil, pipeline.NewFailure(StageCreateKnowledgeBase, pipeline.KindProvision, fmt.Errorf("agent id missing from %s output", StageCreateAgent))
		}

		handle, err := prov.CreateOrUpdate(ctx, provisioner.Spec{
			Kind: "knowledge_base",
			Name: rc.AgentName + "-kb",
			Properties: map[string]interface{}{
				"agent_id":    agentID,
				"data_source": rc.Params["kb_data_source"],
			},
		})
		if err != nil {
			return nil, pipeline.NewFailure(StageCreateKnowledgeBase, pipeline.KindProvision, err)
		}

		return map[string]interface{}{
			"knowledge_base_id": handle.ID,
		}, nil
	})
}

// DeployActionGroups provisions every action group concurrently and joins
// before completing. One failed group fails the whole stage.
func DeployActionGroups(prov provisioner.Provisioner, groups []string) pipeline.Stage {
	return pipeline.NewStage(StageDeployActionGroups, func(ctx context.Context, rc *pipeline.Context) (map[string]interface{}, error) {
		agentID := outputString(rc, StageCreateAgent, "agent_id")
		if agentID == "" {
			return nil, pipeline.NewFailure(StageDeployActionGroups, pipeline.KindProvision, fmt.Errorf("agent id missing from %s output", StageCreateAgent))
		}

		if len(groups) == 0 {
			return map[string]interface{}{"action_groups": []string{}}, nil
		}

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			ids  = make([]string, 0, len(groups))
			errs []error
		)

		for _, group := range groups {
			wg.Add(1)
			go func(group string) {
				defer wg.Done()

				handle, err := prov.CreateOrUpdate(ctx, provisioner.Spec{
					Kind: "action_group",
					Name: rc.AgentName + "-" + group,
					Properties: map[string]interface{}{
						"agent_id": agentID,
						"group":    group,
					},
				})

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, fmt.Errorf("action group %s: %w", group, err))
					return
				}
				ids = append(ids, handle.ID)
			}(group)
		}
		wg.Wait()

		if len(errs) > 0 {
			return nil, pipeline.NewFailure(StageDeployActionGroups, pipeline.KindProvision, errs[0])
		}

		return map[string]interface{}{
			"action_groups": ids,
		}, nil
	})
}

// PrepareAgent finalizes the agent so it can serve evaluation traffic
func PrepareAgent(prov provisioner.Provisioner) pipeline.Stage {
	return pipeline.NewStage(StagePrepareAgent, func(ctx context.Context, rc *pipeline.Context) (map[string]interface{}, error) {
		agentID := outputString(rc, StageCreateAgent, "agent_id")
		if agentID == "" {
			return nil, pipeline.NewFailure(StagePrepareAgent, pipeline.KindProvision, fmt.Errorf("agent id missing from %s output", StageCreateAgent))
		}

		handle, err := prov.CreateOrUpdate(ctx, provisioner.Spec{
			Kind: "agent_version",
			Name: rc.AgentName + "-version",
			Properties: map[string]interface{}{
				"agent_id": agentID,
				"run_id":   rc.RunID.String(),
			},
		})
		if err != nil {
			return nil, pipeline.NewFailure(StagePrepareAgent, pipeline.KindProvision, err)
		}

		return map[string]interface{}{
			"agent_id":      agentID,
			"agent_version": fmt.Sprintf("%s.%d", handle.ID, handle.Revision),
		}, nil
	})
}

func outputString(rc *pipeline.Context, stage, key string) string {
	out, ok := rc.Output(stage)
	if !ok {
		return ""
	}
	v, _ := out[key].(string)
	return v
}
