package evaluation

import (
	"context"
	"fmt"
	"strings"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/logger"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/models"
)

// AgentInvoker sends a prompt to the agent under evaluation and returns its
// response text.
type AgentInvoker interface {
	Invoke(ctx context.Context, agentID, prompt string) (string, error)
}

// Runner scores an agent version against an evaluation suite. Scoring is
// keyword based: a case passes when at least half of its expected keywords
// appear (case-insensitively) in the response. A case with no expected
// keywords passes on any non-empty response.
type Runner struct {
	invoker AgentInvoker
	log     *logger.Logger
}

// NewRunner creates an evaluation runner
func NewRunner(invoker AgentInvoker, log *logger.Logger) *Runner {
	return &Runner{invoker: invoker, log: log}
}

// Score runs every case against the agent and returns the counts plus
// per-case details. Invocation errors fail the case, not the suite.
func (r *Runner) Score(ctx context.Context, agentID string, cases []Case) (passed int, details []models.CaseResult, err error) {
	if len(cases) == 0 {
		return 0, nil, fmt.Errorf("evaluation suite is empty")
	}

	details = make([]models.CaseResult, 0, len(cases))
	for _, c := range cases {
		res := r.scoreCase(ctx, agentID, c)
		if res.Passed {
			passed++
		}
		details = append(details, res)

		r.log.Debug("evaluation case scored",
			"case", c.Name,
			"passed", res.Passed,
			"found", len(res.KeywordsFound),
			"missing", len(res.KeywordsMissing),
		)
	}

	return passed, details, nil
}

func (r *Runner) scoreCase(ctx context.Context, agentID string, c Case) models.CaseResult {
	response, err := r.invoker.Invoke(ctx, agentID, c.Prompt)
	if err != nil {
		return models.CaseResult{
			Name:            c.Name,
			Passed:          false,
			KeywordsMissing: c.ExpectedKeywords,
			Error:           err.Error(),
		}
	}

	lower := strings.ToLower(response)

	var found, missing []string
	for _, kw := range c.ExpectedKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			found = append(found, kw)
		} else {
			missing = append(missing, kw)
		}
	}

	pass := false
	if len(c.ExpectedKeywords) == 0 {
		pass = len(response) > 0
	} else {
		pass = float64(len(found)) >= float64(len(c.ExpectedKeywords))*0.5
	}

	return models.CaseResult{
		Name:            c.Name,
		Passed:          pass,
		KeywordsFound:   found,
		KeywordsMissing: missing,
		ResponseLength:  len(response),
	}
}
