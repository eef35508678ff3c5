package evaluation

import (
	"encoding/json"
	"fmt"
	"os"
)

// Case is one scored prompt in the evaluation suite. A case passes when at
// least half of its expected keywords appear in the agent's response.
type Case struct {
	Name             string   `json:"name"`
	Prompt           string   `json:"prompt"`
	ExpectedKeywords []string `json:"expected_keywords"`
}

// LoadCases reads an evaluation suite from a JSON file. An empty path
// returns the built-in default suite.
func LoadCases(path string) ([]Case, error) {
	if path == "" {
		return DefaultCases(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read evaluation cases: %w", err)
	}

	var cases []Case
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("parse evaluation cases: %w", err)
	}

	for i, c := range cases {
		if c.Name == "" {
			return nil, fmt.Errorf("evaluation case %d has no name", i)
		}
		if c.Prompt == "" {
			return nil, fmt.Errorf("evaluation case %q has no prompt", c.Name)
		}
	}

	return cases, nil
}

// DefaultCases is the suite used when a pipeline does not configure its own
func DefaultCases() []Case {
	return []Case{
		{
			Name:             "basic_greeting",
			Prompt:           "Hello, what can you help me with?",
			ExpectedKeywords: []string{"help", "assist"},
		},
		{
			Name:             "capability_query",
			Prompt:           "What knowledge do you have access to?",
			ExpectedKeywords: []string{"knowledge", "information"},
		},
		{
			Name:             "action_invocation",
			Prompt:           "Look up the current status of my order.",
			ExpectedKeywords: []string{"order", "status"},
		},
	}
}
