package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// EchoInvoker is the local backend: it answers every prompt with the prompt
// itself, so evaluation exercises the full scoring path without a live
// model endpoint behind it.
type EchoInvoker struct{}

// Invoke returns the prompt as the agent response
func (EchoInvoker) Invoke(_ context.Context, _ string, prompt string) (string, error) {
	return prompt, nil
}

// HTTPInvoker sends prompts to a serving endpoint that fronts the agent
// runtime.
type HTTPInvoker struct {
	endpoint string
	client   *http.Client
}

// NewHTTPInvoker creates an invoker against the given endpoint
func NewHTTPInvoker(endpoint string) *HTTPInvoker {
	return &HTTPInvoker{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type invokeRequest struct {
	AgentID string `json:"agent_id"`
	Prompt  string `json:"prompt"`
}

type invokeResponse struct {
	Response string `json:"response"`
}

// Invoke posts the prompt and returns the response text
func (i *HTTPInvoker) Invoke(ctx context.Context, agentID, prompt string) (string, error) {
	body, err := json.Marshal(invokeRequest{AgentID: agentID, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("marshal invoke request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build invoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("invoke agent %s: %w", agentID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("invoke agent %s: unexpected status %d", agentID, resp.StatusCode)
	}

	var out invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode invoke response: %w", err)
	}

	return out.Response, nil
}
