// Package remote adapts the hosted data agent's HTTP API to the evaluator
// and optimizer interfaces.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"diaharness/internal/fault"
)

const maxErrorBody = 512

// Agent is an HTTP client bound to one agent endpoint.
type Agent struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewAgent builds an Agent. client may be nil.
func NewAgent(endpoint, token string, client *http.Client) (*Agent, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("agent endpoint is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Agent{endpoint: endpoint, token: token, client: client}, nil
}

// Endpoint returns the base URL.
func (a *Agent) Endpoint() string {
	return a.endpoint
}

type queryRequest struct {
	Question string `json:"question"`
}

type queryResponse struct {
	SQL    string `json:"sql"`
	Answer string `json:"answer,omitempty"`
}

// Execute sends a question and returns the generated SQL.
func (a *Agent) Execute(ctx context.Context, question string) (string, error) {
	var resp queryResponse
	if err := a.do(ctx, "query agent", http.MethodPost, "/query", queryRequest{Question: question}, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.SQL), nil
}

// do sends a JSON request and decodes a JSON response into out.
func (a *Agent) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fault.Classify(op, 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fault.Classify(op, resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(data))))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fault.Classify(op, 0, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
