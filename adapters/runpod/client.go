// Package runpod adapts the RunPod serverless endpoint API to the jobs
// Runner interface. Each capability maps to one endpoint; jobs are started
// with run, observed with status, and stopped with cancel.
package runpod

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/wicara/server/internal/jobs"
)

// Config holds connection settings for the RunPod API.
type Config struct {
	APIKey  string
	BaseURL string

	// Endpoints maps each capability to its serverless endpoint id.
	Endpoints map[jobs.Capability]string
}

// Client implements jobs.Runner against RunPod serverless endpoints.
type Client struct {
	apiKey     string
	baseURL    string
	endpoints  map[jobs.Capability]string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ jobs.Runner = (*Client)(nil)

// NewClient creates a RunPod client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("runpod API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.runpod.ai/v2"
	}
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		endpoints:  cfg.Endpoints,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}, nil
}

type runResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type statusResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// Submit starts a job and returns its remote id for polling.
func (c *Client) Submit(ctx context.Context, req jobs.Request) (jobs.Submission, error) {
	endpoint, ok := c.endpoints[req.Capability]
	if !ok {
		return jobs.Submission{}, fmt.Errorf("no endpoint configured for capability %q", req.Capability)
	}

	input, err := buildInput(req)
	if err != nil {
		return jobs.Submission{}, err
	}

	body, err := json.Marshal(map[string]interface{}{"input": input})
	if err != nil {
		return jobs.Submission{}, fmt.Errorf("failed to marshal run request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/run", c.baseURL, endpoint)
	var run runResponse
	if err := c.do(ctx, http.MethodPost, url, body, &run); err != nil {
		return jobs.Submission{}, err
	}
	if run.ID == "" {
		return jobs.Submission{}, fmt.Errorf("run response missing job id")
	}

	c.logger.Debug("RunPod job started",
		zap.String("capability", string(req.Capability)),
		zap.String("jobID", run.ID))
	return jobs.Submission{JobID: run.ID}, nil
}

// Status fetches the remote job state.
func (c *Client) Status(ctx context.Context, capability jobs.Capability, jobID string) (jobs.Status, error) {
	endpoint, ok := c.endpoints[capability]
	if !ok {
		return jobs.Status{}, fmt.Errorf("no endpoint configured for capability %q", capability)
	}

	url := fmt.Sprintf("%s/%s/status/%s", c.baseURL, endpoint, jobID)
	var status statusResponse
	if err := c.do(ctx, http.MethodGet, url, nil, &status); err != nil {
		return jobs.Status{}, err
	}

	state := mapState(status.Status)
	out := jobs.Status{State: state, Err: status.Error}
	if state == jobs.StateCompleted {
		result, err := parseOutput(capability, status.Output)
		if err != nil {
			return jobs.Status{}, err
		}
		out.Result = result
	}
	return out, nil
}

// Cancel requests remote cancellation. Best effort; a job already finished
// on the remote side is not an error.
func (c *Client) Cancel(ctx context.Context, capability jobs.Capability, jobID string) error {
	endpoint, ok := c.endpoints[capability]
	if !ok {
		return fmt.Errorf("no endpoint configured for capability %q", capability)
	}

	url := fmt.Sprintf("%s/%s/cancel/%s", c.baseURL, endpoint, jobID)
	return c.do(ctx, http.MethodPost, url, nil, nil)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("runpod API returned %d: %s", resp.StatusCode, string(errorBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// buildInput shapes the endpoint input payload for a capability.
func buildInput(req jobs.Request) (map[string]interface{}, error) {
	switch req.Capability {
	case jobs.CapabilityTranscribe:
		if len(req.Audio) == 0 {
			return nil, fmt.Errorf("transcribe request requires audio")
		}
		input := map[string]interface{}{
			"audio": base64.StdEncoding.EncodeToString(req.Audio),
		}
		if req.Language != "" {
			input["language"] = req.Language
		}
		return input, nil

	case jobs.CapabilityGenerate:
		if len(req.Messages) == 0 {
			return nil, fmt.Errorf("generate request requires messages")
		}
		messages := make([]map[string]string, 0, len(req.Messages))
		for _, m := range req.Messages {
			messages = append(messages, map[string]string{
				"role":    string(m.Role),
				"content": m.Content,
			})
		}
		input := map[string]interface{}{"messages": messages}
		if req.Temperature != 0 {
			input["temperature"] = req.Temperature
		}
		if req.MaxTokens != 0 {
			input["max_tokens"] = req.MaxTokens
		}
		return input, nil

	case jobs.CapabilitySynthesize:
		if req.Text == "" {
			return nil, fmt.Errorf("synthesize request requires text")
		}
		input := map[string]interface{}{"text": req.Text}
		if req.Voice != "" {
			input["voice"] = req.Voice
		}
		if req.Format != "" {
			input["format"] = req.Format
		}
		if req.Speed != 0 {
			input["speed"] = req.Speed
		}
		return input, nil
	}
	return nil, fmt.Errorf("unknown capability %q", req.Capability)
}

// parseOutput extracts the capability result from the endpoint output.
// Text capabilities return either a bare string or {"text": ...};
// synthesis returns {"audio": base64}.
func parseOutput(capability jobs.Capability, raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	if capability == jobs.CapabilitySynthesize {
		var out struct {
			Audio string `json:"audio"`
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("failed to decode synthesis output: %w", err)
		}
		audio, err := base64.StdEncoding.DecodeString(out.Audio)
		if err != nil {
			return nil, fmt.Errorf("failed to decode synthesis audio: %w", err)
		}
		return audio, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []byte(text), nil
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode output: %w", err)
	}
	return []byte(out.Text), nil
}

// mapState converts a RunPod status string to a handle state.
func mapState(status string) jobs.State {
	switch status {
	case "IN_QUEUE":
		return jobs.StateQueued
	case "IN_PROGRESS":
		return jobs.StateRunning
	case "COMPLETED":
		return jobs.StateCompleted
	case "FAILED":
		return jobs.StateFailed
	case "CANCELLED":
		return jobs.StateCancelled
	case "TIMED_OUT":
		return jobs.StateTimedOut
	}
	return jobs.StateRunning
}
