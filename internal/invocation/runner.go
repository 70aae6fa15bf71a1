package invocation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/thecyberlearn/quantum-tasks/internal/agents"
	"github.com/thecyberlearn/quantum-tasks/internal/retry"
)

const maxResponseSize = 5 * 1024 * 1024 // 5MB

// Result is what a runner hands back on success.
type Result struct {
	Output    json.RawMessage
	LatencyMs int64
}

// Runner executes one agent kind. The service picks the runner for an
// agent once, by kind, when it is constructed; Process never branches
// on kind strings.
type Runner interface {
	Process(ctx context.Context, agent *agents.Agent, payload json.RawMessage) (*Result, error)
}

// Runners builds the kind-to-runner table used by the service.
func Runners(client *http.Client) map[string]Runner {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return map[string]Runner{
		agents.KindWebhook: &WebhookRunner{client: client},
		agents.KindAPI:     &APIRunner{client: client},
	}
}

// WebhookRunner POSTs the payload to an automation webhook (N8N-style)
// and returns its JSON response.
type WebhookRunner struct {
	client *http.Client
}

func (r *WebhookRunner) Process(ctx context.Context, agent *agents.Agent, payload json.RawMessage) (*Result, error) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, agent.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-ID", agent.ID)

	start := time.Now()
	resp, err := r.client.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("webhook rejected request with HTTP %d", resp.StatusCode)
	}

	return &Result{Output: normalizeJSON(body), LatencyMs: latency}, nil
}

// APIRunner calls a third-party REST API with the payload's string
// fields as query parameters. GETs are idempotent, so transient
// failures are retried with backoff.
type APIRunner struct {
	client *http.Client
}

func (r *APIRunner) Process(ctx context.Context, agent *agents.Agent, payload json.RawMessage) (*Result, error) {
	endpoint, err := buildQueryURL(agent, payload)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	var result *Result
	err = retry.Do(ctx, 3, 300*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("create request: %w", err))
		}

		start := time.Now()
		resp, err := r.client.Do(req)
		latency := time.Since(start).Milliseconds()
		if err != nil {
			return fmt.Errorf("api request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("api returned HTTP %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return retry.Permanent(fmt.Errorf("api rejected request with HTTP %d", resp.StatusCode))
		}

		result = &Result{Output: normalizeJSON(body), LatencyMs: latency}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// buildQueryURL folds the payload's scalar fields into the endpoint's
// query string and appends the agent's API key when one is configured.
func buildQueryURL(agent *agents.Agent, payload json.RawMessage) (string, error) {
	u, err := url.Parse(agent.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}

	q := u.Query()
	if len(payload) > 0 {
		var params map[string]any
		if err := json.Unmarshal(payload, &params); err != nil {
			return "", fmt.Errorf("payload must be a JSON object: %w", err)
		}
		for k, v := range params {
			switch val := v.(type) {
			case string:
				q.Set(k, val)
			case float64:
				q.Set(k, fmt.Sprintf("%g", val))
			case bool:
				q.Set(k, fmt.Sprintf("%t", val))
			}
		}
	}
	if agent.APIKeyEnv != "" {
		if key := os.Getenv(agent.APIKeyEnv); key != "" {
			q.Set("appid", key)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// normalizeJSON keeps valid JSON as-is and wraps anything else so the
// stored output is always a JSON document.
func normalizeJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return json.RawMessage(`{}`)
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	wrapped, _ := json.Marshal(map[string]string{"raw": string(body)})
	return wrapped
}
