// Package agentclient signals external agent processes to begin or end a run.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xiaot623/tenderwatch/internal/domain"
)

// DefaultTimeout bounds a single start/stop signal.
const DefaultTimeout = 10 * time.Second

// SignalRequest is the body posted to an agent's /start and /stop endpoints.
type SignalRequest struct {
	AgentID        int64            `json:"agent_id"`
	RunID          string           `json:"run_id"`
	Type           domain.AgentType `json:"type"`
	CredentialsRef string           `json:"credentials_ref,omitempty"`
}

// Client is an HTTP client for signalling agents.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a new agent client. A zero timeout uses DefaultTimeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Start asks the agent process to begin the given run.
// Agents without an endpoint poll for their run instead and are not signalled.
func (c *Client) Start(ctx context.Context, agent *domain.Agent, runID string) error {
	return c.signal(ctx, agent, runID, "start")
}

// Stop asks the agent process to terminate the given run.
func (c *Client) Stop(ctx context.Context, agent *domain.Agent, runID string) error {
	return c.signal(ctx, agent, runID, "stop")
}

func (c *Client) signal(ctx context.Context, agent *domain.Agent, runID, action string) error {
	if agent.Endpoint == "" {
		return nil
	}

	body, err := json.Marshal(SignalRequest{
		AgentID:        agent.AgentID,
		RunID:          runID,
		Type:           agent.Type,
		CredentialsRef: agent.CredentialsRef,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(agent.Endpoint, "/") + "/" + action
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Run-ID", runID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to signal agent %s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("agent returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}
