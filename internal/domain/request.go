package domain

import (
	"fmt"
	"time"
)

// AgentRegisterRequest upserts an agent's static configuration.
type AgentRegisterRequest struct {
	AgentID        int64     `json:"agent_id" yaml:"id"`
	Name           string    `json:"name" yaml:"name"`
	Type           AgentType `json:"type" yaml:"type"`
	Endpoint       string    `json:"endpoint,omitempty" yaml:"endpoint"`
	CredentialsRef string    `json:"credentials_ref,omitempty" yaml:"credentials_ref"`
}

// Validate checks the static configuration of an agent.
func (r AgentRegisterRequest) Validate() error {
	if r.AgentID <= 0 {
		return fmt.Errorf("%w: agent_id must be positive", ErrInvalidAgent)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAgent)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAgent, r.Type)
	}
	return nil
}

// RunStatusResponse is the current run state of an agent.
type RunStatusResponse struct {
	AgentID   int64         `json:"agent_id"`
	Status    RuntimeStatus `json:"status"`
	RunID     string        `json:"run_id,omitempty"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	StoppedAt *time.Time    `json:"stopped_at,omitempty"`
}

// ProgressReport is sent by an agent process to replace its snapshot.
type ProgressReport struct {
	OpportunityID  string        `json:"opportunity_id,omitempty"`
	ItemsCompleted int           `json:"items_completed"`
	ItemsTotal     int           `json:"items_total"`
	Status         ProcessStatus `json:"status"`
}

// HistoryAppendRequest is sent by an agent process to append a history line.
type HistoryAppendRequest struct {
	Message string `json:"message"`
}

// HistoryResponse is a page of the newest history entries.
type HistoryResponse struct {
	Entries   []HistoryEntry `json:"entries"`
	Total     int64          `json:"total"`
	LatestSeq int64          `json:"latest_seq"`
}

// LatestSinceResponse answers whether anything newer than a known sequence exists.
type LatestSinceResponse struct {
	HasNewer  bool  `json:"has_newer"`
	LatestSeq int64 `json:"latest_seq"`
}

// SubmitCodeRequest carries an operator-entered verification code.
type SubmitCodeRequest struct {
	Code string `json:"code"`
}

// Await statuses.
const (
	AwaitStatusResolved = "resolved"
	AwaitStatusPending  = "pending"
)

// AwaitResponse is returned to an agent long-polling for its challenge resolution.
type AwaitResponse struct {
	Status     string      `json:"status"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

// HealthResponse reports liveness and coarse load.
type HealthResponse struct {
	Status        string `json:"status"`
	RunningAgents int    `json:"running_agents"`
	Subscribers   int    `json:"subscribers"`
}
