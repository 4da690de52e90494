package domain

import "time"

// Agent represents one configured automation worker.
type Agent struct {
	AgentID        int64         `json:"agent_id"`
	Name           string        `json:"name"`
	Type           AgentType     `json:"type"`
	Endpoint       string        `json:"endpoint,omitempty"`
	CredentialsRef string        `json:"credentials_ref,omitempty"`
	Status         RuntimeStatus `json:"status"`
	RunID          string        `json:"run_id,omitempty"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	StoppedAt      *time.Time    `json:"stopped_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Running reports whether the agent currently has an active run.
func (a *Agent) Running() bool {
	return a.Status == RuntimeStatusRunning
}

// Operator is the already-authenticated identity behind an operator request.
type Operator struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}
