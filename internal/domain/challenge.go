package domain

import "time"

// ChallengeStatus is the operator-facing view of an agent's verification challenge.
type ChallengeStatus struct {
	AgentID     int64          `json:"agent_id"`
	ChallengeID string         `json:"challenge_id,omitempty"`
	NeedsCode   bool           `json:"needs_code"`
	State       ChallengeState `json:"state"`
	RequestedAt *time.Time     `json:"requested_at,omitempty"`
	Deadline    *time.Time     `json:"deadline,omitempty"`
	RemainingMs int64          `json:"remaining_ms"`
	WindowMs    int64          `json:"window_ms"`
}

// Resolution is what a waiting agent receives once its challenge is resolved.
type Resolution struct {
	ChallengeID string           `json:"challenge_id"`
	Outcome     ChallengeOutcome `json:"outcome"`
	Code        string           `json:"code,omitempty"`
	Reason      string           `json:"reason,omitempty"`
}
