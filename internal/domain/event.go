package domain

import "encoding/json"

// Event is a push notification delivered to subscribed operator sessions.
type Event struct {
	Type    EventType       `json:"type"`
	AgentID int64           `json:"agent_id"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConnectedPayload is the payload of a connected event.
type ConnectedPayload struct {
	SubscriberID string `json:"subscriber_id"`
}

// VerificationResolvedPayload is the payload of a verification_resolved event.
type VerificationResolvedPayload struct {
	ChallengeID string           `json:"challenge_id"`
	Outcome     ChallengeOutcome `json:"outcome"`
}

// RunStatusPayload is the payload of a run_status event.
type RunStatusPayload struct {
	Status RuntimeStatus `json:"status"`
	RunID  string        `json:"run_id,omitempty"`
}
