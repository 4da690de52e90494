// Package domain defines the core domain models for the control plane.
package domain

// AgentType is the declared kind of automation an agent runs.
type AgentType string

const (
	AgentTypeTenderDiscovery AgentType = "tender_discovery"
	AgentTypeItemRescue      AgentType = "item_rescue"
)

// Valid reports whether t is a known agent type.
func (t AgentType) Valid() bool {
	switch t {
	case AgentTypeTenderDiscovery, AgentTypeItemRescue:
		return true
	}
	return false
}

// RuntimeStatus mirrors whether a worker process is currently executing.
type RuntimeStatus string

const (
	RuntimeStatusStopped RuntimeStatus = "stopped"
	RuntimeStatusRunning RuntimeStatus = "running"
)

// ProcessStatus is the status tag an agent reports with its progress.
type ProcessStatus string

const (
	ProcessStatusIdle      ProcessStatus = "idle"
	ProcessStatusRunning   ProcessStatus = "running"
	ProcessStatusError     ProcessStatus = "error"
	ProcessStatusCompleted ProcessStatus = "completed"
)

// Valid reports whether s is a known process status.
func (s ProcessStatus) Valid() bool {
	switch s {
	case ProcessStatusIdle, ProcessStatusRunning, ProcessStatusError, ProcessStatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether the status ends the current run.
func (s ProcessStatus) Terminal() bool {
	return s == ProcessStatusError || s == ProcessStatusCompleted
}

// ChallengeState represents the state of an agent's verification challenge.
type ChallengeState string

const (
	ChallengeStateNone      ChallengeState = "none"
	ChallengeStateWaiting   ChallengeState = "waiting"
	ChallengeStateSubmitted ChallengeState = "submitted"
)

// ChallengeOutcome is how a waiting challenge was resolved.
type ChallengeOutcome string

const (
	ChallengeOutcomeSubmitted ChallengeOutcome = "submitted"
	ChallengeOutcomeCancelled ChallengeOutcome = "cancelled"
	ChallengeOutcomeExpired   ChallengeOutcome = "expired"
)

// EventType represents the type of a pushed event.
type EventType string

const (
	EventTypeConnected            EventType = "connected"
	EventTypeHeartbeat            EventType = "heartbeat"
	EventTypeVerificationNeeded   EventType = "verification_needed"
	EventTypeVerificationResolved EventType = "verification_resolved"
	EventTypeRunStatus            EventType = "run_status"
)
