// Package policy decides which operator actions are permitted.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Actions evaluated by the operator policy.
const (
	ActionListAgents         = "agents.list"
	ActionReadAgent          = "agents.read"
	ActionRegisterAgent      = "agents.register"
	ActionStartAgent         = "runs.start"
	ActionStopAgent          = "runs.stop"
	ActionSubmitVerification = "verification.submit"
	ActionCancelVerification = "verification.cancel"
	ActionSubscribe          = "events.subscribe"
)

// Decisions returned by the policy.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Input is the document the policy is evaluated against.
type Input struct {
	OperatorID string `json:"operator_id"`
	Role       string `json:"role"`
	Action     string `json:"action"`
	AgentID    int64  `json:"agent_id,omitempty"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
// An empty content uses DefaultPolicy.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	if policyContent == "" {
		policyContent = DefaultPolicy
	}
	r := rego.New(
		rego.Query("data.operator_policy.decision"),
		rego.Module("operator_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate returns the decision for the input. A policy without a matching
// rule denies.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionDeny, nil
	}
	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return DecisionDeny, nil
}

// Allowed reports whether the decision for input is allow.
func (e *Engine) Allowed(ctx context.Context, input Input) (bool, error) {
	decision, err := e.Evaluate(ctx, input)
	if err != nil {
		return false, err
	}
	return decision == DecisionAllow, nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package operator_policy

default decision = "deny"

read_actions := {"agents.list", "agents.read", "events.subscribe"}

decision = "allow" {
	input.role == "admin"
}

decision = "allow" {
	input.role == "operator"
	input.action != "agents.register"
}

decision = "allow" {
	input.role == "viewer"
	read_actions[input.action]
}
`
