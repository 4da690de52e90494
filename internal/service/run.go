package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/tenderwatch/internal/domain"
)

// Start begins a new run. It returns as soon as the run state is recorded; the
// agent process is signalled in the background.
func (s *Service) Start(ctx context.Context, agentID int64) (*domain.RunStatusResponse, error) {
	unlock := s.lockAgent(agentID)
	defer unlock()

	agent, err := s.getAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.Running() {
		return nil, domain.ErrAlreadyRunning
	}

	if limit := s.config.MaxRunningAgents; limit > 0 {
		s.startMu.Lock()
		defer s.startMu.Unlock()
		n, err := s.store.CountRunningAgents(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count running agents: %w", err)
		}
		if n >= limit {
			return nil, domain.ErrRunLimitReached
		}
	}

	runID := "run_" + uuid.New().String()[:8]
	now := time.Now().UTC()
	if err := s.store.UpdateAgentRunStatus(ctx, agentID, domain.RuntimeStatusRunning, runID, now); err != nil {
		return nil, fmt.Errorf("failed to update run status: %w", err)
	}
	agent.Status = domain.RuntimeStatusRunning
	agent.RunID = runID
	agent.StartedAt = &now
	agent.StoppedAt = nil

	s.telemetry.ResetRun(agentID)
	s.challenges.Discard(agentID, "new run started")

	s.logger.Info("run started", zap.Int64("agent_id", agentID), zap.String("run_id", runID))
	s.publishRunStatus(agent)
	s.signal(*agent, runID, true)

	return runStatus(agent), nil
}

// Stop ends the current run. Stopping a stopped agent is a no-op that reports
// the current status.
func (s *Service) Stop(ctx context.Context, agentID int64) (*domain.RunStatusResponse, error) {
	unlock := s.lockAgent(agentID)
	defer unlock()

	agent, err := s.getAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !agent.Running() {
		return runStatus(agent), nil
	}

	if err := s.endRunLocked(ctx, agent, "agent stopped by operator"); err != nil {
		return nil, err
	}
	s.telemetry.EndRun(agentID)
	s.signal(*agent, agent.RunID, false)

	return runStatus(agent), nil
}

// RunStatus returns the recorded runtime status. Agents without an endpoint
// poll it to learn their desired state.
func (s *Service) RunStatus(ctx context.Context, agentID int64) (*domain.RunStatusResponse, error) {
	agent, err := s.getAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return runStatus(agent), nil
}

// endRunLocked records the stop and withdraws any outstanding challenge.
// The agent lock must be held.
func (s *Service) endRunLocked(ctx context.Context, agent *domain.Agent, reason string) error {
	now := time.Now().UTC()
	if err := s.store.UpdateAgentRunStatus(ctx, agent.AgentID, domain.RuntimeStatusStopped, agent.RunID, now); err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	agent.Status = domain.RuntimeStatusStopped
	agent.StoppedAt = &now

	s.telemetry.ClearScreenshot(agent.AgentID)
	s.challenges.Discard(agent.AgentID, reason)

	s.logger.Info("run stopped",
		zap.Int64("agent_id", agent.AgentID),
		zap.String("run_id", agent.RunID),
		zap.String("reason", reason))
	s.publishRunStatus(agent)
	return nil
}

// signal notifies the agent process without blocking the caller.
func (s *Service) signal(agent domain.Agent, runID string, start bool) {
	if s.launcher == nil || agent.Endpoint == "" {
		return
	}
	action := "stop"
	if start {
		action = "start"
	}

	s.signals.Add(1)
	go func() {
		defer s.signals.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.config.AgentSignalTimeout)
		defer cancel()

		var err error
		if start {
			err = s.launcher.Start(ctx, &agent, runID)
		} else {
			err = s.launcher.Stop(ctx, &agent, runID)
		}
		if err == nil {
			return
		}

		s.logger.Warn("agent signal failed",
			zap.Int64("agent_id", agent.AgentID),
			zap.String("run_id", runID),
			zap.String("action", action),
			zap.Error(err))
		s.recordSystemHistory(agent.AgentID, fmt.Sprintf("control plane: %s signal for %s failed: %v", action, runID, err))

		if start {
			s.abortRun(agent.AgentID, runID)
		}
	}()
}

// abortRun stops a run whose agent never acknowledged the start signal, unless
// the run has already moved on.
func (s *Service) abortRun(agentID int64, runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.AgentSignalTimeout)
	defer cancel()

	unlock := s.lockAgent(agentID)
	defer unlock()

	agent, err := s.getAgent(ctx, agentID)
	if err != nil || !agent.Running() || agent.RunID != runID {
		return
	}
	if err := s.endRunLocked(ctx, agent, "agent did not accept start signal"); err != nil {
		s.logger.Error("failed to abort run", zap.Int64("agent_id", agentID), zap.Error(err))
		return
	}
	s.telemetry.EndRun(agentID)
}

func runStatus(agent *domain.Agent) *domain.RunStatusResponse {
	return &domain.RunStatusResponse{
		AgentID:   agent.AgentID,
		Status:    agent.Status,
		RunID:     agent.RunID,
		StartedAt: agent.StartedAt,
		StoppedAt: agent.StoppedAt,
	}
}
