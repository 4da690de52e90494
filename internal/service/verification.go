package service

import (
	"context"
	"errors"
	"time"

	"github.com/xiaot623/tenderwatch/internal/domain"
)

// MaxAwaitTimeout caps a single long-poll by an agent.
const MaxAwaitTimeout = 60 * time.Second

// RequestVerification raises a challenge for a running agent. A repeated
// request while one is waiting returns the existing challenge.
func (s *Service) RequestVerification(ctx context.Context, agentID int64) (*domain.ChallengeStatus, error) {
	unlock := s.lockAgent(agentID)
	defer unlock()

	agent, err := s.getAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !agent.Running() {
		return nil, domain.ErrNotRunning
	}
	status, _ := s.challenges.Request(agentID)
	return &status, nil
}

// VerificationStatus is the polling view of the agent's challenge.
func (s *Service) VerificationStatus(ctx context.Context, agentID int64) (*domain.ChallengeStatus, error) {
	if _, err := s.getAgent(ctx, agentID); err != nil {
		return nil, err
	}
	status := s.challenges.Status(agentID)
	return &status, nil
}

// SubmitVerification hands the operator's code to the waiting agent.
func (s *Service) SubmitVerification(ctx context.Context, agentID int64, code string) (*domain.ChallengeStatus, error) {
	if _, err := s.getAgent(ctx, agentID); err != nil {
		return nil, err
	}
	status, err := s.challenges.Submit(agentID, code)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// CancelVerification withdraws the waiting challenge. It is a no-op when
// nothing is waiting.
func (s *Service) CancelVerification(ctx context.Context, agentID int64) (*domain.ChallengeStatus, error) {
	if _, err := s.getAgent(ctx, agentID); err != nil {
		return nil, err
	}
	s.challenges.Cancel(agentID, "declined by operator")
	status := s.challenges.Status(agentID)
	return &status, nil
}

// AwaitVerification long-polls for the resolution of the agent's challenge.
// When timeout elapses first the response is pending and the agent polls again.
func (s *Service) AwaitVerification(ctx context.Context, agentID int64, timeout time.Duration) (*domain.AwaitResponse, error) {
	if _, err := s.getAgent(ctx, agentID); err != nil {
		return nil, err
	}
	if timeout <= 0 || timeout > MaxAwaitTimeout {
		timeout = MaxAwaitTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := s.challenges.Await(waitCtx, agentID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return &domain.AwaitResponse{Status: domain.AwaitStatusPending}, nil
		}
		return nil, err
	}
	return &domain.AwaitResponse{Status: domain.AwaitStatusResolved, Resolution: &res}, nil
}

// ChallengeRaised pushes verification_needed. The payload is the agent id
// only; subscribers re-query the status.
func (s *Service) ChallengeRaised(agentID int64, _ domain.ChallengeStatus) {
	s.hub.Publish(agentID, domain.EventTypeVerificationNeeded, nil)
}

// ChallengeResolved pushes verification_resolved. The code never leaves the
// challenge manager through this path.
func (s *Service) ChallengeResolved(agentID int64, res domain.Resolution) {
	s.hub.Publish(agentID, domain.EventTypeVerificationResolved, domain.VerificationResolvedPayload{
		ChallengeID: res.ChallengeID,
		Outcome:     res.Outcome,
	})
}
