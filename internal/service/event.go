package service

import (
	"context"

	"github.com/xiaot623/tenderwatch/internal/domain"
	"github.com/xiaot623/tenderwatch/internal/hub"
)

// Subscribe opens a live event channel for the agent.
func (s *Service) Subscribe(ctx context.Context, agentID int64) (*hub.Subscriber, error) {
	if _, err := s.getAgent(ctx, agentID); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(agentID), nil
}

// Unsubscribe closes a live event channel. Safe to call more than once.
func (s *Service) Unsubscribe(sub *hub.Subscriber) {
	s.hub.Unsubscribe(sub)
}

func (s *Service) publishRunStatus(agent *domain.Agent) {
	s.hub.Publish(agent.AgentID, domain.EventTypeRunStatus, domain.RunStatusPayload{
		Status: agent.Status,
		RunID:  agent.RunID,
	})
}
