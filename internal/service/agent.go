package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xiaot623/tenderwatch/internal/domain"
)

// RegisterAgent upserts an agent's static configuration. Runtime status is
// left untouched.
func (s *Service) RegisterAgent(ctx context.Context, req domain.AgentRegisterRequest) (*domain.Agent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	agent := &domain.Agent{
		AgentID:        req.AgentID,
		Name:           req.Name,
		Type:           req.Type,
		Endpoint:       req.Endpoint,
		CredentialsRef: req.CredentialsRef,
	}
	if err := s.store.UpsertAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("failed to register agent: %w", err)
	}
	s.logger.Debug("agent registered", zap.Int64("agent_id", req.AgentID), zap.String("type", string(req.Type)))

	return s.getAgent(ctx, req.AgentID)
}

func (s *Service) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return agents, nil
}

func (s *Service) GetAgent(ctx context.Context, agentID int64) (*domain.Agent, error) {
	return s.getAgent(ctx, agentID)
}
