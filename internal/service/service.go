// Package service implements the control plane operations shared by the
// operator and agent APIs.
package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xiaot623/tenderwatch/internal/challenge"
	"github.com/xiaot623/tenderwatch/internal/config"
	"github.com/xiaot623/tenderwatch/internal/domain"
	"github.com/xiaot623/tenderwatch/internal/hub"
	"github.com/xiaot623/tenderwatch/internal/repository"
	"github.com/xiaot623/tenderwatch/internal/telemetry"
	"github.com/xiaot623/tenderwatch/policy"
)

// Launcher signals agent processes. Calls are made off the request path.
type Launcher interface {
	Start(ctx context.Context, agent *domain.Agent, runID string) error
	Stop(ctx context.Context, agent *domain.Agent, runID string) error
}

type Service struct {
	store        store.Store
	launcher     Launcher
	hub          *hub.Hub
	policyEngine *policy.Engine
	config       *config.Config
	logger       *zap.Logger

	telemetry  *telemetry.Store
	challenges *challenge.Manager

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	// startMu serializes the running-agent limit check across agents.
	startMu sync.Mutex
	signals sync.WaitGroup
}

func New(store store.Store, launcher Launcher, h *hub.Hub, policyEngine *policy.Engine, cfg *config.Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:        store,
		launcher:     launcher,
		hub:          h,
		policyEngine: policyEngine,
		config:       cfg,
		logger:       logger,
		telemetry:    telemetry.NewStore(store, cfg.HistoryRetention, logger.Named("telemetry")),
		locks:        make(map[int64]*sync.Mutex),
	}
	s.challenges = challenge.NewManager(cfg.VerificationWindow, s, logger.Named("challenge"))
	return s
}

// Recover resets runtime status after a restart: no run survives the process.
func (s *Service) Recover(ctx context.Context) error {
	n, err := s.store.ResetRunStatuses(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset run statuses: %w", err)
	}
	if n > 0 {
		s.logger.Info("reset agents left running by a previous process", zap.Int64("agents", n))
	}
	return nil
}

// Close cancels outstanding challenges and waits for in-flight agent signals.
func (s *Service) Close() {
	s.challenges.Close()
	s.signals.Wait()
}

// lockAgent serializes run-state changes of one agent. Agents never share a lock.
func (s *Service) lockAgent(agentID int64) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[agentID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[agentID] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (s *Service) getAgent(ctx context.Context, agentID int64) (*domain.Agent, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	if agent == nil {
		return nil, domain.ErrAgentNotFound
	}
	return agent, nil
}

// Authorize checks an operator action against the policy. Without a policy
// engine every action is allowed.
func (s *Service) Authorize(ctx context.Context, op domain.Operator, action string, agentID int64) error {
	if s.policyEngine == nil {
		return nil
	}
	allowed, err := s.policyEngine.Allowed(ctx, policy.Input{
		OperatorID: op.ID,
		Role:       op.Role,
		Action:     action,
		AgentID:    agentID,
	})
	if err != nil {
		return fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if !allowed {
		s.logger.Info("operator action denied",
			zap.String("operator_id", op.ID),
			zap.String("role", op.Role),
			zap.String("action", action),
			zap.Int64("agent_id", agentID))
		return domain.ErrForbidden
	}
	return nil
}

// Health reports liveness and coarse load.
func (s *Service) Health(ctx context.Context) (*domain.HealthResponse, error) {
	n, err := s.store.CountRunningAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count running agents: %w", err)
	}
	return &domain.HealthResponse{
		Status:        "ok",
		RunningAgents: n,
		Subscribers:   s.hub.Count(),
	}, nil
}
