// Package store defines the storage interface and implementations.
package store

import (
	"context"
	"time"

	"github.com/xiaot623/tenderwatch/internal/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Agent registry
	UpsertAgent(ctx context.Context, agent *domain.Agent) error
	GetAgent(ctx context.Context, agentID int64) (*domain.Agent, error)
	ListAgents(ctx context.Context) ([]domain.Agent, error)
	UpdateAgentRunStatus(ctx context.Context, agentID int64, status domain.RuntimeStatus, runID string, at time.Time) error
	CountRunningAgents(ctx context.Context) (int, error)
	ResetRunStatuses(ctx context.Context) (int64, error)

	// History log
	AppendHistory(ctx context.Context, entry *domain.HistoryEntry) error
	ListHistory(ctx context.Context, agentID int64, limit int) ([]domain.HistoryEntry, error)
	LatestHistorySeq(ctx context.Context, agentID int64) (int64, error)
	PruneHistory(ctx context.Context, agentID int64, upToSeq int64) (int64, error)

	// Lifecycle
	Close() error
}
