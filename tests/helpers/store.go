package helpers

import (
	"context"
	"testing"

	"github.com/xiaot623/tenderwatch/internal/domain"
	"github.com/xiaot623/tenderwatch/internal/repository"
)

func NewTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// SeedAgent registers a stopped tender-discovery agent.
func SeedAgent(t *testing.T, s store.Store, agentID int64, endpoint string) *domain.Agent {
	t.Helper()

	agent := &domain.Agent{
		AgentID:  agentID,
		Name:     "agent",
		Type:     domain.AgentTypeTenderDiscovery,
		Endpoint: endpoint,
	}
	if err := s.UpsertAgent(context.Background(), agent); err != nil {
		t.Fatalf("failed to seed agent %d: %v", agentID, err)
	}
	return agent
}
