// Package telemetry keeps the per-agent progress snapshot, latest screenshot and
// history log reported by running agents.
//
// Snapshots and screenshots live in memory and are overwritten on every report.
// History is appended to durable storage; the latest sequence id of each agent is
// cached so "is there anything newer" checks never touch the rows.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/tenderwatch/internal/domain"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// HistoryLog is the durable part of the telemetry store.
type HistoryLog interface {
	AppendHistory(ctx context.Context, entry *domain.HistoryEntry) error
	ListHistory(ctx context.Context, agentID int64, limit int) ([]domain.HistoryEntry, error)
	LatestHistorySeq(ctx context.Context, agentID int64) (int64, error)
	PruneHistory(ctx context.Context, agentID int64, upToSeq int64) (int64, error)
}

// Store holds telemetry for every agent. State is partitioned per agent.
type Store struct {
	history   HistoryLog
	retention int64
	logger    *zap.Logger

	mu     sync.Mutex
	agents map[int64]*agentTelemetry
}

type agentTelemetry struct {
	mu         sync.RWMutex
	snapshot   *domain.ProcessSnapshot
	screenshot *domain.ScreenshotFrame
	latestSeq  int64
	seqLoaded  bool
}

// NewStore creates a telemetry store. A retention of 0 keeps the full history.
func NewStore(history HistoryLog, retention int, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		history:   history,
		retention: int64(retention),
		logger:    logger,
		agents:    make(map[int64]*agentTelemetry),
	}
}

func (s *Store) agent(agentID int64) *agentTelemetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.agents[agentID]
	if !ok {
		t = &agentTelemetry{}
		s.agents[agentID] = t
	}
	return t
}

// ReportProgress replaces the agent's snapshot. Last write wins.
func (s *Store) ReportProgress(agentID int64, snapshot domain.ProcessSnapshot) (*domain.ProcessSnapshot, error) {
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}
	snapshot.UpdatedAt = time.Now().UTC()

	t := s.agent(agentID)
	t.mu.Lock()
	t.snapshot = &snapshot
	t.mu.Unlock()

	out := snapshot
	return &out, nil
}

// Snapshot returns a copy of the current snapshot, or nil.
func (s *Store) Snapshot(agentID int64) *domain.ProcessSnapshot {
	t := s.agent(agentID)
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.snapshot == nil {
		return nil
	}
	out := *t.snapshot
	return &out
}

// ResetRun clears the snapshot and screenshot ahead of a new run.
func (s *Store) ResetRun(agentID int64) {
	t := s.agent(agentID)
	t.mu.Lock()
	t.snapshot = nil
	t.screenshot = nil
	t.mu.Unlock()
}

// EndRun clears the screenshot and moves a running snapshot to idle so a stopped
// agent never reports a running process.
func (s *Store) EndRun(agentID int64) {
	t := s.agent(agentID)
	t.mu.Lock()
	t.screenshot = nil
	if t.snapshot != nil && t.snapshot.Status == domain.ProcessStatusRunning {
		t.snapshot.Status = domain.ProcessStatusIdle
		t.snapshot.UpdatedAt = time.Now().UTC()
	}
	t.mu.Unlock()
}

// ReportScreenshot overwrites the agent's latest frame.
func (s *Store) ReportScreenshot(agentID int64, data []byte, contentType string) {
	frame := &domain.ScreenshotFrame{
		Data:        append([]byte(nil), data...),
		ContentType: contentType,
		CapturedAt:  time.Now().UTC(),
	}
	t := s.agent(agentID)
	t.mu.Lock()
	t.screenshot = frame
	t.mu.Unlock()
}

// Screenshot returns the latest frame, if any.
func (s *Store) Screenshot(agentID int64) (*domain.ScreenshotFrame, bool) {
	t := s.agent(agentID)
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.screenshot == nil {
		return nil, false
	}
	return t.screenshot, true
}

// ClearScreenshot drops the agent's latest frame.
func (s *Store) ClearScreenshot(agentID int64) {
	t := s.agent(agentID)
	t.mu.Lock()
	t.screenshot = nil
	t.mu.Unlock()
}

// loadSeqLocked reads the latest sequence id from storage once. t.mu must be held.
func (s *Store) loadSeqLocked(ctx context.Context, agentID int64, t *agentTelemetry) error {
	if t.seqLoaded {
		return nil
	}
	seq, err := s.history.LatestHistorySeq(ctx, agentID)
	if err != nil {
		return fmt.Errorf("failed to load latest history seq: %w", err)
	}
	t.latestSeq = seq
	t.seqLoaded = true
	return nil
}

// AppendHistory appends a message with the next sequence id of the agent.
func (s *Store) AppendHistory(ctx context.Context, agentID int64, message string) (*domain.HistoryEntry, error) {
	t := s.agent(agentID)
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := s.loadSeqLocked(ctx, agentID, t); err != nil {
		return nil, err
	}

	entry := &domain.HistoryEntry{
		AgentID:   agentID,
		Seq:       t.latestSeq + 1,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.history.AppendHistory(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append history: %w", err)
	}
	t.latestSeq = entry.Seq

	if s.retention > 0 && entry.Seq > s.retention {
		if _, err := s.history.PruneHistory(ctx, agentID, entry.Seq-s.retention); err != nil {
			s.logger.Warn("history prune failed", zap.Int64("agent_id", agentID), zap.Error(err))
		}
	}
	return entry, nil
}

// LatestSeq returns the newest sequence id of the agent. This is also the total
// number of entries ever appended, even when old entries were pruned.
func (s *Store) LatestSeq(ctx context.Context, agentID int64) (int64, error) {
	t := s.agent(agentID)
	t.mu.RLock()
	if t.seqLoaded {
		seq := t.latestSeq
		t.mu.RUnlock()
		return seq, nil
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := s.loadSeqLocked(ctx, agentID, t); err != nil {
		return 0, err
	}
	return t.latestSeq, nil
}

// LatestSince reports whether an entry newer than knownSeq exists.
func (s *Store) LatestSince(ctx context.Context, agentID int64, knownSeq int64) (bool, int64, error) {
	seq, err := s.LatestSeq(ctx, agentID)
	if err != nil {
		return false, 0, err
	}
	return seq > knownSeq, seq, nil
}

// FetchHistory returns the newest limit entries, newest first, plus the total count.
func (s *Store) FetchHistory(ctx context.Context, agentID int64, limit int) ([]domain.HistoryEntry, int64, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	total, err := s.LatestSeq(ctx, agentID)
	if err != nil {
		return nil, 0, err
	}
	entries, err := s.history.ListHistory(ctx, agentID, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list history: %w", err)
	}
	return entries, total, nil
}
