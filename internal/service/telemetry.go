package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/tenderwatch/internal/domain"
)

// ReportProgress replaces the agent's snapshot. A completed or error status
// ends the run; a running status is rejected while the agent is stopped.
func (s *Service) ReportProgress(ctx context.Context, agentID int64, report domain.ProgressReport) (*domain.ProcessSnapshot, error) {
	unlock := s.lockAgent(agentID)
	defer unlock()

	agent, err := s.getAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if report.Status == domain.ProcessStatusRunning && !agent.Running() {
		return nil, domain.ErrNotRunning
	}

	snapshot, err := s.telemetry.ReportProgress(agentID, domain.ProcessSnapshot{
		OpportunityID:  report.OpportunityID,
		ItemsCompleted: report.ItemsCompleted,
		ItemsTotal:     report.ItemsTotal,
		Status:         report.Status,
	})
	if err != nil {
		return nil, err
	}

	if agent.Running() && snapshot.Status.Terminal() {
		reason := "run " + string(snapshot.Status)
		if err := s.endRunLocked(ctx, agent, reason); err != nil {
			return nil, err
		}
	}
	return snapshot, nil
}

// Progress returns the current snapshot. An agent that never reported is idle.
func (s *Service) Progress(ctx context.Context, agentID int64) (*domain.ProcessSnapshot, error) {
	if _, err := s.getAgent(ctx, agentID); err != nil {
		return nil, err
	}
	if snap := s.telemetry.Snapshot(agentID); snap != nil {
		return snap, nil
	}
	return &domain.ProcessSnapshot{Status: domain.ProcessStatusIdle}, nil
}

// AppendHistory appends a line to the agent's history log.
func (s *Service) AppendHistory(ctx context.Context, agentID int64, message string) (*domain.HistoryEntry, error) {
	if message == "" {
		return nil, fmt.Errorf("%w: message is required", domain.ErrInvalidRequest)
	}
	if _, err := s.getAgent(ctx, agentID); err != nil {
		return nil, err
	}
	return s.telemetry.AppendHistory(ctx, agentID, message)
}

// recordSystemHistory appends a control plane note to the agent's history.
func (s *Service) recordSystemHistory(agentID int64, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.telemetry.AppendHistory(ctx, agentID, message); err != nil {
		s.logger.Warn("failed to record history", zap.Int64("agent_id", agentID), zap.Error(err))
	}
}

// FetchHistory returns the newest entries, newest first.
func (s *Service) FetchHistory(ctx context.Context, agentID int64, limit int) (*domain.HistoryResponse, error) {
	if _, err := s.getAgent(ctx, agentID); err != nil {
		return nil, err
	}
	entries, total, err := s.telemetry.FetchHistory(ctx, agentID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return &domain.HistoryResponse{
		Entries:   entries,
		Total:     total,
		LatestSeq: total,
	}, nil
}

// LatestSince reports whether the agent has history newer than since.
func (s *Service) LatestSince(ctx context.Context, agentID int64, since int64) (*domain.LatestSinceResponse, error) {
	if _, err := s.getAgent(ctx, agentID); err != nil {
		return nil, err
	}
	newer, latest, err := s.telemetry.LatestSince(ctx, agentID, since)
	if err != nil {
		return nil, err
	}
	return &domain.LatestSinceResponse{HasNewer: newer, LatestSeq: latest}, nil
}

// ReportScreenshot stores the latest frame. Frames are only kept while the
// agent is running.
func (s *Service) ReportScreenshot(ctx context.Context, agentID int64, data []byte, contentType string) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty screenshot", domain.ErrInvalidRequest)
	}

	unlock := s.lockAgent(agentID)
	defer unlock()

	agent, err := s.getAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if !agent.Running() {
		return domain.ErrNotRunning
	}
	s.telemetry.ReportScreenshot(agentID, data, contentType)
	return nil
}

// Screenshot returns the latest frame; ok is false when there is no image yet.
func (s *Service) Screenshot(ctx context.Context, agentID int64) (*domain.ScreenshotFrame, bool, error) {
	if _, err := s.getAgent(ctx, agentID); err != nil {
		return nil, false, err
	}
	frame, ok := s.telemetry.Screenshot(agentID)
	return frame, ok, nil
}
