package domain

import (
	"fmt"
	"time"
)

// ProcessSnapshot is the current progress of an agent's run.
type ProcessSnapshot struct {
	OpportunityID  string        `json:"opportunity_id,omitempty"`
	ItemsCompleted int           `json:"items_completed"`
	ItemsTotal     int           `json:"items_total"`
	Status         ProcessStatus `json:"status"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Validate checks the snapshot invariants.
func (p *ProcessSnapshot) Validate() error {
	if !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidSnapshot, p.Status)
	}
	if p.ItemsCompleted < 0 || p.ItemsTotal < 0 {
		return fmt.Errorf("%w: negative item counts", ErrInvalidSnapshot)
	}
	if p.ItemsTotal > 0 && p.ItemsCompleted > p.ItemsTotal {
		return fmt.Errorf("%w: items_completed %d exceeds items_total %d", ErrInvalidSnapshot, p.ItemsCompleted, p.ItemsTotal)
	}
	return nil
}

// HistoryEntry is one immutable line of an agent's history log.
type HistoryEntry struct {
	AgentID   int64     `json:"agent_id"`
	Seq       int64     `json:"seq"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// ScreenshotFrame is the most recent image an agent reported.
type ScreenshotFrame struct {
	Data        []byte    `json:"-"`
	ContentType string    `json:"content_type"`
	CapturedAt  time.Time `json:"captured_at"`
}
