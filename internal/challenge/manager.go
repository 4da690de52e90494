// Package challenge mediates the human verification code an agent may need
// mid-run when the procurement portal asks for email confirmation.
//
// Per agent the state machine is
//
//	none --Request--> waiting --Submit--> submitted --(Await consumes)--> none
//	waiting --Cancel--> none
//	waiting --deadline--> none
//
// Every waiting challenge owns exactly one timer. Resolving the challenge stops
// it, and a timer that fires anyway only acts while the same challenge is still
// waiting.
package challenge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/tenderwatch/internal/domain"
)

// DefaultWindow is the response window enforced server-side.
const DefaultWindow = 60 * time.Second

// Listener is told about challenge transitions. Calls happen outside of any
// manager lock, once per transition.
type Listener interface {
	ChallengeRaised(agentID int64, status domain.ChallengeStatus)
	ChallengeResolved(agentID int64, resolution domain.Resolution)
}

// Manager holds at most one outstanding challenge per agent.
type Manager struct {
	window   time.Duration
	listener Listener
	logger   *zap.Logger

	mu    sync.Mutex
	slots map[int64]*slot
}

type slot struct {
	mu      sync.Mutex
	current *challenge
	// last is the most recently resolved challenge that is no longer current.
	last *challenge
}

type challenge struct {
	id          string
	state       domain.ChallengeState
	requestedAt time.Time
	deadline    time.Time
	timer       *time.Timer
	done        chan struct{}
	resolution  domain.Resolution
	consumed    bool
}

// NewManager creates a challenge manager. A zero window uses DefaultWindow.
func NewManager(window time.Duration, listener Listener, logger *zap.Logger) *Manager {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		window:   window,
		listener: listener,
		logger:   logger,
		slots:    make(map[int64]*slot),
	}
}

// Window returns the configured response window.
func (m *Manager) Window() time.Duration {
	return m.window
}

func (m *Manager) slot(agentID int64) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[agentID]
	if !ok {
		s = &slot{}
		m.slots[agentID] = s
	}
	return s
}

// Request raises a challenge for the agent. If one is already waiting the call
// is absorbed and created is false.
func (m *Manager) Request(agentID int64) (status domain.ChallengeStatus, created bool) {
	s := m.slot(agentID)

	s.mu.Lock()
	if c := s.current; c != nil && c.state == domain.ChallengeStateWaiting {
		status = m.statusLocked(agentID, c)
		s.mu.Unlock()
		return status, false
	}

	now := time.Now()
	c := &challenge{
		id:          "chl_" + uuid.New().String()[:8],
		state:       domain.ChallengeStateWaiting,
		requestedAt: now,
		deadline:    now.Add(m.window),
		done:        make(chan struct{}),
	}
	id := c.id
	c.timer = time.AfterFunc(m.window, func() { m.expire(agentID, id) })
	s.current = c
	s.last = nil
	status = m.statusLocked(agentID, c)
	s.mu.Unlock()

	m.logger.Info("verification challenge raised",
		zap.Int64("agent_id", agentID),
		zap.String("challenge_id", id),
		zap.Duration("window", m.window))
	if m.listener != nil {
		m.listener.ChallengeRaised(agentID, status)
	}
	return status, true
}

// Status returns the current challenge view of the agent.
func (m *Manager) Status(agentID int64) domain.ChallengeStatus {
	s := m.slot(agentID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.statusLocked(agentID, s.current)
}

func (m *Manager) statusLocked(agentID int64, c *challenge) domain.ChallengeStatus {
	status := domain.ChallengeStatus{
		AgentID:  agentID,
		State:    domain.ChallengeStateNone,
		WindowMs: m.window.Milliseconds(),
	}
	if c == nil {
		return status
	}
	status.ChallengeID = c.id
	status.State = c.state
	requestedAt, deadline := c.requestedAt, c.deadline
	status.RequestedAt = &requestedAt
	status.Deadline = &deadline
	if c.state == domain.ChallengeStateWaiting {
		status.NeedsCode = true
		if remaining := time.Until(deadline); remaining > 0 {
			status.RemainingMs = remaining.Milliseconds()
		}
	}
	return status
}

// Submit stores the operator's code for the waiting agent.
func (m *Manager) Submit(agentID int64, code string) (domain.ChallengeStatus, error) {
	if code == "" {
		return domain.ChallengeStatus{}, domain.ErrInvalidCode
	}
	s := m.slot(agentID)

	s.mu.Lock()
	c := s.current
	if c == nil || c.state != domain.ChallengeStateWaiting {
		s.mu.Unlock()
		return domain.ChallengeStatus{}, domain.ErrNoActiveChallenge
	}
	if !time.Now().Before(c.deadline) {
		// The timer is about to fire; resolve now so the late code is never delivered.
		res := m.resolveLocked(s, c, domain.ChallengeOutcomeExpired, "", "response window elapsed")
		s.mu.Unlock()
		m.notifyResolved(agentID, res)
		return domain.ChallengeStatus{}, domain.ErrChallengeExpired
	}
	res := m.resolveLocked(s, c, domain.ChallengeOutcomeSubmitted, code, "")
	status := m.statusLocked(agentID, c)
	s.mu.Unlock()

	m.notifyResolved(agentID, res)
	return status, nil
}

// Cancel withdraws the waiting challenge. It reports false when nothing was waiting.
func (m *Manager) Cancel(agentID int64, reason string) bool {
	s := m.slot(agentID)

	s.mu.Lock()
	c := s.current
	if c == nil || c.state != domain.ChallengeStateWaiting {
		s.mu.Unlock()
		return false
	}
	res := m.resolveLocked(s, c, domain.ChallengeOutcomeCancelled, "", reason)
	s.mu.Unlock()

	m.notifyResolved(agentID, res)
	return true
}

// Discard cancels a waiting challenge and drops a submitted code that was never
// picked up. It is used when the agent's run ends.
func (m *Manager) Discard(agentID int64, reason string) bool {
	if m.Cancel(agentID, reason) {
		return true
	}
	s := m.slot(agentID)
	s.mu.Lock()
	if c := s.current; c != nil && c.state == domain.ChallengeStateSubmitted {
		c.consumed = true
		c.state = domain.ChallengeStateNone
		s.current = nil
		s.last = nil
	}
	s.mu.Unlock()
	return false
}

func (m *Manager) expire(agentID int64, challengeID string) {
	s := m.slot(agentID)

	s.mu.Lock()
	c := s.current
	if c == nil || c.id != challengeID || c.state != domain.ChallengeStateWaiting {
		s.mu.Unlock()
		return
	}
	res := m.resolveLocked(s, c, domain.ChallengeOutcomeExpired, "", "response window elapsed")
	s.mu.Unlock()

	m.notifyResolved(agentID, res)
}

// resolveLocked moves a waiting challenge to its outcome and wakes awaiting agents.
// s.mu must be held.
func (m *Manager) resolveLocked(s *slot, c *challenge, outcome domain.ChallengeOutcome, code, reason string) domain.Resolution {
	c.timer.Stop()
	c.resolution = domain.Resolution{
		ChallengeID: c.id,
		Outcome:     outcome,
		Code:        code,
		Reason:      reason,
	}
	if outcome == domain.ChallengeOutcomeSubmitted {
		c.state = domain.ChallengeStateSubmitted
	} else {
		c.state = domain.ChallengeStateNone
		s.current = nil
		s.last = c
	}
	close(c.done)
	return c.resolution
}

func (m *Manager) notifyResolved(agentID int64, res domain.Resolution) {
	m.logger.Info("verification challenge resolved",
		zap.Int64("agent_id", agentID),
		zap.String("challenge_id", res.ChallengeID),
		zap.String("outcome", string(res.Outcome)),
		zap.String("reason", res.Reason))
	if m.listener != nil {
		res.Code = ""
		m.listener.ChallengeResolved(agentID, res)
	}
}

// Await blocks until the agent's challenge is resolved or ctx is done.
// A submitted code is handed out exactly once; later reads get ErrCodeConsumed.
// A cancelled or expired outcome is handed out once as well.
func (m *Manager) Await(ctx context.Context, agentID int64) (domain.Resolution, error) {
	s := m.slot(agentID)

	s.mu.Lock()
	c := s.current
	if c == nil {
		defer s.mu.Unlock()
		if s.last == nil {
			return domain.Resolution{}, domain.ErrNoActiveChallenge
		}
		return deliverLocked(s, s.last)
	}
	done := c.done
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return domain.Resolution{}, ctx.Err()
	case <-done:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return deliverLocked(s, c)
}

// deliverLocked hands a resolved challenge to its single consumer. s.mu must be held.
func deliverLocked(s *slot, c *challenge) (domain.Resolution, error) {
	if c.consumed {
		if c.resolution.Outcome == domain.ChallengeOutcomeSubmitted {
			return domain.Resolution{}, domain.ErrCodeConsumed
		}
		return domain.Resolution{}, domain.ErrNoActiveChallenge
	}
	c.consumed = true
	if c.resolution.Outcome == domain.ChallengeOutcomeSubmitted {
		c.state = domain.ChallengeStateNone
		if s.current == c {
			s.current = nil
			s.last = c
		}
	}
	return c.resolution, nil
}

// Close cancels every waiting challenge and stops their timers.
func (m *Manager) Close() {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.slots))
	for id := range m.slots {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Discard(id, "control plane shutting down")
	}
}
