package challenge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xiaot623/tenderwatch/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu       sync.Mutex
	raised   []int64
	resolved []domain.Resolution
}

func (r *recorder) ChallengeRaised(agentID int64, _ domain.ChallengeStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raised = append(r.raised, agentID)
}

func (r *recorder) ChallengeResolved(_ int64, res domain.Resolution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = append(r.resolved, res)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.raised), len(r.resolved)
}

func (r *recorder) outcomes() []domain.ChallengeOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ChallengeOutcome, len(r.resolved))
	for i, res := range r.resolved {
		out[i] = res.Outcome
	}
	return out
}

func newTestManager(t *testing.T, window time.Duration) (*Manager, *recorder) {
	t.Helper()
	rec := &recorder{}
	m := NewManager(window, rec, nil)
	t.Cleanup(m.Close)
	return m, rec
}

func TestRequestIsIdempotentWhileWaiting(t *testing.T) {
	m, rec := newTestManager(t, time.Minute)

	first, created := m.Request(7)
	assert.True(t, created)
	second, created := m.Request(7)
	assert.False(t, created)
	assert.Equal(t, first.ChallengeID, second.ChallengeID)

	raised, _ := rec.counts()
	assert.Equal(t, 1, raised)

	status := m.Status(7)
	assert.True(t, status.NeedsCode)
	assert.Equal(t, domain.ChallengeStateWaiting, status.State)
	assert.NotNil(t, status.RequestedAt)
	assert.Greater(t, status.RemainingMs, int64(0))
	assert.Equal(t, time.Minute.Milliseconds(), status.WindowMs)
}

func TestConcurrentRequestsRaiseOneChallenge(t *testing.T) {
	m, rec := newTestManager(t, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Request(3)
		}()
	}
	wg.Wait()

	raised, _ := rec.counts()
	assert.Equal(t, 1, raised)
}

func TestSubmitDeliversCodeExactlyOnce(t *testing.T) {
	m, rec := newTestManager(t, time.Minute)
	m.Request(7)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got := make(chan domain.Resolution, 1)
	go func() {
		res, err := m.Await(ctx, 7)
		assert.NoError(t, err)
		got <- res
	}()

	status, err := m.Submit(7, "482913")
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeStateSubmitted, status.State)
	assert.False(t, status.NeedsCode)

	res := <-got
	assert.Equal(t, domain.ChallengeOutcomeSubmitted, res.Outcome)
	assert.Equal(t, "482913", res.Code)

	_, err = m.Await(ctx, 7)
	assert.True(t, errors.Is(err, domain.ErrCodeConsumed))

	assert.Equal(t, domain.ChallengeStateNone, m.Status(7).State)

	_, err = m.Submit(7, "482913")
	assert.True(t, errors.Is(err, domain.ErrNoActiveChallenge))
	assert.Equal(t, []domain.ChallengeOutcome{domain.ChallengeOutcomeSubmitted}, rec.outcomes())
}

func TestAwaitAfterSubmitReturnsCode(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	m.Request(1)
	_, err := m.Submit(1, "1111")
	require.NoError(t, err)

	res, err := m.Await(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "1111", res.Code)
}

func TestResolvedEventNeverCarriesCode(t *testing.T) {
	m, rec := newTestManager(t, time.Minute)
	m.Request(1)
	_, err := m.Submit(1, "999999")
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.resolved, 1)
	assert.Empty(t, rec.resolved[0].Code)
}

func TestSubmitValidation(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)

	_, err := m.Submit(1, "123")
	assert.True(t, errors.Is(err, domain.ErrNoActiveChallenge))

	m.Request(1)
	_, err = m.Submit(1, "")
	assert.True(t, errors.Is(err, domain.ErrInvalidCode))
	assert.Equal(t, domain.ChallengeStateWaiting, m.Status(1).State)
}

func TestCancelSignalsWaitingAgent(t *testing.T) {
	m, rec := newTestManager(t, time.Minute)

	assert.False(t, m.Cancel(1, "nothing waiting"))

	m.Request(1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got := make(chan domain.Resolution, 1)
	go func() {
		res, err := m.Await(ctx, 1)
		assert.NoError(t, err)
		got <- res
	}()

	assert.True(t, m.Cancel(1, "declined by operator"))
	assert.False(t, m.Cancel(1, "double click"))

	res := <-got
	assert.Equal(t, domain.ChallengeOutcomeCancelled, res.Outcome)
	assert.Equal(t, "declined by operator", res.Reason)

	_, err := m.Submit(1, "123456")
	assert.True(t, errors.Is(err, domain.ErrNoActiveChallenge))
	assert.Equal(t, domain.ChallengeStateNone, m.Status(1).State)
	assert.Equal(t, []domain.ChallengeOutcome{domain.ChallengeOutcomeCancelled}, rec.outcomes())

	// A fresh challenge may be raised later in the same run.
	_, created := m.Request(1)
	assert.True(t, created)
}

func TestExpiryResolvesOnce(t *testing.T) {
	m, rec := newTestManager(t, 60*time.Millisecond)
	m.Request(9)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := m.Await(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeOutcomeExpired, res.Outcome)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, domain.ChallengeStateNone, m.Status(9).State)
	assert.Equal(t, []domain.ChallengeOutcome{domain.ChallengeOutcomeExpired}, rec.outcomes())

	_, err = m.Submit(9, "123456")
	assert.True(t, errors.Is(err, domain.ErrNoActiveChallenge))

	// The outcome is handed out once.
	_, err = m.Await(ctx, 9)
	assert.True(t, errors.Is(err, domain.ErrNoActiveChallenge))
}

func TestExpiryHonoursWindow(t *testing.T) {
	window := 80 * time.Millisecond
	m, _ := newTestManager(t, window)

	start := time.Now()
	m.Request(2)
	res, err := m.Await(context.Background(), 2)
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.Equal(t, domain.ChallengeOutcomeExpired, res.Outcome)
	assert.GreaterOrEqual(t, elapsed, window)
	assert.Less(t, elapsed, window+500*time.Millisecond)
}

func TestStaleTimerIsNoOp(t *testing.T) {
	m, rec := newTestManager(t, time.Minute)
	first, _ := m.Request(4)
	_, err := m.Submit(4, "1")
	require.NoError(t, err)
	_, err = m.Await(context.Background(), 4)
	require.NoError(t, err)

	second, created := m.Request(4)
	require.True(t, created)

	// Firing the first challenge's expiry must not touch the second one.
	m.expire(4, first.ChallengeID)
	assert.Equal(t, second.ChallengeID, m.Status(4).ChallengeID)
	assert.Equal(t, domain.ChallengeStateWaiting, m.Status(4).State)

	_, resolved := rec.counts()
	assert.Equal(t, 1, resolved)
}

func TestLateSubmitReportsExpired(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	m.Request(5)

	// Simulate a deadline passing before the timer goroutine runs.
	s := m.slot(5)
	s.mu.Lock()
	s.current.deadline = time.Now().Add(-time.Millisecond)
	s.mu.Unlock()

	_, err := m.Submit(5, "123")
	assert.True(t, errors.Is(err, domain.ErrChallengeExpired))
	assert.True(t, errors.Is(err, domain.ErrNoActiveChallenge))
	assert.Equal(t, domain.ChallengeStateNone, m.Status(5).State)
}

func TestDiscardDropsUnreadCode(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	m.Request(6)
	_, err := m.Submit(6, "42")
	require.NoError(t, err)

	assert.False(t, m.Discard(6, "agent stopped"))
	assert.Equal(t, domain.ChallengeStateNone, m.Status(6).State)

	_, err = m.Await(context.Background(), 6)
	assert.Error(t, err)
}

func TestAwaitHonoursContext(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	m.Request(8)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Await(ctx, 8)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, domain.ChallengeStateWaiting, m.Status(8).State)
}

func TestAgentsAreIndependent(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	m.Request(1)
	m.Request(2)

	assert.True(t, m.Cancel(1, "operator"))
	assert.Equal(t, domain.ChallengeStateWaiting, m.Status(2).State)
}
