package hub

import (
	"context"
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

func next(t *testing.T, sub *Subscriber) domain.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Send:
		require.True(t, ok, "subscriber channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return domain.Event{}
}

func TestSubscribeQueuesConnectedFirst(t *testing.T) {
	h := NewHub(4, nil)
	sub := h.Subscribe(7)
	h.Publish(7, domain.EventTypeVerificationNeeded, nil)

	ev := next(t, sub)
	assert.Equal(t, domain.EventTypeConnected, ev.Type)
	assert.Contains(t, string(ev.Payload), sub.ID)

	ev = next(t, sub)
	assert.Equal(t, domain.EventTypeVerificationNeeded, ev.Type)
	assert.Equal(t, int64(7), ev.AgentID)
	assert.Empty(t, ev.Payload)
}

func TestPublishFansOutPerAgent(t *testing.T) {
	h := NewHub(4, nil)
	a1 := h.Subscribe(1)
	a2 := h.Subscribe(1)
	other := h.Subscribe(2)
	next(t, a1)
	next(t, a2)
	next(t, other)

	h.Publish(1, domain.EventTypeVerificationNeeded, nil)

	assert.Equal(t, domain.EventTypeVerificationNeeded, next(t, a1).Type)
	assert.Equal(t, domain.EventTypeVerificationNeeded, next(t, a2).Type)
	assert.Len(t, other.Send, 0)
	assert.Equal(t, 2, h.SubscriberCount(1))
	assert.Equal(t, 3, h.Count())
}

func TestSlowSubscriberIsPruned(t *testing.T) {
	h := NewHub(2, nil)
	slow := h.Subscribe(1)
	fast := h.Subscribe(1)

	for i := 0; i < 3; i++ {
		h.Publish(1, domain.EventTypeHeartbeat, nil)
		next(t, fast)
	}

	assert.Equal(t, 1, h.SubscriberCount(1))

	// The slow subscriber keeps connected plus two events, then sees the channel close.
	var got int
	for range slow.Send {
		got++
	}
	assert.Equal(t, 3, got)
}

func TestSingleSlotBufferSurvivesFirstEvent(t *testing.T) {
	h := NewHub(1, nil)
	sub := h.Subscribe(7)

	h.Publish(7, domain.EventTypeVerificationNeeded, nil)
	assert.Equal(t, 1, h.SubscriberCount(7))

	assert.Equal(t, domain.EventTypeConnected, next(t, sub).Type)
	assert.Equal(t, domain.EventTypeVerificationNeeded, next(t, sub).Type)

	h.Unsubscribe(sub)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub(2, nil)
	sub := h.Subscribe(3)

	assert.True(t, h.Unsubscribe(sub))
	assert.False(t, h.Unsubscribe(sub))
	assert.Equal(t, 0, h.SubscriberCount(3))

	// Publishing to an agent with no subscribers is a no-op.
	h.Publish(3, domain.EventTypeVerificationNeeded, nil)
	h.Publish(99, domain.EventTypeVerificationNeeded, nil)
}

func TestHeartbeatKeepsOrder(t *testing.T) {
	h := NewHub(8, nil)
	sub := h.Subscribe(5)
	next(t, sub)

	h.Publish(5, domain.EventTypeVerificationNeeded, nil)
	h.Heartbeat()

	assert.Equal(t, domain.EventTypeVerificationNeeded, next(t, sub).Type)
	assert.Equal(t, domain.EventTypeHeartbeat, next(t, sub).Type)
}

func TestRunClosesSubscribersOnShutdown(t *testing.T) {
	h := NewHub(8, nil)
	sub := h.Subscribe(1)
	next(t, sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Equal(t, domain.EventTypeHeartbeat, next(t, sub).Type)
	cancel()
	<-done

	for range sub.Send {
	}
	assert.Equal(t, 0, h.Count())
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	h := NewHub(1, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := h.Subscribe(1)
			h.Publish(1, domain.EventTypeHeartbeat, nil)
			h.Unsubscribe(sub)
		}()
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Publish(1, domain.EventTypeVerificationNeeded, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, h.SubscriberCount(1))
}
