// Package hub fans agent events out to subscribed operator sessions.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/tenderwatch/internal/domain"
)

// DefaultBuffer is the per-subscriber queue size. The connected event gets a
// slot of its own on top of it.
const DefaultBuffer = 32

// Subscriber is one live delivery channel for one agent.
// Events arrive on Send in publish order; Send is closed once the subscriber
// is removed from the hub.
type Subscriber struct {
	ID      string
	AgentID int64
	Send    chan domain.Event
}

type topic struct {
	mu   sync.RWMutex
	subs map[string]*Subscriber
}

// Hub manages subscribers per agent.
type Hub struct {
	buffer int
	logger *zap.Logger

	mu     sync.RWMutex
	topics map[int64]*topic
}

// NewHub creates a new Hub.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		buffer: buffer,
		logger: logger,
		topics: make(map[int64]*topic),
	}
}

func (h *Hub) topic(agentID int64, create bool) *topic {
	h.mu.RLock()
	t, ok := h.topics[agentID]
	h.mu.RUnlock()
	if ok || !create {
		return t
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok = h.topics[agentID]; !ok {
		t = &topic{subs: make(map[string]*Subscriber)}
		h.topics[agentID] = t
	}
	return t
}

// Subscribe registers a new subscriber for the agent. The connected event is
// queued before any other event can reach it.
func (h *Hub) Subscribe(agentID int64) *Subscriber {
	sub := &Subscriber{
		ID:      "sub_" + uuid.New().String()[:8],
		AgentID: agentID,
		Send:    make(chan domain.Event, h.buffer+1),
	}
	sub.Send <- newEvent(domain.EventTypeConnected, agentID, domain.ConnectedPayload{SubscriberID: sub.ID})

	t := h.topic(agentID, true)
	t.mu.Lock()
	t.subs[sub.ID] = sub
	n := len(t.subs)
	t.mu.Unlock()

	h.logger.Debug("subscriber registered",
		zap.Int64("agent_id", agentID),
		zap.String("subscriber_id", sub.ID),
		zap.Int("subscribers", n))
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. It reports false
// when the subscriber was already gone.
func (h *Hub) Unsubscribe(sub *Subscriber) bool {
	t := h.topic(sub.AgentID, false)
	if t == nil {
		return false
	}
	t.mu.Lock()
	if _, ok := t.subs[sub.ID]; !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.subs, sub.ID)
	close(sub.Send)
	t.mu.Unlock()

	h.logger.Debug("subscriber removed",
		zap.Int64("agent_id", sub.AgentID),
		zap.String("subscriber_id", sub.ID))
	return true
}

// Publish delivers an event to every subscriber of the agent without blocking.
// A subscriber whose queue is full is dropped.
func (h *Hub) Publish(agentID int64, eventType domain.EventType, payload any) {
	t := h.topic(agentID, false)
	if t == nil {
		return
	}
	h.deliver(t, newEvent(eventType, agentID, payload))
}

func (h *Hub) deliver(t *topic, event domain.Event) {
	var slow []*Subscriber
	t.mu.RLock()
	for _, sub := range t.subs {
		select {
		case sub.Send <- event:
		default:
			slow = append(slow, sub)
		}
	}
	t.mu.RUnlock()

	for _, sub := range slow {
		if h.Unsubscribe(sub) {
			h.logger.Warn("subscriber buffer full, dropping",
				zap.Int64("agent_id", sub.AgentID),
				zap.String("subscriber_id", sub.ID),
				zap.String("event", string(event.Type)))
		}
	}
}

// Heartbeat sends a keep-alive to every subscriber of every agent.
func (h *Hub) Heartbeat() {
	h.mu.RLock()
	topics := make(map[int64]*topic, len(h.topics))
	for id, t := range h.topics {
		topics[id] = t
	}
	h.mu.RUnlock()

	for agentID, t := range topics {
		h.deliver(t, newEvent(domain.EventTypeHeartbeat, agentID, nil))
	}
}

// Run emits heartbeats until ctx is done, then closes every subscriber.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Close()
			return
		case <-ticker.C:
			h.Heartbeat()
		}
	}
}

// SubscriberCount returns the number of subscribers of the agent.
func (h *Hub) SubscriberCount(agentID int64) int {
	t := h.topic(agentID, false)
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Count returns the number of subscribers across all agents.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, t := range h.topics {
		t.mu.RLock()
		n += len(t.subs)
		t.mu.RUnlock()
	}
	return n
}

// Close removes every subscriber.
func (h *Hub) Close() {
	h.mu.RLock()
	var subs []*Subscriber
	for _, t := range h.topics {
		t.mu.RLock()
		for _, sub := range t.subs {
			subs = append(subs, sub)
		}
		t.mu.RUnlock()
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		h.Unsubscribe(sub)
	}
}

func newEvent(eventType domain.EventType, agentID int64, payload any) domain.Event {
	event := domain.Event{
		Type:    eventType,
		AgentID: agentID,
		Ts:      time.Now().UnixMilli(),
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			event.Payload = data
		}
	}
	return event
}
