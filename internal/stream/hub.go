// ABOUTME: In-process fan-out of delivered messages and field snapshots to live subscribers
// ABOUTME: Publishing never blocks; slow subscribers lose events instead of stalling writers

package stream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/fieldnet-gateway/internal/store"
)

const subscriberBufferSize = 64

// FieldTopic carries every field snapshot.
const FieldTopic = "field"

// AgentTopic carries messages delivered to one agent.
func AgentTopic(agentID string) string { return "agent:" + agentID }

// Event kinds.
const (
	KindMessage = "message"
	KindField   = "field"
)

// Event is one published item. Exactly one of Message or Field is set.
type Event struct {
	Kind    string
	Message *store.Message
	Field   *store.FieldSnapshot
}

// Hub is a topic-keyed pub/sub.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // topic -> subID -> ch
	logger      *slog.Logger
}

// NewHub creates a Hub. Pass nil for the default logger.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]map[string]chan Event),
		logger:      logger.With("component", "stream"),
	}
}

// Subscribe registers for events on topic until ctx is done.
func (h *Hub) Subscribe(ctx context.Context, topic string) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	h.mu.Lock()
	if _, ok := h.subscribers[topic]; !ok {
		h.subscribers[topic] = make(map[string]chan Event)
	}
	h.subscribers[topic][subID] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)

	go func() {
		<-ctx.Done()
		h.Unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Publish delivers ev to every subscriber of topic without blocking.
func (h *Hub) Publish(topic string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subscribers[topic] {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("dropped event for slow subscriber", "topic", topic, "sub_id", id, "kind", ev.Kind)
		}
	}
}

// PublishMessage sends msg to its recipient's topic.
func (h *Hub) PublishMessage(msg *store.Message) {
	h.Publish(AgentTopic(msg.ToAgent), Event{Kind: KindMessage, Message: msg})
}

// PublishField sends snap to the field topic.
func (h *Hub) PublishField(snap *store.FieldSnapshot) {
	h.Publish(FieldTopic, Event{Kind: KindField, Field: snap})
}

// Subscribers returns the number of subscribers on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[topic])
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(topic, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[topic]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}
	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(h.subscribers, topic)
	}
}

// Close closes every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic, subs := range h.subscribers {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(h.subscribers, topic)
	}
}
