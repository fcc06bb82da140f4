// Package broadcast fans progress events out to topic subscribers. Delivery
// is best-effort: a slow or closed sink is skipped, never blocking the
// orchestration loop.
package broadcast

import (
	"log/slog"
	"sync"

	"github.com/voxagent/voxagent/internal/domain"
)

// TopicAll receives every session's events.
const TopicAll = "all"

// SessionTopic returns the topic carrying one session's events.
func SessionTopic(sessionID string) string {
	return "session:" + sessionID
}

// ConversationTopic returns the topic carrying one conversation's events.
func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}

// Subscriber is one consumer's registration. Events arrive on C until
// Unsubscribe closes it.
type Subscriber struct {
	id     int64
	topics map[string]struct{}
	ch     chan domain.ProgressEvent
	once   sync.Once
}

// C returns the subscriber's event channel.
func (s *Subscriber) C() <-chan domain.ProgressEvent {
	return s.ch
}

func (s *Subscriber) matches(evt domain.ProgressEvent) bool {
	if _, ok := s.topics[TopicAll]; ok {
		return true
	}
	if _, ok := s.topics[SessionTopic(evt.SessionID)]; ok {
		return true
	}
	if evt.ConversationID != "" {
		if _, ok := s.topics[ConversationTopic(evt.ConversationID)]; ok {
			return true
		}
	}
	return false
}

// Broadcaster maintains the subscriber registry. Subscribe/unsubscribe may
// race with in-flight publishes; publishes write to a snapshot of the
// registry so registry mutation never trips a delivery.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[int64]*Subscriber
	nextID  int64
	bufSize int
}

// NewBroadcaster creates a broadcaster whose subscriber channels buffer
// bufSize events each.
func NewBroadcaster(bufSize int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Broadcaster{
		subs:    make(map[int64]*Subscriber),
		bufSize: bufSize,
	}
}

// Subscribe registers a consumer for the given topics. With no topics the
// subscriber receives everything.
func (b *Broadcaster) Subscribe(topics ...string) *Subscriber {
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	if len(set) == 0 {
		set[TopicAll] = struct{}{}
	}

	b.mu.Lock()
	b.nextID++
	sub := &Subscriber{
		id:     b.nextID,
		topics: set,
		ch:     make(chan domain.ProgressEvent, b.bufSize),
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Safe to call
// more than once.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	_, registered := b.subs[sub.id]
	delete(b.subs, sub.id)
	b.mu.Unlock()
	if registered {
		sub.once.Do(func() { close(sub.ch) })
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers the event to every matching subscriber. Events are
// value-copied before queuing; a full sink drops the event for that sink
// only. Publishing with zero subscribers is a no-op.
func (b *Broadcaster) Publish(evt domain.ProgressEvent) {
	b.mu.RLock()
	matched := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.matches(evt) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		select {
		case sub.ch <- evt.ClonePayload():
		default:
			slog.Debug("Broadcast subscriber lagging, event dropped",
				"session_id", evt.SessionID, "type", evt.Type)
		}
	}
}

// Close unsubscribes everyone, closing their channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[int64]*Subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.ch) })
	}
}
