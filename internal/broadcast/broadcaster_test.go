package broadcast

import (
	"testing"
	"time"

	"github.com/voxagent/voxagent/internal/domain"
)

func event(sessionID, conversationID string) domain.ProgressEvent {
	return domain.ProgressEvent{
		Type:           domain.EventResponse,
		SessionID:      sessionID,
		ConversationID: conversationID,
		Timestamp:      time.Now(),
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := NewBroadcaster(4)
	// Must not panic or block.
	b.Publish(event("s1", ""))
}

func TestTopicMatching(t *testing.T) {
	b := NewBroadcaster(4)

	all := b.Subscribe(TopicAll)
	bySession := b.Subscribe(SessionTopic("s1"))
	byConv := b.Subscribe(ConversationTopic("c1"))
	other := b.Subscribe(SessionTopic("s2"))
	defer b.Close()

	b.Publish(event("s1", "c1"))

	for name, sub := range map[string]*Subscriber{"all": all, "session": bySession, "conversation": byConv} {
		select {
		case got := <-sub.C():
			if got.SessionID != "s1" {
				t.Errorf("%s subscriber got wrong event: %+v", name, got)
			}
		default:
			t.Errorf("%s subscriber missed the event", name)
		}
	}

	select {
	case got := <-other.C():
		t.Errorf("Unrelated subscriber received event: %+v", got)
	default:
	}
}

func TestEmptyTopicsMeansEverything(t *testing.T) {
	b := NewBroadcaster(4)
	sub := b.Subscribe()
	defer b.Close()

	b.Publish(event("any", ""))
	select {
	case <-sub.C():
	default:
		t.Error("Subscriber with no topics should receive everything")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster(2)
	sub := b.Subscribe(TopicAll)
	defer b.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			b.Publish(event("s1", ""))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if n := len(sub.ch); n != 2 {
		t.Errorf("Expected buffer capped at 2 events, got %d", n)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(4)
	sub := b.Subscribe(TopicAll)

	b.Unsubscribe(sub)
	if _, ok := <-sub.C(); ok {
		t.Error("Expected closed channel after Unsubscribe")
	}
	// Second unsubscribe must not panic on double close.
	b.Unsubscribe(sub)

	if b.SubscriberCount() != 0 {
		t.Errorf("Expected 0 subscribers, got %d", b.SubscriberCount())
	}
}

func TestPayloadIsolation(t *testing.T) {
	b := NewBroadcaster(4)
	sub := b.Subscribe(TopicAll)
	defer b.Close()

	evt := event("s1", "")
	evt.Payload = map[string]any{"content": "original"}
	b.Publish(evt)
	evt.Payload["content"] = "mutated"

	got := <-sub.C()
	if got.Payload["content"] != "original" {
		t.Error("Queued event observed payload mutation")
	}
}

func TestSubscribeChurnDuringPublish(t *testing.T) {
	b := NewBroadcaster(4)
	defer b.Close()

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				sub := b.Subscribe(TopicAll)
				b.Unsubscribe(sub)
			}
		}
	}()

	for i := 0; i < 1000; i++ {
		b.Publish(event("s1", ""))
	}
	close(stop)
}
