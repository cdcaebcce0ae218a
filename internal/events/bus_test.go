package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch := b.Subscribe(4)
	defer b.Unsubscribe(ch)

	b.Publish(Event{
		Timestamp: time.Now(),
		Source:    SourceAgent,
		Kind:      KindTurnStart,
		Data:      map[string]any{"conversation_id": "conv_abc"},
	})

	select {
	case e := <-ch:
		if e.Source != SourceAgent || e.Kind != KindTurnStart {
			t.Errorf("got %s/%s", e.Source, e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestPublishNilBus(t *testing.T) {
	var b *Bus
	// Must not panic.
	b.Publish(Event{Source: SourceAgent, Kind: KindTurnStart})
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount on nil = %d", got)
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Publish(Event{Kind: "first"})
	b.Publish(Event{Kind: "second"}) // buffer full, dropped

	e := <-ch
	if e.Kind != "first" {
		t.Errorf("got %q, want first", e.Kind)
	}
	select {
	case e := <-ch:
		t.Errorf("unexpected second event %q", e.Kind)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	b.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("channel not closed after Unsubscribe")
	}
	// Second unsubscribe is a no-op.
	b.Unsubscribe(ch)

	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}
}
