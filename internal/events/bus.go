// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (orchestrator, dispatcher,
// scheduler, API layer) to subscribers (MQTT notifier, tests, future
// metrics collector). The bus is nil-safe: calling Publish on a nil *Bus
// is a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceAgent identifies events from the turn orchestrator.
	SourceAgent = "agent"
	// SourceActions identifies events from the action dispatcher.
	SourceActions = "actions"
	// SourceSpeech identifies events from the synthesis pipeline.
	SourceSpeech = "speech"
	// SourceScheduler identifies events from the check-in scheduler.
	SourceScheduler = "scheduler"
	// SourceAPI identifies events from the HTTP layer.
	SourceAPI = "api"
)

// Kind constants describe the type of event within a source.
const (
	// KindTurnStart signals the beginning of a conversation turn.
	// Data: conversation_id, mode ("text" or "voice").
	KindTurnStart = "turn_start"
	// KindLLMCall signals the start of a completion call.
	// Data: conversation_id, model.
	KindLLMCall = "llm_call"
	// KindLLMFallback signals the completion backend was unavailable and
	// the canned responder answered instead.
	// Data: conversation_id.
	KindLLMFallback = "llm_fallback"
	// KindTurnComplete signals the end of a conversation turn.
	// Data: conversation_id, mode, actions, elapsed_ms.
	KindTurnComplete = "turn_complete"

	// KindActionExtracted signals an action tag was found in a reply.
	// Data: conversation_id, action, data.
	KindActionExtracted = "action_extracted"
	// KindActionDispatched signals an action was handled.
	// Data: conversation_id, action, status.
	KindActionDispatched = "action_dispatched"
	// KindSOSRaised signals an emergency alert was triggered.
	// Data: conversation_id.
	KindSOSRaised = "sos_raised"
	// KindCaregiverShare signals an update was shared with a caregiver.
	// Data: conversation_id, summary.
	KindCaregiverShare = "caregiver_share"

	// KindSpeechSynthesized signals a synthesis artifact was produced.
	// Data: provider, bytes.
	KindSpeechSynthesized = "speech_synthesized"

	// KindCheckInScheduled signals a follow-up check-in was recorded.
	// Data: task_id, conversation_id, due.
	KindCheckInScheduled = "checkin_scheduled"
	// KindCheckInFired signals a scheduled check-in came due.
	// Data: task_id, conversation_id.
	KindCheckInFired = "checkin_fired"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so Unsubscribe
	// can accept <-chan Event (the caller's view).
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
