// Package scheduler delivers the follow-up check-ins that
// CHECK_IN_LATER promises. Check-ins are one-shot tasks persisted to
// SQLite; delivery is an event on the bus that notifier subscribers
// (MQTT, the companion app's push channel) turn into an outbound ping.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miraii-health/elai-agent/internal/events"
)

// MissedWindow is how stale a pending check-in may be at startup and
// still fire. Older check-ins are skipped: a "how are you feeling"
// ping a day late does more harm than good.
const MissedWindow = 24 * time.Hour

// Scheduler manages pending check-ins and their timers.
type Scheduler struct {
	logger *slog.Logger
	store  *Store
	bus    *events.Bus

	mu      sync.Mutex
	timers  map[string]*time.Timer
	running bool
	wg      sync.WaitGroup
}

// New creates a scheduler.
func New(logger *slog.Logger, store *Store, bus *events.Bus) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger: logger,
		store:  store,
		bus:    bus,
		timers: make(map[string]*time.Timer),
	}
}

// Start loads pending check-ins and arms their timers. Check-ins past
// the missed window are skipped.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	pending, err := s.store.Pending()
	if err != nil {
		return fmt.Errorf("load pending checkins: %w", err)
	}

	armed, skipped := 0, 0
	for _, c := range pending {
		if time.Since(c.DueAt) > MissedWindow {
			if err := s.store.MarkSkipped(c.ID, "missed delivery window"); err != nil {
				s.logger.Error("skip stale checkin", "id", c.ID, "error", err)
			}
			skipped++
			continue
		}
		s.arm(c.ID, time.Until(c.DueAt))
		armed++
	}

	s.logger.Info("checkin scheduler started", "armed", armed, "skipped", skipped)
	return nil
}

// Stop cancels all timers and waits for in-flight deliveries.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("checkin scheduler stopped")
}

// ScheduleCheckIn records a follow-up for a conversation and arms its
// timer. Returns the check-in id.
func (s *Scheduler) ScheduleCheckIn(conversationID string, delay time.Duration) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate checkin id: %w", err)
	}

	c := &CheckIn{
		ID:             id.String(),
		ConversationID: conversationID,
		DueAt:          time.Now().Add(delay),
	}
	if err := s.store.Create(c); err != nil {
		return "", err
	}

	s.arm(c.ID, delay)

	s.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceScheduler,
		Kind:      events.KindCheckInScheduled,
		Data: map[string]any{
			"task_id":         c.ID,
			"conversation_id": conversationID,
			"due":             c.DueAt,
		},
	})
	s.logger.Info("checkin scheduled",
		"id", c.ID,
		"conversation_id", conversationID,
		"due", c.DueAt,
	)
	return c.ID, nil
}

// List returns check-ins for one conversation, newest first.
func (s *Scheduler) List(conversationID string, limit int) ([]*CheckIn, error) {
	return s.store.List(conversationID, limit)
}

// arm sets a timer for one check-in. A negative delay fires
// immediately.
func (s *Scheduler) arm(id string, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
	}
	s.timers[id] = time.AfterFunc(delay, func() { s.fire(id) })
}

// fire delivers one check-in.
func (s *Scheduler) fire(id string) {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.mu.Unlock()

	c, err := s.store.Get(id)
	if err != nil || c == nil {
		s.logger.Error("checkin lookup failed", "id", id, "error", err)
		return
	}
	if c.Status != StatusPending {
		return
	}

	if err := s.store.MarkFired(id); err != nil {
		s.logger.Error("mark checkin fired", "id", id, "error", err)
		return
	}

	s.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceScheduler,
		Kind:      events.KindCheckInFired,
		Data: map[string]any{
			"task_id":         c.ID,
			"conversation_id": c.ConversationID,
		},
	})
	s.logger.Info("checkin fired",
		"id", c.ID,
		"conversation_id", c.ConversationID,
	)
}

// Stats returns scheduler statistics.
func (s *Scheduler) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"running":       s.running,
		"active_timers": len(s.timers),
	}
}
