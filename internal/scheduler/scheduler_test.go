package scheduler

import (
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/miraii-health/elai-agent/internal/events"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "checkins.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func quiet() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestStoreCreateAndPending(t *testing.T) {
	store := newTestStore(t)

	c := &CheckIn{
		ID:             "chk-1",
		ConversationID: "conv_a",
		DueAt:          time.Now().Add(30 * time.Minute),
	}
	if err := store.Create(c); err != nil {
		t.Fatalf("Create: %v", err)
	}

	pending, err := store.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "chk-1" {
		t.Fatalf("pending = %+v", pending)
	}
	if pending[0].Status != StatusPending {
		t.Errorf("Status = %q", pending[0].Status)
	}

	if err := store.MarkFired("chk-1"); err != nil {
		t.Fatalf("MarkFired: %v", err)
	}
	got, err := store.Get("chk-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusFired || got.FiredAt == nil {
		t.Errorf("after fire: %+v", got)
	}

	pending, _ = store.Pending()
	if len(pending) != 0 {
		t.Errorf("pending after fire = %+v", pending)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	got, err := store.Get("nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil", got)
	}
}

func TestScheduleCheckInFires(t *testing.T) {
	store := newTestStore(t)
	bus := events.New()
	ch := bus.Subscribe(8)
	defer bus.Unsubscribe(ch)

	s := New(quiet(), store, bus)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	id, err := s.ScheduleCheckIn("conv_a", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("ScheduleCheckIn: %v", err)
	}

	var scheduled, fired bool
	deadline := time.After(2 * time.Second)
	for !fired {
		select {
		case e := <-ch:
			switch e.Kind {
			case events.KindCheckInScheduled:
				scheduled = true
			case events.KindCheckInFired:
				fired = true
				if e.Data["task_id"] != id {
					t.Errorf("fired task_id = %v, want %v", e.Data["task_id"], id)
				}
			}
		case <-deadline:
			t.Fatal("checkin never fired")
		}
	}
	if !scheduled {
		t.Error("no scheduled event seen")
	}

	// Give the store update a moment, then verify status.
	var got *CheckIn
	for i := 0; i < 50; i++ {
		got, _ = store.Get(id)
		if got != nil && got.Status == StatusFired {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got == nil || got.Status != StatusFired {
		t.Errorf("checkin status = %+v, want fired", got)
	}
}

func TestStartSkipsStaleCheckIns(t *testing.T) {
	store := newTestStore(t)

	stale := &CheckIn{
		ID:             "chk-stale",
		ConversationID: "conv_a",
		DueAt:          time.Now().Add(-48 * time.Hour),
	}
	if err := store.Create(stale); err != nil {
		t.Fatal(err)
	}
	fresh := &CheckIn{
		ID:             "chk-fresh",
		ConversationID: "conv_a",
		DueAt:          time.Now().Add(time.Hour),
	}
	if err := store.Create(fresh); err != nil {
		t.Fatal(err)
	}

	s := New(quiet(), store, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	got, _ := store.Get("chk-stale")
	if got.Status != StatusSkipped {
		t.Errorf("stale status = %q, want skipped", got.Status)
	}
	gotFresh, _ := store.Get("chk-fresh")
	if gotFresh.Status != StatusPending {
		t.Errorf("fresh status = %q, want pending", gotFresh.Status)
	}

	stats := s.Stats()
	if stats["active_timers"] != 1 {
		t.Errorf("active_timers = %v, want 1", stats["active_timers"])
	}
}
