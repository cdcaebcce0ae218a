package actions

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/miraii-health/elai-agent/internal/events"
)

type fakeDiary struct {
	entries []string
	err     error
}

func (f *fakeDiary) LogSymptom(conversationID, symptom string) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, symptom)
	return nil
}

type fakeScheduler struct {
	scheduled []time.Duration
}

func (f *fakeScheduler) ScheduleCheckIn(conversationID string, delay time.Duration) (string, error) {
	f.scheduled = append(f.scheduled, delay)
	return "task-1", nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestDispatchBreathingExercise(t *testing.T) {
	d := NewDispatcher(quietLogger(), nil, nil, nil)
	rec := d.Dispatch(context.Background(), "conv_a", Action{Type: TypeBreathingExercise})

	if rec.Status != StatusProcessed {
		t.Errorf("Status = %q", rec.Status)
	}
	if rec.Message != "Breathing exercise session started" {
		t.Errorf("Message = %q", rec.Message)
	}
	if rec.ExerciseType != "4-7-8" || rec.DurationSeconds != 120 {
		t.Errorf("exercise fields = %q/%d", rec.ExerciseType, rec.DurationSeconds)
	}
	if rec.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestDispatchSOSAlert(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(8)
	defer bus.Unsubscribe(ch)

	d := NewDispatcher(quietLogger(), bus, nil, nil)
	rec := d.Dispatch(context.Background(), "conv_a", Action{Type: TypeSOSAlert})

	if rec.Message != "SOS alert triggered - emergency contacts notified" {
		t.Errorf("Message = %q", rec.Message)
	}
	if !rec.AlertSent {
		t.Error("AlertSent = false")
	}

	var kinds []string
	for len(ch) > 0 {
		kinds = append(kinds, (<-ch).Kind)
	}
	if len(kinds) != 2 || kinds[0] != events.KindSOSRaised || kinds[1] != events.KindActionDispatched {
		t.Errorf("event kinds = %v", kinds)
	}
}

func TestDispatchLogSymptom(t *testing.T) {
	diary := &fakeDiary{}
	d := NewDispatcher(quietLogger(), nil, diary, nil)
	rec := d.Dispatch(context.Background(), "conv_a", Action{Type: TypeLogSymptom, Data: strPtr("headache")})

	if rec.Message != "Symptom logged: headache" {
		t.Errorf("Message = %q", rec.Message)
	}
	if rec.Symptom != "headache" {
		t.Errorf("Symptom = %q", rec.Symptom)
	}
	if len(diary.entries) != 1 || diary.entries[0] != "headache" {
		t.Errorf("diary entries = %v", diary.entries)
	}
}

func TestDispatchLogSymptomDiaryFailure(t *testing.T) {
	diary := &fakeDiary{err: errors.New("disk full")}
	d := NewDispatcher(quietLogger(), nil, diary, nil)
	rec := d.Dispatch(context.Background(), "conv_a", Action{Type: TypeLogSymptom, Data: strPtr("headache")})

	// The conversational acknowledgment already happened; the record
	// still reports processed.
	if rec.Status != StatusProcessed {
		t.Errorf("Status = %q", rec.Status)
	}
}

func TestDispatchCheckInLater(t *testing.T) {
	sched := &fakeScheduler{}
	d := NewDispatcher(quietLogger(), nil, nil, sched)
	rec := d.Dispatch(context.Background(), "conv_a", Action{Type: TypeCheckInLater})

	if rec.Message != "Follow-up check-in scheduled" {
		t.Errorf("Message = %q", rec.Message)
	}
	if rec.ScheduledMinutes != 30 {
		t.Errorf("ScheduledMinutes = %d", rec.ScheduledMinutes)
	}
	if len(sched.scheduled) != 1 || sched.scheduled[0] != 30*time.Minute {
		t.Errorf("scheduled = %v", sched.scheduled)
	}
}

func TestDispatchShareWithCaregiver(t *testing.T) {
	d := NewDispatcher(quietLogger(), nil, nil, nil)
	rec := d.Dispatch(context.Background(), "conv_a",
		Action{Type: TypeShareWithCaregiver, Data: strPtr("slept poorly")})

	if rec.Message != "Update sent to caregiver: slept poorly" {
		t.Errorf("Message = %q", rec.Message)
	}
	if !rec.Shared {
		t.Error("Shared = false")
	}
}

func TestDispatchUnknownType(t *testing.T) {
	d := NewDispatcher(quietLogger(), nil, nil, nil)
	rec := d.Dispatch(context.Background(), "conv_a", Action{Type: "DANCE_PARTY"})

	if rec.Status != StatusUnhandled {
		t.Errorf("Status = %q, want %q", rec.Status, StatusUnhandled)
	}
	if rec.Message != "" {
		t.Errorf("Message = %q, want empty", rec.Message)
	}
}
