package actions

import (
	"context"
	"log/slog"
	"time"

	"github.com/miraii-health/elai-agent/internal/events"
)

// SymptomLogger appends entries to the symptom diary.
type SymptomLogger interface {
	LogSymptom(conversationID, symptom string) error
}

// CheckInScheduler records a follow-up check-in for a conversation.
type CheckInScheduler interface {
	ScheduleCheckIn(conversationID string, delay time.Duration) (string, error)
}

// Breathing exercise defaults started by BREATHING_EXERCISE.
const (
	DefaultExerciseType     = "4-7-8"
	DefaultExerciseDuration = 120 * time.Second
)

// CheckInDelay is how far ahead CHECK_IN_LATER schedules a follow-up.
const CheckInDelay = 30 * time.Minute

// Dispatcher routes parsed actions to their side effects. All
// collaborators are optional; a nil collaborator means the action is
// acknowledged without that side effect.
type Dispatcher struct {
	logger   *slog.Logger
	bus      *events.Bus
	diary    SymptomLogger
	checkins CheckInScheduler
}

// NewDispatcher creates a dispatcher. Pass nil for collaborators that
// are not wired in this deployment.
func NewDispatcher(logger *slog.Logger, bus *events.Bus, diary SymptomLogger, checkins CheckInScheduler) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:   logger,
		bus:      bus,
		diary:    diary,
		checkins: checkins,
	}
}

// Dispatch carries out one action and returns its status record.
// Dispatch never fails: collaborator errors are logged and the record
// still reports the action as processed, since the conversational
// acknowledgment already happened.
func (d *Dispatcher) Dispatch(ctx context.Context, conversationID string, a Action) StatusRecord {
	rec := StatusRecord{
		Action:    a.Type,
		Status:    StatusProcessed,
		Timestamp: time.Now().UTC(),
	}

	switch a.Type {
	case TypeBreathingExercise:
		rec.Message = "Breathing exercise session started"
		rec.ExerciseType = DefaultExerciseType
		rec.DurationSeconds = int(DefaultExerciseDuration.Seconds())

	case TypeSOSAlert:
		rec.Message = "SOS alert triggered - emergency contacts notified"
		rec.AlertSent = true
		d.bus.Publish(events.Event{
			Timestamp: rec.Timestamp,
			Source:    events.SourceActions,
			Kind:      events.KindSOSRaised,
			Data:      map[string]any{"conversation_id": conversationID},
		})

	case TypeLogSymptom:
		symptom := a.payload()
		rec.Message = "Symptom logged: " + symptom
		rec.Symptom = symptom
		if d.diary != nil {
			if err := d.diary.LogSymptom(conversationID, symptom); err != nil {
				d.logger.Error("symptom diary write failed",
					"conversation_id", conversationID,
					"error", err,
				)
			}
		}

	case TypeCheckInLater:
		rec.Message = "Follow-up check-in scheduled"
		rec.ScheduledMinutes = int(CheckInDelay.Minutes())
		if d.checkins != nil {
			if _, err := d.checkins.ScheduleCheckIn(conversationID, CheckInDelay); err != nil {
				d.logger.Error("check-in scheduling failed",
					"conversation_id", conversationID,
					"error", err,
				)
			}
		}

	case TypeShareWithCaregiver:
		summary := a.payload()
		rec.Message = "Update sent to caregiver: " + summary
		rec.Shared = true
		d.bus.Publish(events.Event{
			Timestamp: rec.Timestamp,
			Source:    events.SourceActions,
			Kind:      events.KindCaregiverShare,
			Data: map[string]any{
				"conversation_id": conversationID,
				"summary":         summary,
			},
		})

	default:
		rec.Status = StatusUnhandled
		d.logger.Warn("unhandled action type",
			"conversation_id", conversationID,
			"action", a.Type,
		)
	}

	d.bus.Publish(events.Event{
		Timestamp: rec.Timestamp,
		Source:    events.SourceActions,
		Kind:      events.KindActionDispatched,
		Data: map[string]any{
			"conversation_id": conversationID,
			"action":          a.Type,
			"status":          rec.Status,
		},
	})

	d.logger.Info("action dispatched",
		"conversation_id", conversationID,
		"action", a.Type,
		"status", rec.Status,
	)
	return rec
}
