// Package actions handles the agentic action tags the model embeds in
// its replies: extracting them from text, and dispatching them to the
// components that carry them out.
package actions

import "time"

// Known action types. The model is prompted with exactly this set;
// anything else that parses as a tag is dispatched as unhandled.
const (
	TypeBreathingExercise  = "BREATHING_EXERCISE"
	TypeSOSAlert           = "SOS_ALERT"
	TypeLogSymptom         = "LOG_SYMPTOM"
	TypeCheckInLater       = "CHECK_IN_LATER"
	TypeShareWithCaregiver = "SHARE_WITH_CAREGIVER"
)

// Action is one parsed action tag. Data is nil for tags without a
// payload and serializes as null, so clients can tell a missing
// payload from an empty one.
type Action struct {
	Type      string    `json:"type"`
	Data      *string   `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// payload returns the data payload, or "" when the tag carried none.
func (a Action) payload() string {
	if a.Data == nil {
		return ""
	}
	return *a.Data
}

// Known reports whether the action type is one the dispatcher handles.
func (a Action) Known() bool {
	switch a.Type {
	case TypeBreathingExercise, TypeSOSAlert, TypeLogSymptom,
		TypeCheckInLater, TypeShareWithCaregiver:
		return true
	}
	return false
}

// Dispatch statuses.
const (
	StatusProcessed = "processed"
	StatusUnhandled = "unhandled"
)

// StatusRecord describes the outcome of dispatching one action. Only
// the fields relevant to the action type are populated.
type StatusRecord struct {
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`

	// BREATHING_EXERCISE
	ExerciseType    string `json:"exercise_type,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`

	// SOS_ALERT
	AlertSent bool `json:"alert_sent,omitempty"`

	// LOG_SYMPTOM
	Symptom string `json:"symptom,omitempty"`

	// CHECK_IN_LATER
	ScheduledMinutes int `json:"scheduled_minutes,omitempty"`

	// SHARE_WITH_CAREGIVER
	Shared bool `json:"shared,omitempty"`
}
