package actions

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestActionDataSerializesNullWhenAbsent(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	b, err := json.Marshal(Action{Type: TypeCheckInLater, Timestamp: ts})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"data":null`) {
		t.Errorf("payload-less action = %s, want data null", b)
	}

	b, err = json.Marshal(Action{Type: TypeLogSymptom, Data: strPtr("dizziness"), Timestamp: ts})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"data":"dizziness"`) {
		t.Errorf("action with payload = %s, want data string", b)
	}
}
