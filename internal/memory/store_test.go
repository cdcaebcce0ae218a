package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/miraii-health/elai-agent/internal/health"
)

func TestAppendAndHistory(t *testing.T) {
	s := NewStore(0)

	s.Append("conv_a", Turn{Role: "user", Content: "hello"})
	s.Append("conv_a", Turn{Role: "assistant", Content: "hi there"})

	turns := s.History("conv_a")
	if len(turns) != 2 {
		t.Fatalf("len = %d, want 2", len(turns))
	}
	if turns[0].Content != "hello" || turns[1].Content != "hi there" {
		t.Errorf("order wrong: %+v", turns)
	}
	if turns[0].Timestamp.IsZero() {
		t.Error("timestamp not filled in")
	}
}

func TestHistoryUnknownSession(t *testing.T) {
	s := NewStore(0)
	if turns := s.History("conv_missing"); len(turns) != 0 {
		t.Errorf("unknown session history = %v", turns)
	}
	if snap := s.Snapshot("conv_missing"); snap != nil {
		t.Errorf("unknown session snapshot = %v", snap)
	}
}

func TestAppendDropsOldest(t *testing.T) {
	s := NewStore(5)
	for i := 0; i < 6; i++ {
		s.Append("conv_a", Turn{Role: "user", Content: fmt.Sprintf("msg %d", i)})
	}

	turns := s.History("conv_a")
	if len(turns) != 5 {
		t.Fatalf("len = %d, want 5", len(turns))
	}
	if turns[0].Content != "msg 1" {
		t.Errorf("oldest retained = %q, want msg 1", turns[0].Content)
	}
	if turns[4].Content != "msg 5" {
		t.Errorf("newest = %q, want msg 5", turns[4].Content)
	}
}

func TestRecent(t *testing.T) {
	s := NewStore(0)
	for i := 0; i < 10; i++ {
		s.Append("conv_a", Turn{Role: "user", Content: fmt.Sprintf("msg %d", i)})
	}

	turns := s.Recent("conv_a", 6)
	if len(turns) != 6 {
		t.Fatalf("len = %d, want 6", len(turns))
	}
	if turns[0].Content != "msg 4" || turns[5].Content != "msg 9" {
		t.Errorf("window wrong: first=%q last=%q", turns[0].Content, turns[5].Content)
	}
}

func TestSnapshotLastWriteWins(t *testing.T) {
	s := NewStore(0)
	s.SetSnapshot("conv_a", health.Snapshot{"heart_rate": 70.0})
	s.SetSnapshot("conv_a", health.Snapshot{"heart_rate": 120.0})

	snap := s.Snapshot("conv_a")
	if snap == nil {
		t.Fatal("snapshot missing")
	}
	if hr, _ := snap["heart_rate"].(float64); hr != 120.0 {
		t.Errorf("heart_rate = %v, want 120", snap["heart_rate"])
	}
}

func TestClearRemovesHistoryAndSnapshot(t *testing.T) {
	s := NewStore(0)
	s.Append("conv_a", Turn{Role: "user", Content: "hello"})
	s.SetSnapshot("conv_a", health.Snapshot{"steps": 100.0})

	s.Clear("conv_a")

	if turns := s.History("conv_a"); len(turns) != 0 {
		t.Errorf("history after clear = %v", turns)
	}
	if snap := s.Snapshot("conv_a"); snap != nil {
		t.Errorf("snapshot after clear = %v", snap)
	}
	// Clearing again is a no-op.
	s.Clear("conv_a")
}

func TestSessionsIndependent(t *testing.T) {
	s := NewStore(0)
	s.Append("conv_a", Turn{Role: "user", Content: "a"})
	s.Append("conv_b", Turn{Role: "user", Content: "b"})

	s.Clear("conv_a")

	if turns := s.History("conv_b"); len(turns) != 1 || turns[0].Content != "b" {
		t.Errorf("conv_b affected by conv_a clear: %v", turns)
	}
}

func TestSessionsListing(t *testing.T) {
	s := NewStore(0)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	s.Append("conv_old", Turn{Role: "user", Content: "a", Timestamp: base})
	s.Append("conv_new", Turn{Role: "user", Content: "b", Timestamp: base.Add(time.Minute)})
	s.Append("conv_new", Turn{Role: "assistant", Content: "c", Timestamp: base.Add(2 * time.Minute)})

	sessions := s.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("len = %d, want 2", len(sessions))
	}
	if sessions[0].ConversationID != "conv_new" || sessions[0].TurnCount != 2 {
		t.Errorf("first = %+v, want conv_new with 2 turns", sessions[0])
	}
	if !sessions[0].LastAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("first LastAt = %v", sessions[0].LastAt)
	}
	if sessions[1].ConversationID != "conv_old" || sessions[1].TurnCount != 1 {
		t.Errorf("second = %+v, want conv_old with 1 turn", sessions[1])
	}

	s.Clear("conv_new")
	if sessions = s.Sessions(); len(sessions) != 1 || sessions[0].ConversationID != "conv_old" {
		t.Errorf("after clear = %+v", sessions)
	}
}

func TestSessionsEmptyStore(t *testing.T) {
	s := NewStore(0)
	if sessions := s.Sessions(); len(sessions) != 0 {
		t.Errorf("empty store sessions = %+v", sessions)
	}
}

func TestConcurrentAppend(t *testing.T) {
	s := NewStore(100)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("conv_%d", n%2)
			for j := 0; j < 50; j++ {
				s.Append(id, Turn{Role: "user", Content: "x"})
				_ = s.History(id)
			}
		}(i)
	}
	wg.Wait()

	if got := s.SessionCount(); got != 2 {
		t.Errorf("SessionCount = %d, want 2", got)
	}
	stats := s.Stats()
	if stats["max_per_conv"] != 100 {
		t.Errorf("Stats max_per_conv = %v", stats["max_per_conv"])
	}
}
