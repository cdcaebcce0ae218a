// Package memory provides conversation memory: a bounded in-memory
// session store that feeds prompt assembly, and a SQLite archive for
// durable transcripts and the symptom diary. The in-memory store is
// authoritative for prompt context; the archive never influences it.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/miraii-health/elai-agent/internal/health"
)

// DefaultMaxTurns is the per-session turn cap when none is configured.
const DefaultMaxTurns = 20

// Turn is one utterance in a conversation.
type Turn struct {
	Role      string         `json:"role"` // "user" or "assistant"
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Store manages per-session conversation history and health snapshots.
// Sessions are independently locked so a slow operation on one session
// never blocks another.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session
	maxTurns int
}

type session struct {
	mu       sync.Mutex
	turns    []Turn
	snapshot health.Snapshot
}

// NewStore creates a session store. maxTurns <= 0 selects
// DefaultMaxTurns.
func NewStore(maxTurns int) *Store {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Store{
		sessions: make(map[string]*session),
		maxTurns: maxTurns,
	}
}

// get returns the session for id, creating it if needed.
func (s *Store) get(id string) *session {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok = s.sessions[id]; ok {
		return sess
	}
	sess = &session{}
	s.sessions[id] = sess
	return sess
}

// Append records a turn for a session, creating the session if it does
// not exist. When the session exceeds the cap, the oldest turns are
// dropped.
func (s *Store) Append(id string, t Turn) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}

	sess := s.get(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.turns = append(sess.turns, t)
	if len(sess.turns) > s.maxTurns {
		drop := len(sess.turns) - s.maxTurns
		sess.turns = append(sess.turns[:0], sess.turns[drop:]...)
	}
}

// History returns a copy of all retained turns for a session, oldest
// first. Unknown sessions yield an empty slice.
func (s *Store) History(id string) []Turn {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return []Turn{}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]Turn, len(sess.turns))
	copy(out, sess.turns)
	return out
}

// Recent returns a copy of the last n turns for a session, oldest
// first.
func (s *Store) Recent(id string, n int) []Turn {
	turns := s.History(id)
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns
}

// SetSnapshot replaces the health snapshot for a session. Last write
// wins.
func (s *Store) SetSnapshot(id string, snap health.Snapshot) {
	sess := s.get(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.snapshot = snap
}

// Snapshot returns the current health snapshot for a session, or nil
// when none was recorded.
func (s *Store) Snapshot(id string) health.Snapshot {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshot
}

// Clear removes a session's history and snapshot. Unknown sessions are
// a no-op.
func (s *Store) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// SessionInfo summarizes one live session.
type SessionInfo struct {
	ConversationID string    `json:"conversation_id"`
	TurnCount      int       `json:"turn_count"`
	LastAt         time.Time `json:"last_at"`
}

// Sessions lists live sessions, most recently active first. Sessions
// holding only a snapshot report zero turns and a zero LastAt.
func (s *Store) Sessions() []SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SessionInfo, 0, len(s.sessions))
	for id, sess := range s.sessions {
		sess.mu.Lock()
		info := SessionInfo{ConversationID: id, TurnCount: len(sess.turns)}
		if n := len(sess.turns); n > 0 {
			info.LastAt = sess.turns[n-1].Timestamp
		}
		sess.mu.Unlock()
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastAt.Equal(out[j].LastAt) {
			return out[i].LastAt.After(out[j].LastAt)
		}
		return out[i].ConversationID < out[j].ConversationID
	})
	return out
}

// SessionCount returns the number of live sessions.
func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Stats returns store statistics for the status endpoint and
// telemetry.
func (s *Store) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totalTurns := 0
	for _, sess := range s.sessions {
		sess.mu.Lock()
		totalTurns += len(sess.turns)
		sess.mu.Unlock()
	}

	return map[string]any{
		"sessions":     len(s.sessions),
		"turns":        totalTurns,
		"max_per_conv": s.maxTurns,
	}
}
