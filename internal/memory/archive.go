package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// ArchiveStore persists transcripts and the symptom diary to SQLite.
// The archive is append-only: clearing a live session never removes
// its archived turns.
type ArchiveStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// ArchivedTurn is a turn as preserved in the archive.
type ArchivedTurn struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Metadata       string    `json:"metadata,omitempty"`
}

// SessionSummary describes one archived conversation.
type SessionSummary struct {
	ConversationID string    `json:"conversation_id"`
	TurnCount      int       `json:"turn_count"`
	FirstAt        time.Time `json:"first_at"`
	LastAt         time.Time `json:"last_at"`
}

// SymptomEntry is one row of the symptom diary.
type SymptomEntry struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Symptom        string    `json:"symptom"`
	LoggedAt       time.Time `json:"logged_at"`
}

// NewArchiveStore opens (or creates) the archive database at dbPath.
// Pass nil for logger to suppress startup logging.
func NewArchiveStore(dbPath string, logger *slog.Logger) (*ArchiveStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}

	s := &ArchiveStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive migrate: %w", err)
	}

	if logger != nil {
		logger.Info("conversation archive initialized", "path", dbPath)
	}
	return s, nil
}

func (s *ArchiveStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS turns (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			timestamp       TEXT NOT NULL,
			metadata        TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_turns_conversation
			ON turns(conversation_id, timestamp);

		CREATE TABLE IF NOT EXISTS symptoms (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			symptom         TEXT NOT NULL,
			logged_at       TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_symptoms_conversation
			ON symptoms(conversation_id, logged_at);
	`)
	return err
}

// DB returns the underlying database connection so other stores (the
// check-in schedule) can share it without opening a second file handle.
func (s *ArchiveStore) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *ArchiveStore) Close() error {
	return s.db.Close()
}

// RecordTurn appends a turn to the archive.
func (s *ArchiveStore) RecordTurn(conversationID string, t Turn) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate turn id: %w", err)
	}

	var metaJSON any
	if len(t.Metadata) > 0 {
		b, err := json.Marshal(t.Metadata)
		if err != nil {
			return fmt.Errorf("marshal turn metadata: %w", err)
		}
		metaJSON = string(b)
	}

	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = s.db.Exec(`
		INSERT INTO turns (id, conversation_id, role, content, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id.String(), conversationID, t.Role, t.Content, ts.UTC().Format(time.RFC3339Nano), metaJSON)
	if err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	return nil
}

// Sessions lists archived conversations, most recently active first.
func (s *ArchiveStore) Sessions(limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT conversation_id, COUNT(*), MIN(timestamp), MAX(timestamp)
		FROM turns
		GROUP BY conversation_id
		ORDER BY MAX(timestamp) DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var firstStr, lastStr string
		if err := rows.Scan(&sum.ConversationID, &sum.TurnCount, &firstStr, &lastStr); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sum.FirstAt, _ = time.Parse(time.RFC3339Nano, firstStr)
		sum.LastAt, _ = time.Parse(time.RFC3339Nano, lastStr)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// SessionTurns returns the full archived transcript of one
// conversation in chronological order.
func (s *ArchiveStore) SessionTurns(conversationID string) ([]ArchivedTurn, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, timestamp, metadata
		FROM turns
		WHERE conversation_id = ?
		ORDER BY timestamp ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("session turns: %w", err)
	}
	defer rows.Close()

	var out []ArchivedTurn
	for rows.Next() {
		var t ArchivedTurn
		var tsStr string
		var meta sql.NullString
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Role, &t.Content, &tsStr, &meta); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Timestamp, _ = time.Parse(time.RFC3339Nano, tsStr)
		if meta.Valid {
			t.Metadata = meta.String
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LogSymptom appends an entry to the symptom diary.
func (s *ArchiveStore) LogSymptom(conversationID, symptom string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate symptom id: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO symptoms (id, conversation_id, symptom, logged_at)
		VALUES (?, ?, ?, ?)
	`, id.String(), conversationID, symptom, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("log symptom: %w", err)
	}
	return nil
}

// Symptoms returns the symptom diary for a conversation, newest first.
// An empty conversationID returns entries across all conversations.
func (s *ArchiveStore) Symptoms(conversationID string, limit int) ([]SymptomEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, conversation_id, symptom, logged_at
		FROM symptoms
		ORDER BY logged_at DESC
		LIMIT ?
	`
	args := []any{limit}
	if conversationID != "" {
		query = `
			SELECT id, conversation_id, symptom, logged_at
			FROM symptoms
			WHERE conversation_id = ?
			ORDER BY logged_at DESC
			LIMIT ?
		`
		args = []any{conversationID, limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list symptoms: %w", err)
	}
	defer rows.Close()

	var out []SymptomEntry
	for rows.Next() {
		var e SymptomEntry
		var tsStr string
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.Symptom, &tsStr); err != nil {
			return nil, fmt.Errorf("scan symptom: %w", err)
		}
		e.LoggedAt, _ = time.Parse(time.RFC3339Nano, tsStr)
		out = append(out, e)
	}
	return out, rows.Err()
}
