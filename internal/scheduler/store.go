package scheduler

import (
	"database/sql"
	"fmt"
	"time"
)

// Check-in statuses.
const (
	StatusPending = "pending"
	StatusFired   = "fired"
	StatusSkipped = "skipped"
)

// CheckIn is one scheduled follow-up.
type CheckIn struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	DueAt          time.Time  `json:"due_at"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	FiredAt        *time.Time `json:"fired_at,omitempty"`
	Note           string     `json:"note,omitempty"`
}

// Store persists check-ins. It shares a database connection with the
// conversation archive.
type Store struct {
	db *sql.DB
}

// NewStore creates the check-in store, creating its table if needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("checkin migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkins (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			due_at          TEXT NOT NULL,
			status          TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			fired_at        TEXT,
			note            TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_checkins_status
			ON checkins(status, due_at);
		CREATE INDEX IF NOT EXISTS idx_checkins_conversation
			ON checkins(conversation_id, due_at);
	`)
	return err
}

// Create inserts a pending check-in.
func (s *Store) Create(c *CheckIn) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = StatusPending
	}

	_, err := s.db.Exec(`
		INSERT INTO checkins (id, conversation_id, due_at, status, created_at, note)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.ConversationID,
		c.DueAt.UTC().Format(time.RFC3339Nano), c.Status,
		c.CreatedAt.UTC().Format(time.RFC3339Nano), nullString(c.Note))
	if err != nil {
		return fmt.Errorf("create checkin: %w", err)
	}
	return nil
}

// Get retrieves one check-in by id.
func (s *Store) Get(id string) (*CheckIn, error) {
	row := s.db.QueryRow(`
		SELECT id, conversation_id, due_at, status, created_at, fired_at, note
		FROM checkins WHERE id = ?
	`, id)
	return scanCheckIn(row)
}

// Pending returns all pending check-ins ordered by due time.
func (s *Store) Pending() ([]*CheckIn, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, due_at, status, created_at, fired_at, note
		FROM checkins
		WHERE status = ?
		ORDER BY due_at ASC
	`, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("pending checkins: %w", err)
	}
	defer rows.Close()

	var out []*CheckIn
	for rows.Next() {
		c, err := scanCheckIn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// List returns check-ins for one conversation, newest first.
func (s *Store) List(conversationID string, limit int) ([]*CheckIn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, conversation_id, due_at, status, created_at, fired_at, note
		FROM checkins
		WHERE conversation_id = ?
		ORDER BY due_at DESC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list checkins: %w", err)
	}
	defer rows.Close()

	var out []*CheckIn
	for rows.Next() {
		c, err := scanCheckIn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkFired records that a check-in came due and was delivered.
func (s *Store) MarkFired(id string) error {
	_, err := s.db.Exec(`
		UPDATE checkins SET status = ?, fired_at = ? WHERE id = ?
	`, StatusFired, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("mark checkin fired: %w", err)
	}
	return nil
}

// MarkSkipped records that a check-in missed its window.
func (s *Store) MarkSkipped(id, reason string) error {
	_, err := s.db.Exec(`
		UPDATE checkins SET status = ?, note = ? WHERE id = ?
	`, StatusSkipped, reason, id)
	if err != nil {
		return fmt.Errorf("mark checkin skipped: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckIn(row rowScanner) (*CheckIn, error) {
	var c CheckIn
	var dueStr, createdStr string
	var firedStr, note sql.NullString

	err := row.Scan(&c.ID, &c.ConversationID, &dueStr, &c.Status, &createdStr, &firedStr, &note)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkin: %w", err)
	}

	c.DueAt, _ = time.Parse(time.RFC3339Nano, dueStr)
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	if firedStr.Valid {
		t, _ := time.Parse(time.RFC3339Nano, firedStr.String)
		c.FiredAt = &t
	}
	if note.Valid {
		c.Note = note.String
	}
	return &c, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
