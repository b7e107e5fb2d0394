// Package persistence provides a SQLite-backed session archive of bus
// messages and terminal task results. The store is an explicit value owned
// by its creator; nothing here is process-global. State is written for the
// current session only and never reloaded on startup.
package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"multiagent/pkg/logx"
	"multiagent/pkg/proto"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	source_id      TEXT NOT NULL,
	target_id      TEXT NOT NULL,
	correlation_id TEXT,
	created_at     TIMESTAMP NOT NULL,
	payload        TEXT
);
CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);

CREATE TABLE IF NOT EXISTS task_results (
	task_id      TEXT PRIMARY KEY,
	description  TEXT,
	status       TEXT NOT NULL,
	error        TEXT,
	completed_at TIMESTAMP NOT NULL,
	result       TEXT
);
`

// Store archives messages and task outcomes for one session.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open creates or opens the archive database at the given path and ensures
// the schema exists.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{
		db:     db,
		logger: logx.NewLogger("persistence"),
	}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordMessage archives one bus message. Satisfies the bus history tap.
func (s *Store) RecordMessage(msg *proto.Message) error {
	var payload []byte
	if msg.Payload != nil {
		var err error
		payload, err = json.Marshal(msg.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}
	}
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO messages (id, type, source_id, target_id, correlation_id, created_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, string(msg.Type), msg.SourceID, msg.TargetID, msg.CorrelationID, msg.Timestamp, string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to archive message: %w", err)
	}
	return nil
}

// ArchivedMessage is one row of the message archive.
type ArchivedMessage struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	SourceID      string          `json:"source_id"`
	TargetID      string          `json:"target_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// RecentMessages returns up to limit archived messages, newest first.
func (s *Store) RecentMessages(limit int) ([]ArchivedMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, type, source_id, target_id, correlation_id, created_at, payload
		 FROM messages ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []ArchivedMessage
	for rows.Next() {
		var m ArchivedMessage
		var correlation, payload sql.NullString
		if err := rows.Scan(&m.ID, &m.Type, &m.SourceID, &m.TargetID, &correlation, &m.CreatedAt, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.CorrelationID = correlation.String
		if payload.String != "" {
			m.Payload = json.RawMessage(payload.String)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// TaskRecord is a terminal task outcome.
type TaskRecord struct {
	TaskID      string          `json:"task_id"`
	Description string          `json:"description,omitempty"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// RecordTaskResult archives a terminal task outcome. A later write for the
// same task replaces the earlier one.
func (s *Store) RecordTaskResult(rec *TaskRecord) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO task_results (task_id, description, status, error, completed_at, result)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.Description, rec.Status, rec.Error, rec.CompletedAt, string(rec.Result),
	)
	if err != nil {
		return fmt.Errorf("failed to archive task result: %w", err)
	}
	return nil
}

// TaskResults returns all archived task outcomes, newest first.
func (s *Store) TaskResults() ([]TaskRecord, error) {
	rows, err := s.db.Query(
		`SELECT task_id, description, status, error, completed_at, result
		 FROM task_results ORDER BY completed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query task results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var description, errMsg, result sql.NullString
		if err := rows.Scan(&rec.TaskID, &description, &rec.Status, &errMsg, &rec.CompletedAt, &result); err != nil {
			return nil, fmt.Errorf("failed to scan task result: %w", err)
		}
		rec.Description = description.String
		rec.Error = errMsg.String
		if result.String != "" {
			rec.Result = json.RawMessage(result.String)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
