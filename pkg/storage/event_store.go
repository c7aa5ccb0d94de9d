package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dougsko/rigmacros/pkg/logging"
)

// Recording lifecycle events
const (
	RecordingStarted = "started"
	RecordingStopped = "stopped"
	RecordingSaved   = "saved"
	RecordingDeleted = "deleted"
	RecordingDied    = "died"
)

// KeyingEvent is one completed or rejected keying operation
type KeyingEvent struct {
	ID           int64         `json:"id"`
	OperationID  string        `json:"operation_id"`
	Kind         string        `json:"kind"`
	ActionID     string        `json:"action_id"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Success      bool          `json:"success"`
	Keyed        bool          `json:"keyed"`
	Unkeyed      bool          `json:"unkeyed"`
	PriorMode    string        `json:"prior_mode,omitempty"`
	Restored     bool          `json:"restored"`
	ToolExitCode int           `json:"tool_exit_code"`
	Error        string        `json:"error,omitempty"`
}

// RecordingEvent is one recorder lifecycle transition
type RecordingEvent struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Event     string    `json:"event"`
	FilePath  string    `json:"file_path"`
	Timestamp time.Time `json:"timestamp"`
}

// EventStore keeps the keying and recording history in SQLite
type EventStore struct {
	db        *sql.DB
	dbPath    string
	maxEvents int
}

// NewEventStore creates a new event store with SQLite backend
func NewEventStore(dbPath string, maxEvents int) (*EventStore, error) {
	store := &EventStore{
		dbPath:    dbPath,
		maxEvents: maxEvents,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize event store: %w", err)
	}

	return store, nil
}

// initialize sets up the database connection and creates tables
func (es *EventStore) initialize() error {
	if es.dbPath == "" {
		es.dbPath = "./rigmacros.db"
	}

	if err := os.MkdirAll(filepath.Dir(es.dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	connectionString := es.dbPath + "?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on"

	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	es.db = db

	if err := es.createTables(); err != nil {
		db.Close()
		return fmt.Errorf("failed to create tables: %w", err)
	}

	if err := es.createIndexes(); err != nil {
		db.Close()
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logging.Infof("storage", "Event store initialized: %s (max %d events)", es.dbPath, es.maxEvents)
	return nil
}

// createTables creates the database schema
func (es *EventStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS keying_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		operation_id TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('memory', 'prompt')),
		action_id TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL DEFAULT FALSE,
		keyed BOOLEAN NOT NULL DEFAULT FALSE,
		unkeyed BOOLEAN NOT NULL DEFAULT FALSE,
		prior_mode TEXT NOT NULL DEFAULT '',
		restored BOOLEAN NOT NULL DEFAULT FALSE,
		tool_exit_code INTEGER NOT NULL DEFAULT -1,
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS recording_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		event TEXT NOT NULL,
		file_path TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS keying_stats (
		id INTEGER PRIMARY KEY,
		total_operations INTEGER NOT NULL DEFAULT 0,
		total_failures INTEGER NOT NULL DEFAULT 0,
		total_tx_ms INTEGER NOT NULL DEFAULT 0,
		last_cleanup DATETIME,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	INSERT OR IGNORE INTO keying_stats (id, total_operations, total_failures, total_tx_ms)
	VALUES (1, 0, 0, 0);
	`

	_, err := es.db.Exec(schema)
	return err
}

// createIndexes creates database indexes for performance
func (es *EventStore) createIndexes() error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_keying_started_at ON keying_events(started_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_keying_action ON keying_events(kind, action_id)",
		"CREATE INDEX IF NOT EXISTS idx_recording_session ON recording_events(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_recording_timestamp ON recording_events(timestamp DESC)",
	}

	for _, indexSQL := range indexes {
		if _, err := es.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// RecordKeying stores a keying operation
func (es *EventStore) RecordKeying(ev KeyingEvent) (int64, error) {
	tx, err := es.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO keying_events (
			operation_id, kind, action_id, started_at, duration_ms, success,
			keyed, unkeyed, prior_mode, restored, tool_exit_code, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.OperationID, ev.Kind, ev.ActionID, ev.StartedAt, ev.Duration.Milliseconds(), ev.Success,
		ev.Keyed, ev.Unkeyed, ev.PriorMode, ev.Restored, ev.ToolExitCode, ev.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert keying event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get keying event ID: %w", err)
	}

	if err := es.updateStats(tx, ev); err != nil {
		return 0, fmt.Errorf("failed to update stats: %w", err)
	}

	if err := es.cleanupOldEvents(tx); err != nil {
		logging.Warnf("storage", "Failed to cleanup old events: %v", err)
	}

	return id, tx.Commit()
}

// updateStats updates keying statistics
func (es *EventStore) updateStats(tx *sql.Tx, ev KeyingEvent) error {
	var txMs int64
	if ev.Keyed {
		txMs = ev.Duration.Milliseconds()
	}
	_, err := tx.Exec(`
		UPDATE keying_stats SET
			total_operations = total_operations + 1,
			total_failures = CASE WHEN ? THEN total_failures ELSE total_failures + 1 END,
			total_tx_ms = total_tx_ms + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
	`, ev.Success, txMs)
	return err
}

// RecordRecording stores a recorder lifecycle transition
func (es *EventStore) RecordRecording(ev RecordingEvent) (int64, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	result, err := es.db.Exec(`
		INSERT INTO recording_events (session_id, event, file_path, timestamp)
		VALUES (?, ?, ?, ?)
	`, ev.SessionID, ev.Event, ev.FilePath, ev.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("failed to insert recording event: %w", err)
	}
	return result.LastInsertId()
}

// CleanupOldEvents removes keying events beyond the maximum limit
func (es *EventStore) CleanupOldEvents() error {
	tx, err := es.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := es.cleanupOldEvents(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// cleanupOldEvents removes keying and recording events beyond the limit
func (es *EventStore) cleanupOldEvents(tx *sql.Tx) error {
	if es.maxEvents <= 0 {
		return nil
	}

	trimmed := false
	for _, table := range []string{"keying_events", "recording_events"} {
		var count int
		if err := tx.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			return err
		}
		if count <= es.maxEvents {
			continue
		}

		_, err := tx.Exec(`DELETE FROM `+table+` WHERE id IN (
			SELECT id FROM `+table+` ORDER BY id ASC LIMIT ?
		)`, count-es.maxEvents)
		if err != nil {
			return err
		}
		trimmed = true
	}

	if !trimmed {
		return nil
	}
	_, err := tx.Exec("UPDATE keying_stats SET last_cleanup = CURRENT_TIMESTAMP WHERE id = 1")
	return err
}

// Close closes the database connection
func (es *EventStore) Close() error {
	if es.db != nil {
		return es.db.Close()
	}
	return nil
}
