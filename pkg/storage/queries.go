package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// KeyingQuery represents query parameters for retrieving keying events
type KeyingQuery struct {
	Limit      int
	Offset     int
	Since      *time.Time
	Until      *time.Time
	Kind       string // "memory", "prompt", or "" for both
	ActionID   string
	FailedOnly bool
}

// KeyingStats represents keying history statistics
type KeyingStats struct {
	TotalOperations int           `json:"total_operations"`
	TotalFailures   int           `json:"total_failures"`
	TotalTX         time.Duration `json:"total_tx"`
	LastCleanup     time.Time     `json:"last_cleanup"`
}

// ActionSummary aggregates the history of one memory or prompt
type ActionSummary struct {
	Kind     string    `json:"kind"`
	ActionID string    `json:"action_id"`
	Count    int       `json:"count"`
	Failures int       `json:"failures"`
	LastUsed time.Time `json:"last_used"`
}

// GetKeyingEvents retrieves keying events based on query parameters, newest first
func (es *EventStore) GetKeyingEvents(query KeyingQuery) ([]KeyingEvent, error) {
	var args []interface{}
	var conditions []string

	sqlQuery := `
		SELECT id, operation_id, kind, action_id, started_at, duration_ms, success,
			   keyed, unkeyed, prior_mode, restored, tool_exit_code, error
		FROM keying_events
		WHERE 1=1
	`

	if query.Since != nil {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, query.Since)
	}

	if query.Until != nil {
		conditions = append(conditions, "started_at <= ?")
		args = append(args, query.Until)
	}

	if query.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, query.Kind)
	}

	if query.ActionID != "" {
		conditions = append(conditions, "action_id = ? COLLATE NOCASE")
		args = append(args, query.ActionID)
	}

	if query.FailedOnly {
		conditions = append(conditions, "success = FALSE")
	}

	for _, condition := range conditions {
		sqlQuery += " AND " + condition
	}

	sqlQuery += " ORDER BY id DESC"

	if query.Limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, query.Limit)

		if query.Offset > 0 {
			sqlQuery += " OFFSET ?"
			args = append(args, query.Offset)
		}
	}

	rows, err := es.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query keying events: %w", err)
	}
	defer rows.Close()

	var events []KeyingEvent
	for rows.Next() {
		var ev KeyingEvent
		var durationMs int64
		err := rows.Scan(
			&ev.ID,
			&ev.OperationID,
			&ev.Kind,
			&ev.ActionID,
			&ev.StartedAt,
			&durationMs,
			&ev.Success,
			&ev.Keyed,
			&ev.Unkeyed,
			&ev.PriorMode,
			&ev.Restored,
			&ev.ToolExitCode,
			&ev.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan keying event: %w", err)
		}
		ev.Duration = time.Duration(durationMs) * time.Millisecond
		events = append(events, ev)
	}

	return events, rows.Err()
}

// GetRecentKeying retrieves the most recent keying events
func (es *EventStore) GetRecentKeying(limit int) ([]KeyingEvent, error) {
	return es.GetKeyingEvents(KeyingQuery{Limit: limit})
}

// GetRecordingEvents retrieves recorder transitions, newest first
func (es *EventStore) GetRecordingEvents(sessionID string, limit int) ([]RecordingEvent, error) {
	query := `
		SELECT id, session_id, event, file_path, timestamp
		FROM recording_events
	`
	var args []interface{}
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := es.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recording events: %w", err)
	}
	defer rows.Close()

	var events []RecordingEvent
	for rows.Next() {
		var ev RecordingEvent
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Event, &ev.FilePath, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan recording event: %w", err)
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

// GetActionSummaries aggregates keying history per memory and prompt
func (es *EventStore) GetActionSummaries() ([]ActionSummary, error) {
	rows, err := es.db.Query(`
		SELECT kind, action_id, COUNT(*),
			   SUM(CASE WHEN success THEN 0 ELSE 1 END),
			   MAX(id)
		FROM keying_events
		GROUP BY kind, action_id
		ORDER BY COUNT(*) DESC, action_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query action summaries: %w", err)
	}
	defer rows.Close()

	var summaries []ActionSummary
	var lastIDs []int64
	for rows.Next() {
		var s ActionSummary
		var lastID int64
		if err := rows.Scan(&s.Kind, &s.ActionID, &s.Count, &s.Failures, &lastID); err != nil {
			return nil, fmt.Errorf("failed to scan action summary: %w", err)
		}
		summaries = append(summaries, s)
		lastIDs = append(lastIDs, lastID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, id := range lastIDs {
		var last sql.NullTime
		if err := es.db.QueryRow("SELECT started_at FROM keying_events WHERE id = ?", id).Scan(&last); err != nil {
			return nil, fmt.Errorf("failed to get last use: %w", err)
		}
		if last.Valid {
			summaries[i].LastUsed = last.Time
		}
	}

	return summaries, nil
}

// GetKeyingStats retrieves keying statistics
func (es *EventStore) GetKeyingStats() (*KeyingStats, error) {
	var stats KeyingStats
	var txMs int64
	var lastCleanup sql.NullTime

	err := es.db.QueryRow(`
		SELECT total_operations, total_failures, total_tx_ms, last_cleanup
		FROM keying_stats WHERE id = 1
	`).Scan(&stats.TotalOperations, &stats.TotalFailures, &txMs, &lastCleanup)
	if err != nil {
		return nil, fmt.Errorf("failed to get keying stats: %w", err)
	}

	stats.TotalTX = time.Duration(txMs) * time.Millisecond
	if lastCleanup.Valid {
		stats.LastCleanup = lastCleanup.Time
	}

	return &stats, nil
}

// GetKeyingCount returns the number of stored keying events
func (es *EventStore) GetKeyingCount() (int, error) {
	var count int
	err := es.db.QueryRow("SELECT COUNT(*) FROM keying_events").Scan(&count)
	return count, err
}
