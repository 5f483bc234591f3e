package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// #region schema
const provenanceSchema = `
CREATE TABLE IF NOT EXISTS telemetry_log (
	event_id    TEXT PRIMARY KEY,
	event_type  TEXT NOT NULL,
	session_id  TEXT NOT NULL,
	policy      TEXT,
	fields_json TEXT,
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_telemetry_log_session
	ON telemetry_log(session_id, created_at);
`

// #endregion schema

// #region provenance-sink
// ProvenanceSink appends every event to the telemetry_log table so a
// session's decisions can be audited and replayed.
type ProvenanceSink struct {
	db *sql.DB
}

// NewProvenanceSink migrates the telemetry_log table on db.
func NewProvenanceSink(db *sql.DB) (*ProvenanceSink, error) {
	if _, err := db.Exec(provenanceSchema); err != nil {
		return nil, fmt.Errorf("migrate telemetry_log: %w", err)
	}
	return &ProvenanceSink{db: db}, nil
}

// NewProvenanceSinkWithDB wraps a db whose schema is already applied.
func NewProvenanceSinkWithDB(db *sql.DB) *ProvenanceSink {
	return &ProvenanceSink{db: db}
}

// Emit writes ev as one row.
func (p *ProvenanceSink) Emit(ctx context.Context, ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	var fieldsJSON string
	if len(ev.Fields) > 0 {
		raw, err := json.Marshal(ev.Fields)
		if err != nil {
			return fmt.Errorf("encode fields: %w", err)
		}
		fieldsJSON = string(raw)
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO telemetry_log (event_id, event_type, session_id, policy, fields_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID,
		string(ev.Type),
		ev.SessionID,
		nullIfEmpty(ev.Policy),
		nullIfEmpty(fieldsJSON),
		ev.Time.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// Query returns the most recent events, newest first. An empty sessionID
// matches every session.
func (p *ProvenanceSink) Query(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT event_id, event_type, session_id, policy, fields_json, created_at
		 FROM telemetry_log
		 WHERE ? = '' OR session_id = ?
		 ORDER BY created_at DESC LIMIT ?`, sessionID, sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var evType, createdStr string
		var policy, fieldsJSON sql.NullString
		if err := rows.Scan(&ev.ID, &evType, &ev.SessionID, &policy, &fieldsJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = EventType(evType)
		ev.Policy = policy.String
		if fieldsJSON.Valid {
			if err := json.Unmarshal([]byte(fieldsJSON.String), &ev.Fields); err != nil {
				return nil, fmt.Errorf("decode fields of %s: %w", ev.ID, err)
			}
		}
		ev.Time, _ = time.Parse(time.RFC3339Nano, createdStr)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// #endregion provenance-sink

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
