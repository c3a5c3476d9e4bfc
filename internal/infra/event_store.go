package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/Saifurrehman2094/labguard/internal/domain"
)

const eventsDBName = "events.db"

// EncryptedEventStore implements domain.EventStore using a SQLCipher
// encrypted SQLite database. monitoring_events is the append-only audit
// trail; violations is the derived, keyed view updated by the open/close
// events and the independent evidence upsert.
type EncryptedEventStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedEventStore opens (or creates) the encrypted event database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedEventStore(dataDir string, key []byte) (*EncryptedEventStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, eventsDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	store := &EncryptedEventStore{db: db, dbPath: dbPath}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// createTables creates the schema if it doesn't exist. Violation columns
// default to empty so the evidence upsert can land before (or without) the
// open event's write.
func (s *EncryptedEventStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS monitoring_events (
		event_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		occurred_at INTEGER NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON monitoring_events(session_id, rowid);

	CREATE TABLE IF NOT EXISTS violations (
		violation_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		app_name TEXT NOT NULL DEFAULT '',
		window_title TEXT NOT NULL DEFAULT '',
		process_id INTEGER NOT NULL DEFAULT 0,
		executable_path TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL DEFAULT 0,
		ended_at INTEGER,
		duration_ms INTEGER,
		evidence_path TEXT NOT NULL DEFAULT '',
		evidence_captured INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_violations_session ON violations(session_id, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// eventPayload is the variant portion of a monitoring event, serialized as
// JSON in the payload column.
type eventPayload struct {
	Violation *domain.Violation           `json:"violation,omitempty"`
	Identity  *domain.ApplicationIdentity `json:"identity,omitempty"`
	Message   string                      `json:"message,omitempty"`
}

// Append persists one lifecycle event. Idempotent by event id: appending
// the same event twice is a no-op. Violation-carrying events also upsert
// the derived violations row.
func (s *EncryptedEventStore) Append(ctx context.Context, event domain.MonitoringEvent) error {
	payload, err := json.Marshal(eventPayload{
		Violation: event.Violation,
		Identity:  event.Identity,
		Message:   event.Message,
	})
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO monitoring_events (event_id, session_id, event_type, occurred_at, payload)
		VALUES (?, ?, ?, ?, ?)`,
		event.EventID, event.SessionID, string(event.Type), event.Timestamp.UnixMilli(), string(payload),
	)
	if err != nil {
		return err
	}

	if event.Violation != nil {
		return s.upsertViolation(ctx, event.Violation)
	}
	return nil
}

// upsertViolation writes the keyed violation row. Close events carry full
// violation data, so a lost open-event write heals here. Evidence columns
// are never touched: they belong to the independent evidence update.
func (s *EncryptedEventStore) upsertViolation(ctx context.Context, v *domain.Violation) error {
	var endedAt, durationMs interface{}
	if v.EndedAt != nil {
		endedAt = v.EndedAt.UnixMilli()
		durationMs = v.DurationMs
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO violations (violation_id, session_id, app_name, window_title, process_id, executable_path, started_at, ended_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(violation_id) DO UPDATE SET
			session_id = excluded.session_id,
			app_name = excluded.app_name,
			window_title = excluded.window_title,
			process_id = excluded.process_id,
			executable_path = excluded.executable_path,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			duration_ms = excluded.duration_ms`,
		v.ViolationID, v.SessionID, v.ApplicationName, v.WindowTitle, v.ProcessID,
		v.ExecutablePath, v.StartedAt.UnixMilli(), endedAt, durationMs,
	)
	return err
}

// UpdateViolationEvidence records the capture outcome, keyed by violation
// id. It applies whether the violation row is open, closed, or (when the
// open write was lost) not yet present.
func (s *EncryptedEventStore) UpdateViolationEvidence(ctx context.Context, violationID, path string, captured bool) error {
	capturedInt := 0
	if captured {
		capturedInt = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO violations (violation_id, evidence_path, evidence_captured)
		VALUES (?, ?, ?)
		ON CONFLICT(violation_id) DO UPDATE SET
			evidence_path = excluded.evidence_path,
			evidence_captured = excluded.evidence_captured`,
		violationID, path, capturedInt,
	)
	return err
}

// ListEvents returns the events of a session in append order.
func (s *EncryptedEventStore) ListEvents(ctx context.Context, sessionID string) ([]domain.MonitoringEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, session_id, event_type, occurred_at, payload
		FROM monitoring_events WHERE session_id = ? ORDER BY rowid`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.MonitoringEvent
	for rows.Next() {
		var (
			event      domain.MonitoringEvent
			eventType  string
			occurredAt int64
			payload    string
		)
		if err := rows.Scan(&event.EventID, &event.SessionID, &eventType, &occurredAt, &payload); err != nil {
			return nil, err
		}
		event.Type = domain.EventType(eventType)
		event.Timestamp = time.UnixMilli(occurredAt)

		var p eventPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("failed to decode payload of event %s: %w", event.EventID, err)
		}
		event.Violation = p.Violation
		event.Identity = p.Identity
		event.Message = p.Message

		events = append(events, event)
	}
	return events, rows.Err()
}

// ListViolations returns the session's violations ordered by start time.
func (s *EncryptedEventStore) ListViolations(ctx context.Context, sessionID string) ([]domain.Violation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT violation_id, session_id, app_name, window_title, process_id, executable_path,
		       started_at, ended_at, duration_ms, evidence_path, evidence_captured
		FROM violations WHERE session_id = ? ORDER BY started_at`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var violations []domain.Violation
	for rows.Next() {
		var (
			v          domain.Violation
			startedAt  int64
			endedAt    sql.NullInt64
			durationMs sql.NullInt64
			captured   int
		)
		if err := rows.Scan(&v.ViolationID, &v.SessionID, &v.ApplicationName, &v.WindowTitle,
			&v.ProcessID, &v.ExecutablePath, &startedAt, &endedAt, &durationMs,
			&v.EvidencePath, &captured); err != nil {
			return nil, err
		}
		v.StartedAt = time.UnixMilli(startedAt)
		if endedAt.Valid {
			ended := time.UnixMilli(endedAt.Int64)
			v.EndedAt = &ended
			v.DurationMs = durationMs.Int64
		}
		v.EvidenceCaptured = captured != 0

		violations = append(violations, v)
	}
	return violations, rows.Err()
}

// GetStorePath returns the database file path (for status and tests).
func (s *EncryptedEventStore) GetStorePath() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *EncryptedEventStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure EncryptedEventStore implements domain.EventStore.
var _ domain.EventStore = (*EncryptedEventStore)(nil)
