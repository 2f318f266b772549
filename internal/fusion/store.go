package fusion

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the Fusion Engine's persistence layer: two WAL-mode SQLite
// tables, incidents (PK incident_id) and device_risk (PK device_id),
// matching the LDQ/WAL file's single-file-per-concern pattern from
// internal/queue.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the fusion database at path.
func OpenStore(path string) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("fusion: open %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS incidents (
	incident_id TEXT PRIMARY KEY,
	device_id   TEXT NOT NULL,
	severity    TEXT NOT NULL,
	tactics     TEXT NOT NULL,
	techniques  TEXT NOT NULL,
	rule_name   TEXT NOT NULL,
	summary     TEXT NOT NULL,
	start_ts    TEXT,
	end_ts      TEXT,
	event_ids   TEXT NOT NULL,
	metadata    TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_incidents_device ON incidents(device_id);
CREATE INDEX IF NOT EXISTS idx_incidents_created ON incidents(created_at);

CREATE TABLE IF NOT EXISTS device_risk (
	device_id         TEXT PRIMARY KEY,
	score             INTEGER NOT NULL,
	level             TEXT NOT NULL,
	reason_tags       TEXT NOT NULL,
	supporting_events TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("fusion: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying SQLite handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func marshalOrEmpty(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func timeOrNull(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

// UpsertIncident inserts or replaces an incident row, keyed by
// incident_id.
func (s *Store) UpsertIncident(inc *Incident) error {
	if inc.Metadata == nil {
		inc.Metadata = map[string]string{}
	}
	_, err := s.db.Exec(`
INSERT OR REPLACE INTO incidents
(incident_id, device_id, severity, tactics, techniques, rule_name,
 summary, start_ts, end_ts, event_ids, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.IncidentID, inc.DeviceID, string(inc.Severity),
		marshalOrEmpty(inc.Tactics), marshalOrEmpty(inc.Techniques),
		inc.RuleName, inc.Summary,
		timeOrNull(inc.StartTs), timeOrNull(inc.EndTs),
		marshalOrEmpty(inc.EventIDs), marshalOrEmpty(inc.Metadata),
		inc.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("fusion: upsert incident %s: %w", inc.IncidentID, err)
	}
	return nil
}

// UpsertRiskSnapshot replaces the device_risk row for snapshot.DeviceID
// in place; a device has at most one current snapshot.
func (s *Store) UpsertRiskSnapshot(snap *DeviceRiskSnapshot) error {
	_, err := s.db.Exec(`
INSERT OR REPLACE INTO device_risk
(device_id, score, level, reason_tags, supporting_events, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		snap.DeviceID, snap.Score, string(snap.Level),
		marshalOrEmpty(snap.ReasonTags), marshalOrEmpty(snap.SupportingEvents),
		snap.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("fusion: upsert risk snapshot %s: %w", snap.DeviceID, err)
	}
	return nil
}

const incidentColumns = `incident_id, device_id, severity, tactics, techniques, rule_name,
	 summary, start_ts, end_ts, event_ids, metadata, created_at`

func scanIncidentRow(rows *sql.Rows) (*Incident, error) {
	var (
		inc                           Incident
		severity, tactics, techniques string
		eventIDs, metadata            string
		createdAt                     string
		startTsNull, endTsNull        sql.NullString
	)
	if err := rows.Scan(&inc.IncidentID, &inc.DeviceID, &severity, &tactics, &techniques,
		&inc.RuleName, &inc.Summary, &startTsNull, &endTsNull, &eventIDs, &metadata, &createdAt); err != nil {
		return nil, fmt.Errorf("fusion: scan incident: %w", err)
	}
	inc.Severity = Severity(severity)
	_ = json.Unmarshal([]byte(tactics), &inc.Tactics)
	_ = json.Unmarshal([]byte(techniques), &inc.Techniques)
	_ = json.Unmarshal([]byte(eventIDs), &inc.EventIDs)
	_ = json.Unmarshal([]byte(metadata), &inc.Metadata)
	if startTsNull.Valid {
		inc.StartTs, _ = time.Parse(time.RFC3339Nano, startTsNull.String)
	}
	if endTsNull.Valid {
		inc.EndTs, _ = time.Parse(time.RFC3339Nano, endTsNull.String)
	}
	inc.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &inc, nil
}

// RecentIncidents returns up to limit incidents, most recent first,
// optionally filtered by device.
func (s *Store) RecentIncidents(deviceID string, limit int) ([]*Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents`
	args := []any{}
	if deviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("fusion: recent incidents: %w", err)
	}
	defer rows.Close()

	var out []*Incident
	for rows.Next() {
		inc, err := scanIncidentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// FindIncident looks up the incident for deviceID+ruleName whose
// earliest event ID matches earliest, the key a repeat rule match is
// deduplicated against. Returns nil if no matching incident exists, so
// a fresh one can be inserted.
func (s *Store) FindIncident(deviceID, ruleName, earliest string) (*Incident, error) {
	rows, err := s.db.Query(`SELECT `+incidentColumns+` FROM incidents
		WHERE device_id = ? AND rule_name = ?`, deviceID, ruleName)
	if err != nil {
		return nil, fmt.Errorf("fusion: find incident: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		inc, err := scanIncidentRow(rows)
		if err != nil {
			return nil, err
		}
		if len(inc.EventIDs) > 0 && inc.EventIDs[0] == earliest {
			return inc, nil
		}
	}
	return nil, rows.Err()
}

// DeviceRisk returns the current risk snapshot for deviceID, or nil if
// none has been persisted yet.
func (s *Store) DeviceRisk(deviceID string) (*DeviceRiskSnapshot, error) {
	row := s.db.QueryRow(`SELECT device_id, score, level, reason_tags, supporting_events, updated_at
		FROM device_risk WHERE device_id = ?`, deviceID)

	var (
		snap                            DeviceRiskSnapshot
		level, reasonTags, supporting   string
		updatedAt                       string
	)
	if err := row.Scan(&snap.DeviceID, &snap.Score, &level, &reasonTags, &supporting, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("fusion: device risk %s: %w", deviceID, err)
	}
	snap.Level = RiskLevel(level)
	_ = json.Unmarshal([]byte(reasonTags), &snap.ReasonTags)
	_ = json.Unmarshal([]byte(supporting), &snap.SupportingEvents)
	snap.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &snap, nil
}
