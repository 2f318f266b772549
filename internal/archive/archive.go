// Package archive mirrors closed incidents from the hot sqlite fusion
// store into Postgres for long-term retention, grounded on the
// gorm repository-adapter pattern: a typed row model, a thin
// Repository wrapping *gorm.DB, and WithContext on every call.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/amoskys/amoskys/internal/fusion"
)

func marshalOrEmpty(v any) string {
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return "[]"
		}
	case reflect.Map:
		if rv.IsNil() {
			return "{}"
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// incidentRow is the Postgres row model for one archived incident.
// Slice/map fields are stored as JSON text rather than native arrays
// so the schema stays portable if the archive ever moves off Postgres.
type incidentRow struct {
	IncidentID string    `gorm:"column:incident_id;primaryKey"`
	DeviceID   string    `gorm:"column:device_id;index"`
	Severity   string    `gorm:"column:severity"`
	Tactics    string    `gorm:"column:tactics"`
	Techniques string    `gorm:"column:techniques"`
	RuleName   string    `gorm:"column:rule_name"`
	Summary    string    `gorm:"column:summary"`
	StartTs    time.Time `gorm:"column:start_ts"`
	EndTs      time.Time `gorm:"column:end_ts"`
	EventIDs   string    `gorm:"column:event_ids"`
	Metadata   string    `gorm:"column:metadata"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	ArchivedAt time.Time `gorm:"column:archived_at"`
}

func (incidentRow) TableName() string { return "archived_incidents" }

// Repository persists closed incidents to Postgres.
type Repository struct {
	db *gorm.DB
}

// Open connects to Postgres at dsn and migrates the archive schema.
func Open(dsn string) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("archive: connect: %w", err)
	}
	if err := db.AutoMigrate(&incidentRow{}); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return &Repository{db: db}, nil
}

// toIncidentRow flattens a fusion.Incident into its archive row,
// JSON-encoding the slice/map fields. Split out from ArchiveIncident
// so the mapping can be tested without a live Postgres connection.
func toIncidentRow(inc *fusion.Incident, archivedAt time.Time) incidentRow {
	return incidentRow{
		IncidentID: inc.IncidentID,
		DeviceID:   inc.DeviceID,
		Severity:   string(inc.Severity),
		Tactics:    marshalOrEmpty(inc.Tactics),
		Techniques: marshalOrEmpty(inc.Techniques),
		RuleName:   inc.RuleName,
		Summary:    inc.Summary,
		StartTs:    inc.StartTs,
		EndTs:      inc.EndTs,
		EventIDs:   marshalOrEmpty(inc.EventIDs),
		Metadata:   marshalOrEmpty(inc.Metadata),
		CreatedAt:  inc.CreatedAt,
		ArchivedAt: archivedAt,
	}
}

// ArchiveIncident upserts inc into the archive, keyed by incident_id.
// Re-archiving the same incident (e.g. after a metadata update) is
// idempotent.
func (r *Repository) ArchiveIncident(ctx context.Context, inc *fusion.Incident) error {
	row := toIncidentRow(inc, time.Now())

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "incident_id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
}

// CountByDevice returns the number of archived incidents for deviceID,
// used by operator tooling to sanity-check the export pipeline.
func (r *Repository) CountByDevice(ctx context.Context, deviceID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&incidentRow{}).
		Where("device_id = ?", deviceID).
		Count(&count).Error
	return count, err
}
