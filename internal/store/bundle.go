package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"medinote/internal/domain"
)

// BundleVersion is written into every export and is the only version Import accepts.
const BundleVersion = 1

// ErrUnsupportedBundle is returned for import payloads with an unknown version.
var ErrUnsupportedBundle = errors.New("unsupported export bundle version")

// Bundle is the portable backup of one clinician's records and settings.
type Bundle struct {
	Version    int                         `json:"version"`
	ExportedAt time.Time                   `json:"exported_at"`
	Records    []domain.ConsultationRecord `json:"patient_records"`
	Settings   map[string]json.RawMessage  `json:"settings"`
}

// Export collects everything the owner has stored.
func (s *Records) Export(ctx context.Context, ownerID string) (*Bundle, error) {
	records, err := s.ListRecords(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	settings, err := s.Settings(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &Bundle{
		Version:    BundleVersion,
		ExportedAt: s.now(),
		Records:    records,
		Settings:   settings,
	}, nil
}

// Import stores the bundle's records under ownerID with fresh ids, keeping
// their original timestamps, and upserts its settings. It returns the number
// of records written.
func (s *Records) Import(ctx context.Context, ownerID string, bundle Bundle) (int, error) {
	if bundle.Version != BundleVersion {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedBundle, bundle.Version)
	}

	rows := make([]recordRow, 0, len(bundle.Records))
	for _, rec := range bundle.Records {
		rec.ID = uuid.NewString()
		rec.OwnerID = ownerID
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = s.now()
		}
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = rec.CreatedAt
		}
		row, err := rowFromRecord(rec)
		if err != nil {
			return 0, err
		}
		rows = append(rows, row)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			if err := tx.CreateInBatches(&rows, 100).Error; err != nil {
				return err
			}
		}
		for key, value := range bundle.Settings {
			if err := putSetting(tx, ownerID, key, value, s.now()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("import bundle: %w", err)
	}
	return len(rows), nil
}

// Settings returns the owner's stored preferences keyed by name.
func (s *Records) Settings(ctx context.Context, ownerID string) (map[string]json.RawMessage, error) {
	var rows []settingRow
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	out := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		out[row.Key] = json.RawMessage(row.Value)
	}
	return out, nil
}

// PutSetting stores one preference, replacing any previous value.
func (s *Records) PutSetting(ctx context.Context, ownerID, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("setting %q is not valid JSON", key)
	}
	return putSetting(s.db.WithContext(ctx), ownerID, key, value, s.now())
}

func putSetting(tx *gorm.DB, ownerID, key string, value json.RawMessage, now time.Time) error {
	row := settingRow{OwnerID: ownerID, Key: key, Value: []byte(value), UpdatedAt: now}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save setting %q: %w", key, err)
	}
	return nil
}
