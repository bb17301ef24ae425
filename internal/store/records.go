package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"medinote/internal/domain"
)

// Records is the gorm-backed consultation record store.
type Records struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRecords(db *gorm.DB) *Records {
	return &Records{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Records) CreateRecord(ctx context.Context, ownerID string, patient domain.PatientInfo, conversation []domain.ConsultationMessage) (*domain.ConsultationRecord, error) {
	now := s.now()
	row, err := rowFromRecord(domain.ConsultationRecord{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		PatientName:  patient.Name,
		PatientAge:   patient.Age,
		Conversation: conversation,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	rec, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateRecord merges the non-nil parts of patch into the stored record.
func (s *Records) UpdateRecord(ctx context.Context, id string, patch domain.RecordPatch) (*domain.ConsultationRecord, error) {
	var out domain.ConsultationRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row recordRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			return notFound(err)
		}

		var err error
		if patch.Conversation != nil {
			if row.Conversation, err = encodeJSON(patch.Conversation); err != nil {
				return err
			}
		}
		if patch.Diagnoses != nil {
			if row.Diagnoses, err = encodeJSON(patch.Diagnoses); err != nil {
				return err
			}
		}
		if patch.ComplianceReview != nil {
			if row.ComplianceReview, err = encodeJSON(patch.ComplianceReview); err != nil {
				return err
			}
		}
		row.UpdatedAt = s.now()
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		out, err = row.toDomain()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update record %s: %w", id, err)
	}
	return &out, nil
}

// ListRecords returns the owner's records, newest first.
func (s *Records) ListRecords(ctx context.Context, ownerID string) ([]domain.ConsultationRecord, error) {
	var rows []recordRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return rowsToDomain(rows)
}

func (s *Records) GetRecord(ctx context.Context, id string) (*domain.ConsultationRecord, error) {
	var row recordRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, notFound(err))
	}
	rec, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListPatientRecords returns the owner's records for one patient name, newest
// first, leaving out excludeID (usually the consultation being viewed).
func (s *Records) ListPatientRecords(ctx context.Context, ownerID, name, excludeID string) ([]domain.ConsultationRecord, error) {
	q := s.db.WithContext(ctx).Where("owner_id = ? AND patient_name = ?", ownerID, name)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	var rows []recordRow
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list patient records: %w", err)
	}
	return rowsToDomain(rows)
}
