package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"medinote/internal/domain"
)

type recordRow struct {
	ID               string `gorm:"primaryKey;size:36"`
	OwnerID          string `gorm:"index:idx_records_owner_created,priority:1;size:64;not null"`
	PatientName      string `gorm:"index;not null"`
	PatientAge       string `gorm:"not null"`
	Conversation     datatypes.JSON
	Diagnoses        datatypes.JSON
	ComplianceReview datatypes.JSON
	CreatedAt        time.Time `gorm:"index:idx_records_owner_created,priority:2"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime:false"`
}

func (recordRow) TableName() string { return "consultation_records" }

type userRow struct {
	ID           string `gorm:"primaryKey;size:36"`
	Email        string `gorm:"uniqueIndex;not null"`
	Name         string
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
}

func (userRow) TableName() string { return "users" }

type sessionRow struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"index;size:36;not null"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
}

func (sessionRow) TableName() string { return "sessions" }

type settingRow struct {
	OwnerID   string `gorm:"primaryKey;size:64"`
	Key       string `gorm:"primaryKey;size:128"`
	Value     datatypes.JSON
	UpdatedAt time.Time
}

func (settingRow) TableName() string { return "settings" }

func encodeJSON(v any) (datatypes.JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode column: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func decodeJSON[T any](col datatypes.JSON) (T, error) {
	var out T
	if len(col) == 0 || string(col) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(col, &out); err != nil {
		return out, fmt.Errorf("decode column: %w", err)
	}
	return out, nil
}

func (r recordRow) toDomain() (domain.ConsultationRecord, error) {
	conversation, err := decodeJSON[[]domain.ConsultationMessage](r.Conversation)
	if err != nil {
		return domain.ConsultationRecord{}, err
	}
	if conversation == nil {
		conversation = []domain.ConsultationMessage{}
	}
	diagnoses, err := decodeJSON[[]domain.Diagnosis](r.Diagnoses)
	if err != nil {
		return domain.ConsultationRecord{}, err
	}
	review, err := decodeJSON[*domain.ComplianceReview](r.ComplianceReview)
	if err != nil {
		return domain.ConsultationRecord{}, err
	}
	return domain.ConsultationRecord{
		ID:               r.ID,
		OwnerID:          r.OwnerID,
		PatientName:      r.PatientName,
		PatientAge:       r.PatientAge,
		Conversation:     conversation,
		Diagnoses:        diagnoses,
		ComplianceReview: review,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}, nil
}

func rowFromRecord(rec domain.ConsultationRecord) (recordRow, error) {
	row := recordRow{
		ID:          rec.ID,
		OwnerID:     rec.OwnerID,
		PatientName: rec.PatientName,
		PatientAge:  rec.PatientAge,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	conversation := rec.Conversation
	if conversation == nil {
		conversation = []domain.ConsultationMessage{}
	}
	var err error
	if row.Conversation, err = encodeJSON(conversation); err != nil {
		return row, err
	}
	if rec.Diagnoses != nil {
		if row.Diagnoses, err = encodeJSON(rec.Diagnoses); err != nil {
			return row, err
		}
	}
	if rec.ComplianceReview != nil {
		if row.ComplianceReview, err = encodeJSON(rec.ComplianceReview); err != nil {
			return row, err
		}
	}
	return row, nil
}

func rowsToDomain(rows []recordRow) ([]domain.ConsultationRecord, error) {
	out := make([]domain.ConsultationRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", row.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
