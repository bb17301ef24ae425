package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"medinote/internal/domain"
	"medinote/internal/store"
	"medinote/internal/usecase"
)

const maxBundleBytes = 64 << 20

// RecordService is the persistence the records routes need.
type RecordService interface {
	ListRecords(ctx context.Context, ownerID string) ([]domain.ConsultationRecord, error)
	GetRecord(ctx context.Context, id string) (*domain.ConsultationRecord, error)
	UpdateRecord(ctx context.Context, id string, patch domain.RecordPatch) (*domain.ConsultationRecord, error)
	ListPatientRecords(ctx context.Context, ownerID, name, excludeID string) ([]domain.ConsultationRecord, error)
	Export(ctx context.Context, ownerID string) (*store.Bundle, error)
	Import(ctx context.Context, ownerID string, bundle store.Bundle) (int, error)
	Settings(ctx context.Context, ownerID string) (map[string]json.RawMessage, error)
	PutSetting(ctx context.Context, ownerID, key string, value json.RawMessage) error
}

type RecordHandler struct {
	records RecordService
}

func NewRecordHandler(records RecordService) *RecordHandler {
	return &RecordHandler{records: records}
}

func (h *RecordHandler) List(c *gin.Context) {
	records, err := h.records.ListRecords(c.Request.Context(), ownerOf(c))
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, gin.H{"records": records})
}

func (h *RecordHandler) Get(c *gin.Context) {
	record, err := ownedRecord(c.Request.Context(), h.records, ownerOf(c), c.Param("id"))
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, record)
}

// PatientHistory lists a patient's earlier consultations with retried saves
// collapsed.
func (h *RecordHandler) PatientHistory(c *gin.Context) {
	name := strings.TrimSpace(c.Query("name"))
	if name == "" {
		respondError(c, http.StatusBadRequest, "invalid_request", errors.New("name is required"))
		return
	}
	records, err := h.records.ListPatientRecords(c.Request.Context(), ownerOf(c), name, c.Query("exclude"))
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, gin.H{"records": usecase.DedupeHistory(records, name, strings.TrimSpace(c.Query("age")))})
}

func (h *RecordHandler) Export(c *gin.Context) {
	bundle, err := h.records.Export(c.Request.Context(), ownerOf(c))
	if err != nil {
		respondFailure(c, err)
		return
	}
	filename := fmt.Sprintf("medinote-backup-%s.json", bundle.ExportedAt.UTC().Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	respondOK(c, bundle)
}

func (h *RecordHandler) Import(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBundleBytes)
	var bundle store.Bundle
	if err := c.ShouldBindJSON(&bundle); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	n, err := h.records.Import(c.Request.Context(), ownerOf(c), bundle)
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, gin.H{"imported": n})
}

func (h *RecordHandler) Settings(c *gin.Context) {
	settings, err := h.records.Settings(c.Request.Context(), ownerOf(c))
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, gin.H{"settings": settings})
}

func (h *RecordHandler) PutSetting(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	raw, err := c.GetRawData()
	if err != nil || key == "" || !json.Valid(raw) {
		respondError(c, http.StatusBadRequest, "invalid_request", errors.New("setting value must be JSON"))
		return
	}
	if err := h.records.PutSetting(c.Request.Context(), ownerOf(c), key, raw); err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, gin.H{"key": key, "value": json.RawMessage(raw), "updatedAt": time.Now().UTC()})
}

// ownedRecord hides other clinicians' records behind store.ErrNotFound.
func ownedRecord(ctx context.Context, records RecordService, ownerID, id string) (*domain.ConsultationRecord, error) {
	record, err := records.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return record, nil
}
