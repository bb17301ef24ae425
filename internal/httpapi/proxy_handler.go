package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"medinote/internal/domain"
	"medinote/internal/logger"
	"medinote/internal/ports"
)

var errEmptyTranscription = errors.New("speech could not be recognized")

// Chatter produces short conversational replies.
type Chatter interface {
	Chat(ctx context.Context, text string) (string, error)
}

// ProxyHandler exposes the model-backed collaborators as stateless calls for
// browser clients that drive their own flow.
type ProxyHandler struct {
	log         *logger.Logger
	transcriber ports.Transcriber
	diagnosis   ports.DiagnosisAnalyzer
	compliance  ports.ComplianceReviewer
	chat        Chatter
	records     RecordService
}

type ProxyDeps struct {
	Transcriber ports.Transcriber
	Diagnosis   ports.DiagnosisAnalyzer
	Compliance  ports.ComplianceReviewer
	Chat        Chatter
	Records     RecordService
}

func NewProxyHandler(log *logger.Logger, deps ProxyDeps) *ProxyHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ProxyHandler{
		log:         log.With("handler", "proxy"),
		transcriber: deps.Transcriber,
		diagnosis:   deps.Diagnosis,
		compliance:  deps.Compliance,
		chat:        deps.Chat,
		records:     deps.Records,
	}
}

func (h *ProxyHandler) VoiceToText(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxClipBytes)
	clip, err := readClip(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_audio", err)
		return
	}
	result, err := h.transcriber.Transcribe(c.Request.Context(), clip)
	if err != nil {
		h.log.Warn("voice-to-text failed", "error", err)
		respondFailure(c, err)
		return
	}
	if strings.TrimSpace(result.Text) == "" {
		respondError(c, http.StatusUnprocessableEntity, "empty_transcription", errEmptyTranscription)
		return
	}
	respondOK(c, result)
}

func (h *ProxyHandler) DiagnosisAnalysis(c *gin.Context) {
	var req struct {
		Messages    []domain.ConsultationMessage `json:"messages"`
		PatientInfo domain.PatientInfo           `json:"patientInfo"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	transcript := domain.TranscriptText(req.Messages)
	if strings.TrimSpace(transcript) == "" {
		respondError(c, http.StatusBadRequest, "empty_transcript", errors.New("messages are required"))
		return
	}
	diagnoses, err := h.diagnosis.AnalyzeDiagnosis(c.Request.Context(), transcript, req.PatientInfo)
	if err != nil {
		h.log.Warn("diagnosis analysis failed", "error", err)
		respondFailure(c, err)
		return
	}
	respondOK(c, gin.H{"diagnoses": diagnoses})
}

// MedicalLawReview reviews a transcript and, when recordId names one of the
// clinician's records, stores the review on it.
func (h *ProxyHandler) MedicalLawReview(c *gin.Context) {
	var req struct {
		RecordID         string                       `json:"recordId"`
		ConversationData []domain.ConsultationMessage `json:"conversationData"`
		PatientInfo      domain.PatientInfo           `json:"patientInfo"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	ctx := c.Request.Context()
	if req.RecordID != "" {
		if _, err := ownedRecord(ctx, h.records, ownerOf(c), req.RecordID); err != nil {
			respondFailure(c, err)
			return
		}
	}

	review, err := h.compliance.ReviewCompliance(ctx, req.ConversationData, req.PatientInfo)
	if err != nil {
		h.log.Warn("medical law review failed", "record_id", req.RecordID, "error", err)
		respondFailure(c, err)
		return
	}
	if req.RecordID != "" {
		if _, err := h.records.UpdateRecord(ctx, req.RecordID, domain.RecordPatch{ComplianceReview: review}); err != nil {
			h.log.Error("persist review failed", "record_id", req.RecordID, "error", err)
			respondFailure(c, err)
			return
		}
	}
	respondOK(c, review)
}

func (h *ProxyHandler) SimpleChat(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		respondError(c, http.StatusBadRequest, "invalid_request", errors.New("text is required"))
		return
	}
	reply, err := h.chat.Chat(c.Request.Context(), req.Text)
	if err != nil {
		h.log.Warn("simple chat failed", "error", err)
		respondFailure(c, err)
		return
	}
	respondOK(c, gin.H{"response": reply, "success": true})
}
