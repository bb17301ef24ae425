package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"medinote/internal/domain"
	"medinote/internal/usecase"
)

// maxClipBytes matches the upload limit of the transcription API.
const maxClipBytes = 25 << 20

var errMissingAudio = errors.New("audio is required")

// ConsultationHandler drives the signed-in clinician's workflow.
type ConsultationHandler struct {
	workflows *usecase.WorkflowRegistry
	events    *Broker
}

func NewConsultationHandler(workflows *usecase.WorkflowRegistry, events *Broker) *ConsultationHandler {
	return &ConsultationHandler{workflows: workflows, events: events}
}

func (h *ConsultationHandler) workflow(c *gin.Context) *usecase.ConsultationWorkflow {
	return h.workflows.ForOwner(ownerOf(c))
}

func (h *ConsultationHandler) Status(c *gin.Context) {
	respondOK(c, h.workflow(c).Status())
}

func (h *ConsultationHandler) Register(c *gin.Context) {
	var req domain.PatientInfo
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	wf := h.workflow(c)
	if err := wf.Register(c.Request.Context(), req); err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, wf.Status())
}

func (h *ConsultationHandler) StartRecording(c *gin.Context) {
	h.transition(c, (*usecase.ConsultationWorkflow).StartRecording)
}

func (h *ConsultationHandler) StopRecording(c *gin.Context) {
	h.transition(c, (*usecase.ConsultationWorkflow).PauseRecording)
}

func (h *ConsultationHandler) End(c *gin.Context) {
	h.transition(c, (*usecase.ConsultationWorkflow).EndSession)
}

func (h *ConsultationHandler) Reset(c *gin.Context) {
	wf := h.workflow(c)
	wf.StartNewConsultation(c.Request.Context())
	respondOK(c, wf.Status())
}

func (h *ConsultationHandler) Diagnosis(c *gin.Context) {
	diagnoses, err := h.workflow(c).RequestDiagnosis(c.Request.Context())
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, gin.H{"diagnoses": diagnoses})
}

// Audio transcribes one clip recorded by the browser and appends it to the
// transcript. The clip is either a multipart "audio" file or a JSON body with
// base64 "audio".
func (h *ConsultationHandler) Audio(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxClipBytes)
	clip, err := readClip(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_audio", err)
		return
	}
	message, err := h.workflow(c).SubmitClip(c.Request.Context(), clip)
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, gin.H{"message": message})
}

func (h *ConsultationHandler) Events(c *gin.Context) {
	wf := h.workflow(c)
	h.events.Stream(c.Writer, c.Request, ownerOf(c), wf.Status())
}

func (h *ConsultationHandler) transition(c *gin.Context, op func(*usecase.ConsultationWorkflow, context.Context) error) {
	wf := h.workflow(c)
	if err := op(wf, c.Request.Context()); err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, wf.Status())
}

type clipRequest struct {
	Audio    string `json:"audio"`
	MimeType string `json:"mimeType"`
	Filename string `json:"filename"`
	Speaker  string `json:"speaker"`
	Sequence int    `json:"sequence"`
}

func readClip(c *gin.Context) (domain.AudioClip, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		return readMultipartClip(c)
	}

	var req clipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return domain.AudioClip{}, err
	}
	if req.Audio == "" {
		return domain.AudioClip{}, errMissingAudio
	}
	data, err := decodeBase64Audio(req.Audio)
	if err != nil {
		return domain.AudioClip{}, err
	}
	return newClip(data, req.MimeType, req.Filename, req.Speaker, req.Sequence)
}

func readMultipartClip(c *gin.Context) (domain.AudioClip, error) {
	header, err := c.FormFile("audio")
	if err != nil {
		return domain.AudioClip{}, errMissingAudio
	}
	data, err := readFormFile(header)
	if err != nil {
		return domain.AudioClip{}, err
	}
	sequence, _ := strconv.Atoi(c.PostForm("sequence"))
	return newClip(data, header.Header.Get("Content-Type"), header.Filename, c.PostForm("speaker"), sequence)
}

func readFormFile(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// decodeBase64Audio accepts plain base64 or a data URL.
func decodeBase64Audio(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if _, payload, ok := strings.Cut(s, ","); ok {
			s = payload
		}
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

func newClip(data []byte, mimeType, filename, speaker string, sequence int) (domain.AudioClip, error) {
	if len(data) == 0 {
		return domain.AudioClip{}, errMissingAudio
	}
	label := domain.Speaker(strings.ToLower(strings.TrimSpace(speaker)))
	if !label.Valid() {
		return domain.AudioClip{}, errors.New("speaker must be doctor or patient")
	}
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = "audio/webm"
	}
	return domain.AudioClip{
		Sequence: sequence,
		Data:     data,
		MimeType: mimeType,
		Filename: filename,
		Speaker:  label,
	}, nil
}
