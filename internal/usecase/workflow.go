package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"medinote/internal/domain"
	"medinote/internal/logger"
	"medinote/internal/ports"
)

var (
	ErrNoActiveSession  = errors.New("no active recording session")
	ErrInvalidPatient   = errors.New("patient name and age are required")
	ErrConsentRequired  = errors.New("patient consent is required")
	ErrWrongStage       = errors.New("operation not allowed in the current stage")
	ErrEmptyTranscript  = errors.New("transcript is empty")
	ErrSessionAbandoned = errors.New("consultation was replaced by a new one")
)

const (
	FallbackDiagnosisName   = "Analysis unavailable"
	FallbackRecommendation  = "Automated analysis failed. Please consult a medical professional."
	defaultReviewTimeout    = 60 * time.Second
	defaultClipQueue        = 32
	conversationSyncTimeout = 10 * time.Second
)

// WorkflowConfig controls one clinician's consultation workflow.
type WorkflowConfig struct {
	OwnerID       string
	EndGrace      time.Duration
	ReviewTimeout time.Duration
	ClipQueue     int
}

// Dependencies are the collaborators a workflow calls out to. Capture is nil when
// audio arrives from a remote client through SubmitClip.
type Dependencies struct {
	Store       ports.RecordStore
	Transcriber ports.Transcriber
	Diagnosis   ports.DiagnosisAnalyzer
	Compliance  ports.ComplianceReviewer
	Normalizer  ports.TextNormalizer
	Capture     LocalCapture
	Events      ports.EventSink
	Logger      *logger.Logger
}

// ConsultationWorkflow sequences registration, recording, review and diagnosis
// for a single clinician.
type ConsultationWorkflow struct {
	deps Dependencies
	log  *logger.Logger
	cfg  WorkflowConfig

	mu      sync.Mutex
	stage   domain.Stage
	current *consultation
}

// consultation is the in-memory state of one patient visit. Fields below
// transcript are guarded by the workflow mutex.
type consultation struct {
	ctx        context.Context
	cancel     context.CancelFunc
	patient    domain.PatientInfo
	transcript *Accumulator
	waiter     *CompletionWaiter
	clips      chan domain.AudioClip

	capturing     bool
	finalized     bool
	saved         bool
	saveErr       error
	recordID      string
	diagnoses     []domain.Diagnosis
	compliance    *domain.ComplianceReview
	reviewPending bool
}

func NewConsultationWorkflow(deps Dependencies, cfg WorkflowConfig) *ConsultationWorkflow {
	if cfg.EndGrace <= 0 {
		cfg.EndGrace = DefaultEndGrace
	}
	if cfg.ReviewTimeout <= 0 {
		cfg.ReviewTimeout = defaultReviewTimeout
	}
	if cfg.ClipQueue <= 0 {
		cfg.ClipQueue = defaultClipQueue
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &ConsultationWorkflow{
		deps:  deps,
		log:   log.With("owner_id", cfg.OwnerID),
		cfg:   cfg,
		stage: domain.StageRegistration,
	}
}

// ValidatePatient enforces the registration gate.
func ValidatePatient(info domain.PatientInfo) error {
	if strings.TrimSpace(info.Name) == "" || strings.TrimSpace(info.Age) == "" {
		return ErrInvalidPatient
	}
	if !info.Consent {
		return ErrConsentRequired
	}
	return nil
}

// Register opens a consultation for a consenting patient and moves to Recording.
func (w *ConsultationWorkflow) Register(_ context.Context, info domain.PatientInfo) error {
	info.Name = strings.TrimSpace(info.Name)
	info.Age = strings.TrimSpace(info.Age)
	if err := ValidatePatient(info); err != nil {
		w.deps.Events.Notify(domain.ErrorCodeValidation, err.Error())
		return err
	}

	w.mu.Lock()
	if w.stage != domain.StageRegistration {
		w.mu.Unlock()
		return ErrWrongStage
	}
	c := w.newConsultation(info)
	w.current = c
	w.stage = domain.StageRecording
	w.mu.Unlock()

	if c.clips != nil {
		go w.transcribeQueued(c)
	}
	w.log.Info("patient registered")
	w.deps.Events.StageChanged(domain.StageRecording, domain.ReasonPatientRegistered)
	return nil
}

// StartRecording acquires capture for the current consultation. It also resumes a paused recording.
func (w *ConsultationWorkflow) StartRecording(ctx context.Context) error {
	c, err := w.consultationIn(domain.StageRecording)
	if err != nil {
		return err
	}

	w.mu.Lock()
	finalized, capturing := c.finalized, c.capturing
	w.mu.Unlock()
	if finalized {
		return ErrWrongStage
	}
	if capturing {
		return nil
	}

	if w.deps.Capture != nil {
		if err := w.deps.Capture.Start(c.ctx, sessionSink{w: w, c: c}); err != nil {
			w.log.Error("capture start failed", "error", err)
			w.deps.Events.Notify(domain.ErrorCodeCapture, err.Error())
			return fmt.Errorf("start recording: %w", err)
		}
		w.mu.Lock()
		c.capturing = true
		w.mu.Unlock()
	}

	if err := c.waiter.CaptureStarted(); err != nil {
		w.stopCapture(ctx, c)
		return ErrWrongStage
	}
	w.deps.Events.StageChanged(domain.StageRecording, domain.ReasonRecordingStarted)
	return nil
}

// PauseRecording releases capture without ending the consultation.
func (w *ConsultationWorkflow) PauseRecording(ctx context.Context) error {
	c, err := w.consultationIn(domain.StageRecording)
	if err != nil {
		return err
	}
	if capturing, _ := c.waiter.Active(); !capturing || c.waiter.State() != domain.RecorderRecording {
		return ErrNoActiveSession
	}

	w.stopCapture(ctx, c)
	c.waiter.CaptureStopped()
	w.deps.Events.StageChanged(domain.StageRecording, domain.ReasonRecordingPaused)
	return nil
}

// EndSession stops capture and hands the decision of when to finalize to the waiter.
// After a failed save it retries persisting the finalized transcript.
func (w *ConsultationWorkflow) EndSession(ctx context.Context) error {
	c, err := w.consultationIn(domain.StageRecording)
	if err != nil {
		return err
	}

	w.mu.Lock()
	finalized := c.finalized
	w.mu.Unlock()
	if finalized {
		err := w.persistFinalized(ctx, c)
		w.mu.Lock()
		c.saveErr = err
		w.mu.Unlock()
		return err
	}

	switch c.waiter.State() {
	case domain.RecorderIdle:
		return ErrNoActiveSession
	case domain.RecorderAwaitingDrain, domain.RecorderFinalized:
		return nil
	}

	// Request the end while capture still counts as active; releasing capture
	// afterwards arms the grace timer for the clip still on its way.
	done, err := c.waiter.RequestEnd(c.transcript.Len)
	if err != nil {
		return err
	}
	w.stopCapture(ctx, c)
	c.waiter.CaptureStopped()
	if !done {
		w.deps.Events.StageChanged(domain.StageRecording, domain.ReasonAwaitingTranscript)
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return c.saveErr
}

// SubmitClip transcribes one clip captured by a remote client and appends the result.
// It returns a nil message when the clip produced no text.
func (w *ConsultationWorkflow) SubmitClip(ctx context.Context, clip domain.AudioClip) (*domain.ConsultationMessage, error) {
	c, err := w.consultationIn(domain.StageRecording)
	if err != nil {
		return nil, err
	}
	switch c.waiter.State() {
	case domain.RecorderIdle, domain.RecorderFinalized:
		return nil, ErrNoActiveSession
	}

	c.waiter.TranscriptionStarted()
	defer c.waiter.TranscriptionFinished()
	return w.transcribeClip(ctx, c, clip)
}

// RequestDiagnosis asks the analyzer for candidate conditions. Analyzer failures
// never block the workflow: a single fallback entry is shown instead.
func (w *ConsultationWorkflow) RequestDiagnosis(ctx context.Context) ([]domain.Diagnosis, error) {
	c, err := w.consultationIn(domain.StagePostRecordingReview)
	if err != nil {
		return nil, err
	}

	snapshot := c.transcript.Snapshot()
	if len(snapshot) == 0 {
		return nil, ErrEmptyTranscript
	}

	w.mu.Lock()
	patient, recordID := c.patient, c.recordID
	w.mu.Unlock()

	reason := domain.ReasonDiagnosisReady
	diagnoses, err := w.deps.Diagnosis.AnalyzeDiagnosis(ctx, domain.TranscriptText(snapshot), patient)
	if err == nil && len(diagnoses) == 0 {
		err = errors.New("analyzer returned no diagnoses")
	}
	if err != nil {
		w.log.Warn("diagnosis analysis failed", "record_id", recordID, "error", err)
		w.deps.Events.Notify(domain.ErrorCodeDiagnosis, err.Error())
		diagnoses = []domain.Diagnosis{FallbackDiagnosis()}
		reason = domain.ReasonDiagnosisFallback
	} else {
		now := time.Now()
		diagnoses = domain.RankDiagnoses(diagnoses)
		for i := range diagnoses {
			diagnoses[i].AnalyzedAt = &now
		}
		if _, err := w.deps.Store.UpdateRecord(ctx, recordID, domain.RecordPatch{Diagnoses: diagnoses}); err != nil {
			w.log.Error("persist diagnoses failed", "record_id", recordID, "error", err)
			w.deps.Events.Notify(domain.ErrorCodePersistence, "diagnoses could not be saved")
		}
	}

	w.mu.Lock()
	if w.current != c {
		w.mu.Unlock()
		return nil, ErrSessionAbandoned
	}
	c.diagnoses = diagnoses
	w.stage = domain.StageDiagnosisReview
	w.mu.Unlock()

	w.deps.Events.StageChanged(domain.StageDiagnosisReview, reason)
	w.deps.Events.DiagnosesReady(diagnoses)
	return diagnoses, nil
}

// StartNewConsultation discards the in-memory consultation and returns to Registration.
func (w *ConsultationWorkflow) StartNewConsultation(ctx context.Context) {
	w.mu.Lock()
	c := w.current
	w.current = nil
	w.stage = domain.StageRegistration
	capturing := false
	if c != nil {
		capturing = c.capturing
		c.capturing = false
	}
	w.mu.Unlock()

	if c != nil {
		if capturing && w.deps.Capture != nil {
			_ = w.deps.Capture.Stop(ctx)
		}
		c.cancel()
		c.waiter.Reset()
	}
	w.deps.Events.StageChanged(domain.StageRegistration, domain.ReasonNewConsultation)
}

// Status returns the current stage and consultation state.
func (w *ConsultationWorkflow) Status() domain.Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	status := domain.Status{
		Stage:        w.stage,
		Recorder:     domain.RecorderIdle,
		Conversation: []domain.ConsultationMessage{},
	}
	c := w.current
	if c == nil {
		return status
	}

	patient := c.patient
	status.Patient = &patient
	status.Recorder = c.waiter.State()
	status.Capturing, status.InFlight = c.waiter.Active()
	status.RecordID = c.recordID
	status.Conversation = c.transcript.Snapshot()
	status.Diagnoses = c.diagnoses
	status.Compliance = c.compliance
	status.ReviewPending = c.reviewPending
	return status
}

// FallbackDiagnosis is shown when the analyzer is unavailable.
func FallbackDiagnosis() domain.Diagnosis {
	return domain.Diagnosis{
		Disease:        FallbackDiagnosisName,
		Probability:    0,
		Symptoms:       []string{},
		Recommendation: FallbackRecommendation,
	}
}

func (w *ConsultationWorkflow) newConsultation(info domain.PatientInfo) *consultation {
	ctx, cancel := context.WithCancel(context.Background())
	c := &consultation{
		ctx:        ctx,
		cancel:     cancel,
		patient:    info,
		transcript: NewAccumulator(w.deps.Normalizer),
	}
	c.waiter = NewCompletionWaiter(
		w.cfg.EndGrace,
		func(int) { w.finalize(c) },
		func(state domain.RecorderState) {
			if w.isCurrent(c) {
				w.deps.Events.RecorderChanged(state)
			}
		},
	)
	if w.deps.Capture != nil {
		c.clips = make(chan domain.AudioClip, w.cfg.ClipQueue)
	}
	return c
}

func (w *ConsultationWorkflow) consultationIn(stage domain.Stage) (*consultation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil || w.stage != stage {
		return nil, ErrWrongStage
	}
	return w.current, nil
}

func (w *ConsultationWorkflow) isCurrent(c *consultation) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current == c
}

func (w *ConsultationWorkflow) stopCapture(ctx context.Context, c *consultation) {
	w.mu.Lock()
	capturing := c.capturing
	c.capturing = false
	w.mu.Unlock()

	if capturing && w.deps.Capture != nil {
		if err := w.deps.Capture.Stop(ctx); err != nil && !errors.Is(err, ErrNoActiveSession) {
			w.log.Warn("capture stop failed", "error", err)
		}
	}
}

func (w *ConsultationWorkflow) finalize(c *consultation) {
	w.mu.Lock()
	if w.current != c || c.finalized {
		w.mu.Unlock()
		return
	}
	c.finalized = true
	w.mu.Unlock()

	w.log.Info("consultation finalized", "messages", c.transcript.Len())
	err := w.persistFinalized(c.ctx, c)

	w.mu.Lock()
	c.saveErr = err
	w.mu.Unlock()
}

func (w *ConsultationWorkflow) persistFinalized(ctx context.Context, c *consultation) error {
	w.mu.Lock()
	if w.current != c {
		w.mu.Unlock()
		return ErrSessionAbandoned
	}
	patient, recordID := c.patient, c.recordID
	w.mu.Unlock()

	snapshot := c.transcript.Snapshot()
	var (
		record *domain.ConsultationRecord
		err    error
	)
	if recordID == "" {
		record, err = w.deps.Store.CreateRecord(ctx, w.cfg.OwnerID, patient, snapshot)
	} else {
		record, err = w.deps.Store.UpdateRecord(ctx, recordID, domain.RecordPatch{Conversation: snapshot})
	}
	if err != nil {
		w.log.Error("persist consultation failed", "record_id", recordID, "error", err)
		w.deps.Events.Notify(domain.ErrorCodePersistence, fmt.Sprintf("failed to save consultation: %v", err))
		w.deps.Events.StageChanged(domain.StageRecording, domain.ReasonSaveFailed)
		return fmt.Errorf("save consultation: %w", err)
	}

	w.mu.Lock()
	if w.current != c {
		w.mu.Unlock()
		return ErrSessionAbandoned
	}
	c.recordID = record.ID
	c.saved = true
	c.reviewPending = w.deps.Compliance != nil
	w.stage = domain.StagePostRecordingReview
	w.mu.Unlock()

	w.log.Info("consultation saved", "record_id", record.ID, "messages", len(snapshot))
	w.deps.Events.StageChanged(domain.StagePostRecordingReview, domain.ReasonSessionSaved)

	if c.transcript.Len() > len(snapshot) {
		w.syncConversation(c, record.ID)
	}
	if w.deps.Compliance != nil {
		go w.reviewCompliance(c, record.ID, snapshot, patient)
	}
	return nil
}

func (w *ConsultationWorkflow) reviewCompliance(c *consultation, recordID string, snapshot []domain.ConsultationMessage, patient domain.PatientInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.ReviewTimeout)
	defer cancel()

	review, err := w.deps.Compliance.ReviewCompliance(ctx, snapshot, patient)
	if err != nil {
		w.log.Warn("compliance review failed", "record_id", recordID, "error", err)
		w.deps.Events.Notify(domain.ErrorCodeCompliance, err.Error())
		w.mu.Lock()
		if w.current == c {
			c.reviewPending = false
		}
		w.mu.Unlock()
		return
	}

	if _, err := w.deps.Store.UpdateRecord(ctx, recordID, domain.RecordPatch{ComplianceReview: review}); err != nil {
		w.log.Error("persist compliance review failed", "record_id", recordID, "error", err)
		w.deps.Events.Notify(domain.ErrorCodePersistence, "compliance review could not be saved")
	}

	w.mu.Lock()
	current := w.current == c
	if current {
		c.compliance = review
		c.reviewPending = false
	}
	w.mu.Unlock()

	if current {
		w.deps.Events.ComplianceReady(recordID, review)
	}
}

func (w *ConsultationWorkflow) transcribeQueued(c *consultation) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case clip := <-c.clips:
			_, _ = w.transcribeClip(c.ctx, c, clip)
			c.waiter.TranscriptionFinished()
		}
	}
}

func (w *ConsultationWorkflow) transcribeClip(ctx context.Context, c *consultation, clip domain.AudioClip) (*domain.ConsultationMessage, error) {
	result, err := w.deps.Transcriber.Transcribe(ctx, clip)
	if err != nil {
		if w.isCurrent(c) {
			w.log.Warn("transcription failed", "sequence", clip.Sequence, "error", err)
			w.deps.Events.Notify(domain.ErrorCodeTranscription, err.Error())
		}
		return nil, fmt.Errorf("transcribe clip %d: %w", clip.Sequence, err)
	}

	message, err := w.appendUtterance(c, result.Text, clip.Speaker)
	if errors.Is(err, ErrEmptyUtterance) {
		w.log.Debug("empty transcription dropped", "sequence", clip.Sequence)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (w *ConsultationWorkflow) appendUtterance(c *consultation, text string, speaker domain.Speaker) (domain.ConsultationMessage, error) {
	w.mu.Lock()
	current := w.current == c
	saved, recordID := c.saved, c.recordID
	w.mu.Unlock()
	if !current {
		return domain.ConsultationMessage{}, ErrSessionAbandoned
	}

	message, err := c.transcript.Append(text, speaker)
	if err != nil {
		return domain.ConsultationMessage{}, err
	}

	w.deps.Events.MessageAppended(message)
	c.waiter.MessageAppended(c.transcript.Len())
	if saved {
		w.syncConversation(c, recordID)
	}
	return message, nil
}

// syncConversation writes messages that completed after finalization onto the saved record.
func (w *ConsultationWorkflow) syncConversation(c *consultation, recordID string) {
	ctx, cancel := context.WithTimeout(context.Background(), conversationSyncTimeout)
	defer cancel()
	if _, err := w.deps.Store.UpdateRecord(ctx, recordID, domain.RecordPatch{Conversation: c.transcript.Snapshot()}); err != nil {
		w.log.Error("persist late message failed", "record_id", recordID, "error", err)
		w.deps.Events.Notify(domain.ErrorCodePersistence, "late transcript could not be saved")
	}
}

// sessionSink routes local capture output into one consultation. Output that
// arrives after the consultation was replaced is dropped.
type sessionSink struct {
	w *ConsultationWorkflow
	c *consultation
}

func (s sessionSink) Clip(clip domain.AudioClip) {
	if !s.w.isCurrent(s.c) || s.c.clips == nil {
		return
	}
	s.c.waiter.TranscriptionStarted()
	select {
	case s.c.clips <- clip:
	default:
		s.c.waiter.TranscriptionFinished()
		s.w.log.Warn("transcription queue full", "sequence", clip.Sequence)
		s.w.deps.Events.Notify(domain.ErrorCodeTranscription, "transcription queue full; audio segment dropped")
	}
}

func (s sessionSink) Utterance(text string) {
	if _, err := s.w.appendUtterance(s.c, text, ""); err != nil &&
		!errors.Is(err, ErrEmptyUtterance) && !errors.Is(err, ErrSessionAbandoned) {
		s.w.log.Warn("streamed utterance dropped", "error", err)
	}
}

func (s sessionSink) Partial(text string) {
	if s.w.isCurrent(s.c) {
		s.w.deps.Events.PartialTranscript(text)
	}
}

func (s sessionSink) Failure(code domain.ErrorCode, err error) {
	if !s.w.isCurrent(s.c) {
		return
	}
	s.w.log.Warn("capture pipeline failure", "code", code, "error", err)
	s.w.deps.Events.Notify(code, err.Error())
}
