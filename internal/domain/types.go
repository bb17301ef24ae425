package domain

import "time"

// Stage models the clinician-facing consultation workflow.
type Stage string

const (
	StageRegistration        Stage = "registration"
	StageRecording           Stage = "recording"
	StagePostRecordingReview Stage = "post_recording_review"
	StageDiagnosisReview     Stage = "diagnosis_review"
)

// RecorderState models the end-of-session drain for one recording session.
type RecorderState string

const (
	RecorderIdle          RecorderState = "idle"
	RecorderRecording     RecorderState = "recording"
	RecorderAwaitingDrain RecorderState = "awaiting_drain"
	RecorderFinalized     RecorderState = "finalized"
)

// StageReason provides a structured reason for workflow transitions.
type StageReason string

const (
	ReasonReady              StageReason = "ready"
	ReasonPatientRegistered  StageReason = "patient_registered"
	ReasonRecordingStarted   StageReason = "recording_started"
	ReasonRecordingPaused    StageReason = "recording_paused"
	ReasonAwaitingTranscript StageReason = "awaiting_transcript"
	ReasonSessionSaved       StageReason = "session_saved"
	ReasonSaveFailed         StageReason = "save_failed"
	ReasonDiagnosisReady     StageReason = "diagnosis_ready"
	ReasonDiagnosisFallback  StageReason = "diagnosis_fallback"
	ReasonNewConsultation    StageReason = "new_consultation"
)

// ErrorCode identifies user-facing notifications raised by the backend.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodeValidation    ErrorCode = "validation"
	ErrorCodeCapture       ErrorCode = "capture"
	ErrorCodeAudioStream   ErrorCode = "audio_stream"
	ErrorCodeTranscription ErrorCode = "transcription"
	ErrorCodeDiagnosis     ErrorCode = "diagnosis"
	ErrorCodeCompliance    ErrorCode = "compliance"
	ErrorCodePersistence   ErrorCode = "persistence"
)

// Speaker labels an utterance when speaker separation is available.
type Speaker string

const (
	SpeakerDoctor  Speaker = "doctor"
	SpeakerPatient Speaker = "patient"
)

// Valid reports whether s is empty or one of the known speakers.
func (s Speaker) Valid() bool {
	return s == "" || s == SpeakerDoctor || s == SpeakerPatient
}

// ConsultationMessage is one transcribed utterance.
type ConsultationMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Speaker   Speaker   `json:"speaker,omitempty"`
}

// PatientInfo is the identity and consent captured at registration.
type PatientInfo struct {
	Name    string `json:"name"`
	Age     string `json:"age"`
	Consent bool   `json:"consent"`
}

// Diagnosis is one candidate condition returned by the analysis service.
type Diagnosis struct {
	Disease        string     `json:"disease"`
	Probability    int        `json:"probability"`
	Symptoms       []string   `json:"symptoms"`
	Recommendation string     `json:"recommendation"`
	AnalyzedAt     *time.Time `json:"analyzedAt,omitempty"`
}

// ConsultationRecord is the persisted unit of work.
type ConsultationRecord struct {
	ID               string                `json:"id"`
	OwnerID          string                `json:"ownerId"`
	PatientName      string                `json:"patientName"`
	PatientAge       string                `json:"patientAge"`
	Conversation     []ConsultationMessage `json:"conversation"`
	Diagnoses        []Diagnosis           `json:"diagnoses,omitempty"`
	ComplianceReview *ComplianceReview     `json:"complianceReview,omitempty"`
	CreatedAt        time.Time             `json:"createdAt"`
	UpdatedAt        time.Time             `json:"updatedAt"`
}

// RecordPatch carries the fields merged into an existing record. Nil fields are left untouched.
type RecordPatch struct {
	Conversation     []ConsultationMessage
	Diagnoses        []Diagnosis
	ComplianceReview *ComplianceReview
}

// MimePCM marks raw little-endian 16-bit PCM produced by local capture.
const MimePCM = "audio/pcm"

// AudioClip is one self-contained audio payload handed to a transcriber.
type AudioClip struct {
	Sequence   int
	Data       []byte
	MimeType   string
	Filename   string
	SampleRate int
	Channels   int
	Speaker    Speaker
}

// Transcription is the normalized result of a speech-to-text call.
type Transcription struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent represents incremental transcription output from a streaming provider.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}

// Status summarizes the current workflow for the UI.
type Status struct {
	Stage         Stage                 `json:"stage"`
	Recorder      RecorderState         `json:"recorder"`
	Capturing     bool                  `json:"capturing"`
	InFlight      int                   `json:"inFlight"`
	Patient       *PatientInfo          `json:"patient,omitempty"`
	RecordID      string                `json:"recordId,omitempty"`
	Conversation  []ConsultationMessage `json:"conversation"`
	Diagnoses     []Diagnosis           `json:"diagnoses,omitempty"`
	Compliance    *ComplianceReview     `json:"complianceReview,omitempty"`
	ReviewPending bool                  `json:"reviewPending"`
}
