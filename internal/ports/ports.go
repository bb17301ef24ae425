package ports

import (
	"context"
	"io"

	"medinote/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// StreamingProvider starts streaming transcription sessions.
type StreamingProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// Transcriber turns one self-contained audio clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, clip domain.AudioClip) (domain.Transcription, error)
}

// DiagnosisAnalyzer proposes candidate conditions for a transcript.
type DiagnosisAnalyzer interface {
	AnalyzeDiagnosis(ctx context.Context, transcript string, patient domain.PatientInfo) ([]domain.Diagnosis, error)
}

// ComplianceReviewer reviews a transcript against medical-practice regulations.
type ComplianceReviewer interface {
	ReviewCompliance(ctx context.Context, transcript []domain.ConsultationMessage, patient domain.PatientInfo) (*domain.ComplianceReview, error)
}

// TextNormalizer rewrites an utterance before it is appended.
type TextNormalizer interface {
	Apply(text string) (string, error)
}

// RecordStore persists consultation records.
type RecordStore interface {
	CreateRecord(ctx context.Context, ownerID string, patient domain.PatientInfo, conversation []domain.ConsultationMessage) (*domain.ConsultationRecord, error)
	UpdateRecord(ctx context.Context, id string, patch domain.RecordPatch) (*domain.ConsultationRecord, error)
	ListRecords(ctx context.Context, ownerID string) ([]domain.ConsultationRecord, error)
	GetRecord(ctx context.Context, id string) (*domain.ConsultationRecord, error)
}

// EventSink emits workflow state and events to the UI.
type EventSink interface {
	StageChanged(stage domain.Stage, reason domain.StageReason)
	RecorderChanged(state domain.RecorderState)
	MessageAppended(message domain.ConsultationMessage)
	PartialTranscript(text string)
	DiagnosesReady(diagnoses []domain.Diagnosis)
	ComplianceReady(recordID string, review *domain.ComplianceReview)
	Notify(code domain.ErrorCode, detail string)
}
