package domain

// Event names shared by the desktop bridge and the HTTP event stream.
const (
	EventStatus     = "medinote:status"
	EventStage      = "medinote:stage"
	EventRecorder   = "medinote:recorder"
	EventMessage    = "medinote:message"
	EventPartial    = "medinote:partial"
	EventDiagnoses  = "medinote:diagnoses"
	EventCompliance = "medinote:compliance"
	EventError      = "medinote:error"
)

// StagePayload is emitted with EventStage.
type StagePayload struct {
	Stage  Stage       `json:"stage"`
	Reason StageReason `json:"reason"`
}

// CompliancePayload is emitted with EventCompliance.
type CompliancePayload struct {
	RecordID string            `json:"recordId"`
	Review   *ComplianceReview `json:"review"`
}

// ErrorPayload is emitted with EventError.
type ErrorPayload struct {
	Code   ErrorCode `json:"code"`
	Detail string    `json:"detail"`
}
