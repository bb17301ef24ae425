package domain

import "time"

// ComplianceStatus is the reviewer's overall verdict.
type ComplianceStatus string

const (
	ComplianceCompliant ComplianceStatus = "compliant"
	ComplianceWarning   ComplianceStatus = "warning"
	ComplianceViolation ComplianceStatus = "violation"
)

// ComplianceReview is the structured-or-opaque medical-law review of a transcript.
// When the model output cannot be parsed, RawAnalysis and ParseError are set instead
// of the structured fields.
type ComplianceReview struct {
	MedicalActs     []ReviewedAct       `json:"medicalActs,omitempty"`
	Compliance      *ComplianceVerdict  `json:"compliance,omitempty"`
	Risks           []ReviewedRisk      `json:"risks,omitempty"`
	Recommendations []ReviewedAdvice    `json:"recommendations,omitempty"`
	RecordingNotes  []ReviewedNote      `json:"recordingNotes,omitempty"`
	RawAnalysis     string              `json:"rawAnalysis,omitempty"`
	ParseError      string              `json:"parseError,omitempty"`
	ReviewDate      time.Time           `json:"reviewDate"`
	PatientInfo     ReviewedPatient     `json:"patientInfo"`
	Summary         ConversationSummary `json:"conversationSummary"`
}

type ReviewedAct struct {
	Act             string   `json:"act"`
	RelatedArticles []string `json:"relatedArticles,omitempty"`
}

type ComplianceVerdict struct {
	Status          ComplianceStatus `json:"status"`
	Details         string           `json:"details"`
	RelatedArticles []string         `json:"relatedArticles,omitempty"`
}

type ReviewedRisk struct {
	Risk            string   `json:"risk"`
	RelatedArticles []string `json:"relatedArticles,omitempty"`
}

type ReviewedAdvice struct {
	Recommendation  string   `json:"recommendation"`
	RelatedArticles []string `json:"relatedArticles,omitempty"`
}

type ReviewedNote struct {
	Note            string   `json:"note"`
	RelatedArticles []string `json:"relatedArticles,omitempty"`
}

type ReviewedPatient struct {
	Name string `json:"name"`
	Age  string `json:"age"`
}

type ConversationSummary struct {
	MessageCount int `json:"messageCount"`
	TextLength   int `json:"textLength"`
}
