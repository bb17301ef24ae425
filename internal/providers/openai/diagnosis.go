package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"medinote/internal/domain"
)

// Returned when the model's reply cannot be read as a diagnosis list.
const (
	UnparsedDiagnosisName           = "추가 검사 필요"
	UnparsedDiagnosisProbability    = 80
	unparsedDiagnosisSymptom        = "명확한 진단을 위한 추가 정보 필요"
	unparsedDiagnosisRecommendation = "전문의와 직접 상담하여 정확한 진단을 받으시기 바랍니다."
)

var errNoConversation = errors.New("conversation is empty")

const diagnosisSystemPrompt = `You are an experienced physician assisting a clinician. Suggest possible diagnoses
from the consultation transcript, and always remind the reader that a specialist must confirm them.`

// AnalyzeDiagnosis asks the chat model for up to three candidate conditions.
func (c *Client) AnalyzeDiagnosis(ctx context.Context, transcript string, patient domain.PatientInfo) ([]domain.Diagnosis, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, errNoConversation
	}

	reply, err := c.complete(ctx, chatRequest{
		Model: c.cfg.DiagnosisModel,
		Messages: []chatMessage{
			{Role: "system", Content: diagnosisSystemPrompt},
			{Role: "user", Content: diagnosisPrompt(transcript, patient, c.cfg.Language)},
		},
		Temperature:    0.3,
		MaxTokens:      2000,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("diagnosis analysis: %w", err)
	}

	diagnoses, err := parseDiagnoses(reply)
	if err != nil {
		c.log.Warn("diagnosis reply was not valid JSON", "error", err, "reply_length", len(reply))
		return []domain.Diagnosis{UnparsedDiagnosis()}, nil
	}
	return domain.RankDiagnoses(diagnoses), nil
}

// UnparsedDiagnosis is the single entry reported when the model answers in free text.
func UnparsedDiagnosis() domain.Diagnosis {
	return domain.Diagnosis{
		Disease:        UnparsedDiagnosisName,
		Probability:    UnparsedDiagnosisProbability,
		Symptoms:       []string{unparsedDiagnosisSymptom},
		Recommendation: unparsedDiagnosisRecommendation,
	}
}

func diagnosisPrompt(transcript string, patient domain.PatientInfo, language string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Patient: %s, age %s.\n\nConsultation transcript:\n%s\n\n", patient.Name, patient.Age, transcript)
	b.WriteString(`Return exactly three likely diagnoses as JSON:
{"diagnoses":[{"disease":"name","probability":1-100,"symptoms":["..."],"recommendation":"..."}]}
Order them from most to least likely, use precise medical terminology, base symptoms on what the
patient said, and keep recommendations concrete.`)
	if language != "" {
		fmt.Fprintf(&b, "\nWrite all text values in language %q.", language)
	}
	return b.String()
}

type diagnosisReply struct {
	Diagnoses []struct {
		Disease        string   `json:"disease"`
		Probability    float64  `json:"probability"`
		Symptoms       []string `json:"symptoms"`
		Recommendation string   `json:"recommendation"`
	} `json:"diagnoses"`
}

func parseDiagnoses(reply string) ([]domain.Diagnosis, error) {
	var parsed diagnosisReply
	if err := json.Unmarshal([]byte(extractJSONObject(reply)), &parsed); err != nil {
		return nil, err
	}
	if parsed.Diagnoses == nil {
		return nil, errors.New("reply has no diagnoses array")
	}

	out := make([]domain.Diagnosis, 0, len(parsed.Diagnoses))
	for _, d := range parsed.Diagnoses {
		out = append(out, domain.Diagnosis{
			Disease:        strings.TrimSpace(d.Disease),
			Probability:    int(math.Round(d.Probability)),
			Symptoms:       d.Symptoms,
			Recommendation: strings.TrimSpace(d.Recommendation),
		})
	}
	return out, nil
}
