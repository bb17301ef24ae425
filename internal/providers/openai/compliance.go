package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"medinote/internal/domain"
)

const complianceSystemPrompt = `You are an expert in Korean medical law. You review clinician-patient
conversations for legal compliance and always cite specific articles (for example 의료법 제12조 제1항).`

// ReviewCompliance asks the chat model for a medical-law review of the
// conversation. A reply that is not JSON is kept verbatim in RawAnalysis.
func (c *Client) ReviewCompliance(ctx context.Context, transcript []domain.ConsultationMessage, patient domain.PatientInfo) (*domain.ComplianceReview, error) {
	if len(transcript) == 0 {
		return nil, errNoConversation
	}
	text := domain.TranscriptText(transcript)

	reply, err := c.complete(ctx, chatRequest{
		Model: c.cfg.ReviewModel,
		Messages: []chatMessage{
			{Role: "system", Content: complianceSystemPrompt},
			{Role: "user", Content: compliancePrompt(text, patient)},
		},
		Temperature: 0.3,
		MaxTokens:   2000,
	})
	if err != nil {
		return nil, fmt.Errorf("compliance review: %w", err)
	}
	if reply == "" {
		return nil, fmt.Errorf("compliance review: empty reply")
	}

	review := parseComplianceReview(reply)
	if review.ParseError != "" {
		c.log.Warn("compliance reply was not valid JSON", "error", review.ParseError, "reply_length", len(reply))
	}
	review.ReviewDate = c.now().UTC()
	review.PatientInfo = domain.ReviewedPatient{Name: patient.Name, Age: patient.Age}
	review.Summary = domain.ConversationSummary{
		MessageCount: len(transcript),
		TextLength:   utf8.RuneCountInString(text),
	}
	return review, nil
}

func compliancePrompt(text string, patient domain.PatientInfo) string {
	return fmt.Sprintf(`Review the following consultation from the standpoint of Korean medical law.

Patient: %s, age %s.

Conversation:
%s

Analyse, as JSON:
1. medical acts performed (diagnosis, prescription, counselling),
2. compliance status with the relevant articles,
3. potential legal risks,
4. recommendations,
5. notes for writing the medical record.

Cite a concrete article for every legal point. Use exactly this shape:
{
  "medicalActs": [{"act": "", "relatedArticles": [""]}],
  "compliance": {"status": "compliant|warning|violation", "details": "", "relatedArticles": [""]},
  "risks": [{"risk": "", "relatedArticles": [""]}],
  "recommendations": [{"recommendation": "", "relatedArticles": [""]}],
  "recordingNotes": [{"note": "", "relatedArticles": [""]}]
}`, patient.Name, patient.Age, text)
}

func parseComplianceReview(reply string) *domain.ComplianceReview {
	var review domain.ComplianceReview
	if err := json.Unmarshal([]byte(extractJSONObject(reply)), &review); err != nil {
		return &domain.ComplianceReview{RawAnalysis: reply, ParseError: err.Error()}
	}
	// These two fields only ever describe a local parse failure.
	review.RawAnalysis, review.ParseError = "", ""
	return &review
}

// extractJSONObject drops markdown fences and anything outside the outermost braces.
func extractJSONObject(reply string) string {
	s := strings.TrimSpace(reply)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}
