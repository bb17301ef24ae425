package domain

import "strings"

// TranscriptText joins message contents in order, one utterance per line.
func TranscriptText(messages []ConsultationMessage) string {
	lines := make([]string, 0, len(messages))
	for _, message := range messages {
		lines = append(lines, message.Content)
	}
	return strings.Join(lines, "\n")
}
