package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const chatSystemPrompt = `You are a friendly clinician taking a patient's history. Reply in one or two short
sentences (50 to 100 characters): acknowledge the symptom, ask one follow-up question or give a
simple precaution. Never diagnose. Answer in the patient's language.`

// Chat returns a brief conversational reply to a patient utterance.
func (c *Client) Chat(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("chat text is empty")
	}

	reply, err := c.complete(ctx, chatRequest{
		Model: c.cfg.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: chatSystemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0.7,
		MaxTokens:   200,
	})
	if err != nil {
		return "", fmt.Errorf("simple chat: %w", err)
	}
	if reply == "" {
		return "", errors.New("simple chat: empty reply")
	}
	return reply, nil
}
