package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"strings"

	"medinote/internal/audio"
	"medinote/internal/domain"
)

// whisperConfidence is reported for every transcription; the endpoint does not return one.
const whisperConfidence = 0.9

// Transcribe uploads one clip to the Whisper transcription endpoint.
func (c *Client) Transcribe(ctx context.Context, clip domain.AudioClip) (domain.Transcription, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return domain.Transcription{}, ErrMissingAPIKey
	}
	if len(clip.Data) == 0 {
		return domain.Transcription{}, errors.New("audio clip is empty")
	}

	data, filename := clip.Data, clip.Filename
	if clip.MimeType == "" || clip.MimeType == domain.MimePCM {
		data = audio.EncodeWAV(clip.Data, clip.SampleRate, clip.Channels)
		if !strings.HasSuffix(filename, ".wav") {
			filename = "audio.wav"
		}
	}
	if filename == "" {
		filename = "audio.webm"
	}

	body, contentType, err := c.transcriptionForm(filename, data)
	if err != nil {
		return domain.Transcription{}, err
	}

	var (
		out struct {
			Text string `json:"text"`
		}
		failed apiError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(body).
		SetResult(&out).
		SetError(&failed).
		Post("/audio/transcriptions")
	if err != nil {
		return domain.Transcription{}, fmt.Errorf("whisper request: %w", err)
	}
	if resp.IsError() {
		return domain.Transcription{}, statusError(resp, failed)
	}

	text := strings.TrimSpace(out.Text)
	if text == "" {
		return domain.Transcription{}, nil
	}
	return domain.Transcription{Text: text, Confidence: whisperConfidence}, nil
}

// transcriptionForm builds the multipart body up front so retries resend the same bytes.
func (c *Client) transcriptionForm(filename string, data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("build transcription form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("build transcription form: %w", err)
	}
	fields := [][2]string{{"model", c.cfg.TranscribeModel}, {"language", c.cfg.Language}}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := form.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("build transcription form: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, "", fmt.Errorf("build transcription form: %w", err)
	}
	return buf.Bytes(), form.FormDataContentType(), nil
}
