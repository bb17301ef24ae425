package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"medinote/internal/audio"
	"medinote/internal/domain"
	"medinote/internal/ports"
)

const defaultBaseURL = "https://api.deepgram.com/v1"

// ErrMissingAPIKey is returned before any network call when no key is configured.
var ErrMissingAPIKey = errors.New("DEEPGRAM_API_KEY is not configured")

// Config controls Deepgram REST and websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	Timeout     time.Duration
	MaxRetries  int
}

// Client transcribes consultation audio with Deepgram, either one clip at a
// time over REST or as a live websocket stream.
type Client struct {
	cfg  Config
	http *resty.Client
}

func NewClient(cfg Config) *Client {
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	http := resty.New().
		SetBaseURL(cfg.APIBaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("Authorization", "Token "+cfg.APIKey).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == 429 || r.StatusCode() >= 500
		})

	return &Client{cfg: cfg, http: http}
}

// Transcribe posts one clip to the prerecorded endpoint. Raw PCM clips are
// wrapped in a WAV header first.
func (c *Client) Transcribe(ctx context.Context, clip domain.AudioClip) (domain.Transcription, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return domain.Transcription{}, ErrMissingAPIKey
	}
	if len(clip.Data) == 0 {
		return domain.Transcription{}, errors.New("audio clip is empty")
	}

	body, contentType := clip.Data, clip.MimeType
	if contentType == "" || contentType == domain.MimePCM {
		body, contentType = audio.EncodeWAV(clip.Data, clip.SampleRate, clip.Channels), "audio/wav"
	}

	var result listenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(c.commonParams()).
		SetHeader("Content-Type", contentType).
		SetBody(body).
		SetResult(&result).
		Post("/listen")
	if err != nil {
		return domain.Transcription{}, fmt.Errorf("deepgram transcription request: %w", err)
	}
	if resp.IsError() {
		return domain.Transcription{}, fmt.Errorf("deepgram transcription failed: %s: %s", resp.Status(), strings.TrimSpace(resp.String()))
	}

	text, confidence := result.best()
	return domain.Transcription{Text: text, Confidence: confidence}, nil
}

func (c *Client) commonParams() map[string]string {
	params := map[string]string{
		"model":        c.cfg.Model,
		"smart_format": strconv.FormatBool(c.cfg.SmartFormat),
	}
	if c.cfg.Language != "" {
		params["language"] = c.cfg.Language
	}
	return params
}

func (c *Client) listenURL(stream ports.StreamingConfig) (string, error) {
	base := c.cfg.APIBaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	u, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	if stream.Encoding == "" {
		stream.Encoding = "linear16"
	}
	if stream.SampleRate <= 0 {
		stream.SampleRate = 16000
	}
	if stream.Channels <= 0 {
		stream.Channels = 1
	}

	q := u.Query()
	for k, v := range c.commonParams() {
		q.Set(k, v)
	}
	q.Set("encoding", stream.Encoding)
	q.Set("sample_rate", strconv.Itoa(stream.SampleRate))
	q.Set("channels", strconv.Itoa(stream.Channels))
	q.Set("interim_results", strconv.FormatBool(stream.InterimResults))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// listenResponse covers both the prerecorded body and live "Results" frames.
type listenResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []alternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (r listenResponse) best() (string, float64) {
	if len(r.Channel.Alternatives) > 0 {
		if alt := r.Channel.Alternatives[0]; strings.TrimSpace(alt.Transcript) != "" {
			return strings.TrimSpace(alt.Transcript), alt.Confidence
		}
	}
	if len(r.Results.Channels) > 0 && len(r.Results.Channels[0].Alternatives) > 0 {
		alt := r.Results.Channels[0].Alternatives[0]
		return strings.TrimSpace(alt.Transcript), alt.Confidence
	}
	return "", 0
}

func (r listenResponse) errorMessage() string {
	for _, s := range []string{r.Message, r.Description} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return "deepgram returned an unknown error"
}
