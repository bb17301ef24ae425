package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"medinote/internal/logger"
)

// ErrMissingAPIKey is returned before any request when OPENAI_API_KEY is unset.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY is not configured")

// Config selects models and transport limits for the OpenAI-backed collaborators.
type Config struct {
	APIKey          string
	BaseURL         string
	Language        string
	TranscribeModel string
	DiagnosisModel  string
	ReviewModel     string
	ChatModel       string
	Timeout         time.Duration
	MaxRetries      int
}

// Client talks to the OpenAI REST API. It implements ports.Transcriber,
// ports.DiagnosisAnalyzer and ports.ComplianceReviewer.
type Client struct {
	cfg  Config
	http *resty.Client
	log  *logger.Logger
	now  func() time.Time
}

func NewClient(cfg Config, log *logger.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = "whisper-1"
	}
	if cfg.DiagnosisModel == "" {
		cfg.DiagnosisModel = "gpt-4.1"
	}
	if cfg.ReviewModel == "" {
		cfg.ReviewModel = "gpt-4o-mini"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}

	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetAuthToken(cfg.APIKey).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == 429 || r.StatusCode() >= 500
		})

	return &Client{cfg: cfg, http: http, log: log.With("component", "openai"), now: time.Now}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *Client) complete(ctx context.Context, req chatRequest) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", ErrMissingAPIKey
	}

	var (
		out    chatResponse
		failed apiError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&failed).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("openai chat request: %w", err)
	}
	if resp.IsError() {
		return "", statusError(resp, failed)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func statusError(resp *resty.Response, body apiError) error {
	msg := strings.TrimSpace(body.Error.Message)
	if msg == "" {
		msg = strings.TrimSpace(resp.String())
	}
	return fmt.Errorf("openai API error %d: %s", resp.StatusCode(), msg)
}
