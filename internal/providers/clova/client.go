package clova

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"medinote/internal/audio"
	"medinote/internal/domain"
)

const (
	defaultURL        = "https://naveropenapi.apigw.ntruss.com/recog/v1/stt"
	defaultConfidence = 0.9
)

// ErrMissingAPIKey is returned before any network call when credentials are absent.
var ErrMissingAPIKey = errors.New("NAVER_CLOVA_CLIENT_ID and NAVER_CLOVA_CLIENT_SECRET are not configured")

type Config struct {
	ClientID     string
	ClientSecret string
	URL          string
	Language     string
	Timeout      time.Duration
	MaxRetries   int
}

// Client transcribes clips with the Naver Clova Speech Recognition API.
// The API returns no confidence, so every result carries a fixed one.
type Client struct {
	cfg  Config
	http *resty.Client
}

func NewClient(cfg Config) *Client {
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	http := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("X-NCP-APIGW-API-KEY-ID", cfg.ClientID).
		SetHeader("X-NCP-APIGW-API-KEY", cfg.ClientSecret).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == 429 || r.StatusCode() >= 500
		})

	return &Client{cfg: cfg, http: http}
}

func (c *Client) Transcribe(ctx context.Context, clip domain.AudioClip) (domain.Transcription, error) {
	if strings.TrimSpace(c.cfg.ClientID) == "" || strings.TrimSpace(c.cfg.ClientSecret) == "" {
		return domain.Transcription{}, ErrMissingAPIKey
	}
	if len(clip.Data) == 0 {
		return domain.Transcription{}, errors.New("audio clip is empty")
	}

	body := clip.Data
	if clip.MimeType == "" || clip.MimeType == domain.MimePCM {
		body = audio.EncodeWAV(clip.Data, clip.SampleRate, clip.Channels)
	}

	var result struct {
		Text string `json:"text"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("lang", languageCode(c.cfg.Language)).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(body).
		SetResult(&result).
		Post(c.cfg.URL)
	if err != nil {
		return domain.Transcription{}, fmt.Errorf("clova transcription request: %w", err)
	}
	if resp.IsError() {
		return domain.Transcription{}, fmt.Errorf("clova transcription failed: %s: %s", resp.Status(), strings.TrimSpace(resp.String()))
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return domain.Transcription{}, nil
	}
	return domain.Transcription{Text: text, Confidence: defaultConfidence}, nil
}

// languageCode maps a BCP-47 primary tag to the Clova lang parameter.
func languageCode(language string) string {
	primary, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(language)), "-")
	switch primary {
	case "en":
		return "Eng"
	case "ja":
		return "Jpn"
	case "zh":
		return "Chn"
	default:
		return "Kor"
	}
}
