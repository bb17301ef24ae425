package gcpspeech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"medinote/internal/audio"
	"medinote/internal/domain"
)

// Config selects the recognition model and credentials.
type Config struct {
	Model           string
	Language        string
	CredentialsFile string
	Punctuation     bool
	MaxRetries      int
}

type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
	Close() error
}

type sdkRecognizer struct{ client *speech.Client }

func (r sdkRecognizer) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	return r.client.Recognize(ctx, req)
}

func (r sdkRecognizer) Close() error { return r.client.Close() }

// Transcriber sends each consultation clip to Google Cloud Speech-to-Text
// with a synchronous Recognize call.
type Transcriber struct {
	cfg     Config
	rec     recognizer
	backoff time.Duration
}

// New dials the Speech API. Credentials come from CredentialsFile when set,
// otherwise from the SDK's default lookup.
func New(ctx context.Context, cfg Config) (*Transcriber, error) {
	var opts []option.ClientOption
	if creds := strings.TrimSpace(cfg.CredentialsFile); creds != "" {
		if strings.HasPrefix(creds, "{") {
			opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
		} else {
			opts = append(opts, option.WithCredentialsFile(creds))
		}
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return newTranscriber(cfg, sdkRecognizer{client: client}), nil
}

func newTranscriber(cfg Config, rec recognizer) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = "latest_long"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Transcriber{cfg: cfg, rec: rec, backoff: 750 * time.Millisecond}
}

func (t *Transcriber) Close() error { return t.rec.Close() }

func (t *Transcriber) Transcribe(ctx context.Context, clip domain.AudioClip) (domain.Transcription, error) {
	if len(clip.Data) == 0 {
		return domain.Transcription{}, errors.New("audio clip is empty")
	}

	content := clip.Data
	if pcm, rate, channels, err := audio.DecodeWAV(clip.Data); err == nil {
		content, clip.SampleRate, clip.Channels = pcm, rate, channels
		clip.MimeType = domain.MimePCM
	}

	req := &speechpb.RecognizeRequest{
		Config: t.recognitionConfig(clip),
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: content}},
	}

	resp, err := t.recognize(ctx, req)
	if err != nil {
		return domain.Transcription{}, fmt.Errorf("speech recognize: %w", err)
	}
	return joinResults(resp), nil
}

func (t *Transcriber) recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	backoff := t.backoff
	for attempt := 0; ; attempt++ {
		resp, err := t.rec.Recognize(ctx, req)
		if err == nil {
			return resp, nil
		}
		switch status.Code(err) {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded:
		default:
			return nil, err
		}
		if attempt >= t.cfg.MaxRetries {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 10*time.Second)
	}
}

func (t *Transcriber) recognitionConfig(clip domain.AudioClip) *speechpb.RecognitionConfig {
	rc := &speechpb.RecognitionConfig{
		LanguageCode:               languageCode(t.cfg.Language),
		Model:                      t.cfg.Model,
		EnableAutomaticPunctuation: t.cfg.Punctuation,
		Encoding:                   encodingFor(clip.MimeType),
	}
	if rc.Encoding == speechpb.RecognitionConfig_LINEAR16 {
		rc.SampleRateHertz = int32(max(clip.SampleRate, 0))
		rc.AudioChannelCount = int32(max(clip.Channels, 0))
		if rc.SampleRateHertz == 0 {
			rc.SampleRateHertz = 16000
		}
	}
	return rc
}

func encodingFor(mimeType string) speechpb.RecognitionConfig_AudioEncoding {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case m == "" || m == domain.MimePCM || strings.Contains(m, "wav"):
		return speechpb.RecognitionConfig_LINEAR16
	case strings.Contains(m, "webm"):
		return speechpb.RecognitionConfig_WEBM_OPUS
	case strings.Contains(m, "ogg") || strings.Contains(m, "opus"):
		return speechpb.RecognitionConfig_OGG_OPUS
	case strings.Contains(m, "flac"):
		return speechpb.RecognitionConfig_FLAC
	case strings.Contains(m, "mp3") || strings.Contains(m, "mpeg"):
		return speechpb.RecognitionConfig_MP3
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

var regionalDefaults = map[string]string{
	"ko": "ko-KR",
	"en": "en-US",
	"ja": "ja-JP",
	"zh": "cmn-Hans-CN",
}

// languageCode turns a bare ISO code into the BCP-47 tag Speech-to-Text expects.
func languageCode(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return "ko-KR"
	}
	if tag, ok := regionalDefaults[strings.ToLower(lang)]; ok {
		return tag
	}
	return lang
}

func joinResults(resp *speechpb.RecognizeResponse) domain.Transcription {
	var (
		parts []string
		sum   float32
	)
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if text := strings.TrimSpace(alts[0].GetTranscript()); text != "" {
			parts = append(parts, text)
			sum += alts[0].GetConfidence()
		}
	}
	if len(parts) == 0 {
		return domain.Transcription{}
	}
	return domain.Transcription{
		Text:       strings.Join(parts, " "),
		Confidence: float64(sum) / float64(len(parts)),
	}
}
