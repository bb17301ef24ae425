package clova

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"medinote/internal/domain"
)

func TestClientRequiresCredentials(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{ClientID: "id"})
	if _, err := c.Transcribe(context.Background(), domain.AudioClip{Data: []byte{1}}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}
	if c.cfg.URL != defaultURL {
		t.Fatalf("unexpected default url: %q", c.cfg.URL)
	}
}

func TestTranscribeSendsHeadersAndParsesText(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		gotID   string
		gotKey  string
		gotType string
		gotLang string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotID = r.Header.Get("X-NCP-APIGW-API-KEY-ID")
		gotKey = r.Header.Get("X-NCP-APIGW-API-KEY")
		gotType = r.Header.Get("Content-Type")
		gotLang = r.URL.Query().Get("lang")
		gotBody, _ = io.ReadAll(r.Body)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":" 배가 아파요 "}`)
	}))
	defer srv.Close()

	c := NewClient(Config{ClientID: "id", ClientSecret: "secret", URL: srv.URL, Language: "ko-KR"})
	got, err := c.Transcribe(context.Background(), domain.AudioClip{
		Data: []byte{0, 1, 2, 3}, MimeType: domain.MimePCM, SampleRate: 16000, Channels: 1,
	})
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if got.Text != "배가 아파요" || got.Confidence != defaultConfidence {
		t.Fatalf("unexpected transcription: %+v", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotID != "id" || gotKey != "secret" || gotType != "application/octet-stream" || gotLang != "Kor" {
		t.Fatalf("unexpected request: id=%q key=%q type=%q lang=%q", gotID, gotKey, gotType, gotLang)
	}
	if len(gotBody) != 44+4 || string(gotBody[:4]) != "RIFF" {
		t.Fatalf("expected wav wrapped body, got %d bytes", len(gotBody))
	}
}

func TestTranscribeEmptyTextAndErrors(t *testing.T) {
	t.Parallel()

	status := http.StatusOK
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		code := status
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = io.WriteString(w, `{"text":"  "}`)
	}))
	defer srv.Close()

	c := NewClient(Config{ClientID: "id", ClientSecret: "secret", URL: srv.URL})
	clip := domain.AudioClip{Data: []byte{1, 2}, MimeType: "audio/webm"}
	got, err := c.Transcribe(context.Background(), clip)
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if got.Text != "" || got.Confidence != 0 {
		t.Fatalf("expected empty transcription, got %+v", got)
	}

	mu.Lock()
	status = http.StatusUnauthorized
	mu.Unlock()
	if _, err := c.Transcribe(context.Background(), clip); err == nil {
		t.Fatalf("expected error on 401")
	}
}

func TestLanguageCode(t *testing.T) {
	t.Parallel()

	cases := map[string]string{"": "Kor", "ko": "Kor", "en-US": "Eng", "ja": "Jpn", "zh-CN": "Chn", "fr": "Kor"}
	for in, want := range cases {
		if got := languageCode(in); got != want {
			t.Fatalf("languageCode(%q) = %q, want %q", in, got, want)
		}
	}
}
