package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"medinote/internal/domain"
	"medinote/internal/ports"
)

func TestNewClientDefaults(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{APIBaseURL: "https://api.deepgram.com/v1/"})
	if c.cfg.APIBaseURL != "https://api.deepgram.com/v1" {
		t.Fatalf("unexpected base url: %q", c.cfg.APIBaseURL)
	}
	if c.cfg.Model != "nova-2" || c.cfg.Timeout != time.Minute {
		t.Fatalf("unexpected defaults: %+v", c.cfg)
	}
}

func TestClientRequiresAPIKey(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{})
	if _, err := c.StartStreaming(context.Background(), ports.StreamingConfig{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}
	if _, err := c.Transcribe(context.Background(), domain.AudioClip{Data: []byte{1}}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestTranscribeWrapsPCMAndParsesResult(t *testing.T) {
	t.Parallel()

	var (
		mu          sync.Mutex
		gotAuth     string
		gotType     string
		gotLanguage string
		gotBody     []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotLanguage = r.URL.Query().Get("language")
		gotBody, _ = io.ReadAll(r.Body)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"results":{"channels":[{"alternatives":[{"transcript":" 두통이 있어요 ","confidence":0.93}]}]}}`)
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", APIBaseURL: srv.URL, Language: "ko"})
	got, err := c.Transcribe(context.Background(), domain.AudioClip{
		Data: []byte{0, 1, 2, 3}, MimeType: domain.MimePCM, SampleRate: 16000, Channels: 1,
	})
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if got.Text != "두통이 있어요" || got.Confidence != 0.93 {
		t.Fatalf("unexpected transcription: %+v", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotAuth != "Token k" || gotType != "audio/wav" || gotLanguage != "ko" {
		t.Fatalf("unexpected request: auth=%q type=%q lang=%q", gotAuth, gotType, gotLanguage)
	}
	if len(gotBody) != 48 || string(gotBody[:4]) != "RIFF" {
		t.Fatalf("expected wav body, got %d bytes", len(gotBody))
	}
}

func TestTranscribeReportsHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", APIBaseURL: srv.URL})
	_, err := c.Transcribe(context.Background(), domain.AudioClip{Data: []byte("x"), MimeType: "audio/webm"})
	if err == nil || !strings.Contains(err.Error(), "bad audio") {
		t.Fatalf("expected http error, got %v", err)
	}
}

func TestListenURLDefaults(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{Model: "nova-2"})
	u, err := c.listenURL(ports.StreamingConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"wss://api.deepgram.com/v1/listen", "encoding=linear16", "sample_rate=16000", "channels=1"} {
		if !strings.Contains(u, want) {
			t.Fatalf("expected %q in url: %s", want, u)
		}
	}
}

func TestListenURLWithLanguageAndSmartFormat(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{APIBaseURL: "http://localhost:8080/v1", Model: "m", Language: "en-US", SmartFormat: true})
	u, err := c.listenURL(ports.StreamingConfig{SampleRate: 8000, Channels: 2, InterimResults: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"ws://localhost:8080/v1/listen", "language=en-US", "smart_format=true", "interim_results=true"} {
		if !strings.Contains(u, want) {
			t.Fatalf("expected %q in url: %s", want, u)
		}
	}
}

func TestListenURLInvalidBase(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{APIBaseURL: ":// bad"})
	if _, err := c.listenURL(ports.StreamingConfig{}); err == nil {
		t.Fatalf("expected invalid base url error")
	}
}

func TestListenResponseBest(t *testing.T) {
	t.Parallel()

	var live listenResponse
	if err := json.Unmarshal([]byte(`{"channel":{"alternatives":[{"transcript":" channel ","confidence":0.5}]}}`), &live); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if text, conf := live.best(); text != "channel" || conf != 0.5 {
		t.Fatalf("unexpected live best: %q %v", text, conf)
	}

	if text, _ := (listenResponse{}).best(); text != "" {
		t.Fatalf("expected empty transcript, got %q", text)
	}
	if msg := (listenResponse{Description: "quota"}).errorMessage(); msg != "quota" {
		t.Fatalf("unexpected error message: %q", msg)
	}
}

func TestStreamingRoundTrip(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token k" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"머리가"}]}}`))
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"머리가 아파요"}]}}`))
				continue
			}
			if strings.Contains(string(payload), "CloseStream") {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", APIBaseURL: srv.URL})
	session, err := c.StartStreaming(context.Background(), ports.StreamingConfig{InterimResults: true})
	if err != nil {
		t.Fatalf("start streaming failed: %v", err)
	}
	if err := session.SendAudio([]byte{1, 2}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	var events []domain.TranscriptEvent
	for event := range session.Events() {
		events = append(events, event)
		if event.Kind == domain.TranscriptKindFinal {
			_ = session.CloseSend()
		}
	}
	if err := session.Wait(); err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if len(events) != 2 || events[0].Kind != domain.TranscriptKindPartial || events[1].Text != "머리가 아파요" || !events[1].IsSpeechFinal {
		t.Fatalf("unexpected events: %+v", events)
	}
	if err := session.SendAudio([]byte{3}); !errors.Is(err, errStreamClosed) {
		t.Fatalf("expected closed stream error, got %v", err)
	}
}

func TestStreamingErrorFrameFailsSession(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Error","description":"invalid model"}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", APIBaseURL: srv.URL})
	session, err := c.StartStreaming(context.Background(), ports.StreamingConfig{})
	if err != nil {
		t.Fatalf("start streaming failed: %v", err)
	}
	_ = session.CloseSend()

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()
	select {
	case err := <-done:
		if err == nil || err.Error() != "invalid model" {
			t.Fatalf("expected provider error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not finish")
	}
}

func TestLiveSessionFailKeepsFirstNonCloseError(t *testing.T) {
	t.Parallel()

	s := &liveSession{}
	s.fail(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "closed"})
	if s.failure() != nil {
		t.Fatalf("expected close error to be ignored")
	}
	s.fail(errors.New("first"))
	s.fail(errors.New("second"))
	if s.failure() == nil || s.failure().Error() != "first" {
		t.Fatalf("expected first error to win, got %v", s.failure())
	}
}
