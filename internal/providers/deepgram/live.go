package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"medinote/internal/domain"
	"medinote/internal/ports"
)

// keepAliveEvery stays under Deepgram's 10s idle cutoff while the clinician is silent.
const keepAliveEvery = 8 * time.Second

var errStreamClosed = errors.New("audio stream is already closed")

// StartStreaming opens a live transcription socket.
func (c *Client) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	wsURL, err := c.listenURL(cfg)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+c.cfg.APIKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("connect to Deepgram websocket: %w", err)
	}

	s := newLiveSession(conn)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

type liveSession struct {
	conn   *websocket.Conn
	events chan domain.TranscriptEvent
	audio  chan []byte
	done   chan struct{}

	errMu sync.Mutex
	err   error

	sendMu     sync.Mutex
	sendClosed bool
	closeOnce  sync.Once
}

func newLiveSession(conn *websocket.Conn) *liveSession {
	s := &liveSession{
		conn:   conn,
		events: make(chan domain.TranscriptEvent, 64),
		audio:  make(chan []byte, 32),
		done:   make(chan struct{}),
	}

	var loops sync.WaitGroup
	loops.Add(2)
	go func() { defer loops.Done(); s.receive() }()
	go func() { defer loops.Done(); s.transmit(keepAliveEvery) }()
	go func() {
		loops.Wait()
		close(s.events)
		close(s.done)
		_ = conn.Close()
	}()
	return s
}

func (s *liveSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.sendClosed {
		return errStreamClosed
	}

	select {
	case s.audio <- append([]byte(nil), chunk...):
		return nil
	case <-s.done:
		if err := s.failure(); err != nil {
			return err
		}
		return errors.New("deepgram session closed")
	}
}

// CloseSend tells Deepgram no more audio follows; final results keep arriving until it hangs up.
func (s *liveSession) CloseSend() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.sendClosed {
		s.sendClosed = true
		close(s.audio)
	}
	return nil
}

func (s *liveSession) Events() <-chan domain.TranscriptEvent { return s.events }

func (s *liveSession) Wait() error {
	<-s.done
	return s.failure()
}

func (s *liveSession) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
		_ = s.CloseSend()
	})
	<-s.done
	return s.failure()
}

func (s *liveSession) failure() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *liveSession) fail(err error) {
	if err == nil || websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *liveSession) transmit(keepAlive time.Duration) {
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
					s.fail(fmt.Errorf("close deepgram stream: %w", err))
				}
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.fail(fmt.Errorf("send audio: %w", err))
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`)); err != nil {
				s.fail(fmt.Errorf("send keepalive: %w", err))
				return
			}
		}
	}
}

func (s *liveSession) receive() {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(fmt.Errorf("read deepgram event: %w", err))
			return
		}

		var frame listenResponse
		if json.Unmarshal(payload, &frame) != nil {
			continue
		}
		if strings.EqualFold(frame.Type, "Error") {
			s.fail(errors.New(frame.errorMessage()))
			return
		}

		text, _ := frame.best()
		if text == "" {
			continue
		}
		kind := domain.TranscriptKindPartial
		if frame.IsFinal || frame.SpeechFinal {
			kind = domain.TranscriptKindFinal
		}
		s.publish(domain.TranscriptEvent{Kind: kind, Text: text, IsSpeechFinal: frame.SpeechFinal})
	}
}

func (s *liveSession) publish(event domain.TranscriptEvent) {
	select {
	case s.events <- event:
	default:
	}
}
