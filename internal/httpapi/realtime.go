package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"medinote/internal/logger"
)

const (
	closeNotConfigured  = 4000
	closeUpstreamError  = 4001
	closeConnectFailure = 4002

	realtimeDialAttempts = 3
	closeWriteTimeout    = time.Second
)

const realtimeInstructions = "당신은 한국어로 대화하는 의료 진료 보조 AI입니다. 환자의 증상을 듣고 간단히 응답해주세요. " +
	"친근하고 전문적으로 대화하되, 진단은 하지 말고 증상 청취에 집중해주세요."

// RealtimeConfig points the relay at the upstream realtime speech API.
type RealtimeConfig struct {
	APIKey  string
	URL     string
	Model   string
	Backoff time.Duration
}

// RealtimeRelay bridges a browser websocket to the realtime speech API so the
// API key never reaches the browser.
type RealtimeRelay struct {
	log      *logger.Logger
	cfg      RealtimeConfig
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
}

func NewRealtimeRelay(log *logger.Logger, cfg RealtimeConfig) *RealtimeRelay {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	return &RealtimeRelay{
		log: log.With("handler", "realtime_relay"),
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Subprotocols: []string{
				"realtime",
				"openai-insecure-api-key." + cfg.APIKey,
				"openai-beta.realtime=v1",
			},
		},
	}
}

func (h *RealtimeRelay) Serve(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		respondError(c, http.StatusBadRequest, "websocket_required", errors.New("expected websocket connection"))
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := &relayConn{conn: conn}
	defer conn.Close()

	if strings.TrimSpace(h.cfg.APIKey) == "" {
		client.closeWith(closeNotConfigured, "Server configuration error")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &relay{log: h.log, client: client}
	go r.connect(ctx, h)
	r.pumpClient()
	cancel()
	r.closeUpstream()
}

func (h *RealtimeRelay) upstreamURL() (string, error) {
	u, err := url.Parse(h.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	if h.cfg.Model != "" {
		q := u.Query()
		q.Set("model", h.cfg.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// dial tries the upstream a bounded number of times.
func (h *RealtimeRelay) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := h.upstreamURL()
	if err != nil {
		return nil, err
	}
	var lastErr error
	for attempt := 1; attempt <= realtimeDialAttempts; attempt++ {
		conn, _, err := h.dialer.DialContext(ctx, target, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		h.log.Warn("realtime upstream dial failed", "attempt", attempt, "error", err)
		if attempt == realtimeDialAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * h.cfg.Backoff):
		}
	}
	return nil, lastErr
}

// relayConn serializes writes; gorilla connections allow one concurrent writer.
type relayConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *relayConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

func (c *relayConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *relayConn) closeWith(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
}

type relay struct {
	log    *logger.Logger
	client *relayConn

	mu       sync.Mutex
	upstream *relayConn
	closed   bool
}

func (r *relay) connect(ctx context.Context, h *RealtimeRelay) {
	conn, err := h.dial(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.client.closeWith(closeConnectFailure, "Failed to connect to OpenAI")
			_ = r.client.conn.Close()
		}
		return
	}
	upstream := &relayConn{conn: conn}

	// Client frames wait on r.mu, so none can overtake the session update.
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.Close()
		return
	}
	if err := upstream.writeJSON(sessionUpdate()); err != nil {
		r.log.Warn("realtime session update failed", "error", err)
	}
	r.upstream = upstream
	r.mu.Unlock()

	r.pumpUpstream(upstream)
}

// pumpUpstream forwards upstream frames to the browser until either side
// closes, then mirrors the upstream close onto the browser.
func (r *relay) pumpUpstream(upstream *relayConn) {
	for {
		messageType, data, err := upstream.conn.ReadMessage()
		if err != nil {
			code, reason := closeUpstreamError, "OpenAI connection error"
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code != websocket.CloseNoStatusReceived && ce.Code != websocket.CloseAbnormalClosure {
				code, reason = ce.Code, ce.Text
			}
			r.mu.Lock()
			closed := r.closed
			r.mu.Unlock()
			if !closed {
				r.client.closeWith(code, reason)
				_ = r.client.conn.Close()
			}
			return
		}
		if err := r.client.write(messageType, data); err != nil {
			return
		}
	}
}

// pumpClient forwards browser frames upstream, dropping them until the
// upstream session is connected.
func (r *relay) pumpClient() {
	for {
		messageType, data, err := r.client.conn.ReadMessage()
		if err != nil {
			return
		}
		r.mu.Lock()
		upstream := r.upstream
		r.mu.Unlock()
		if upstream == nil {
			r.log.Debug("realtime upstream not ready, dropping client frame")
			continue
		}
		if err := upstream.write(messageType, data); err != nil {
			r.log.Warn("forward to realtime upstream failed", "error", err)
		}
	}
}

func (r *relay) closeUpstream() {
	r.mu.Lock()
	r.closed = true
	upstream := r.upstream
	r.mu.Unlock()
	if upstream != nil {
		_ = upstream.conn.Close()
	}
}

func sessionUpdate() map[string]any {
	return map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":                 []string{"text", "audio"},
			"instructions":               realtimeInstructions,
			"voice":                      "alloy",
			"input_audio_format":         "pcm16",
			"output_audio_format":        "pcm16",
			"input_audio_transcription":  map[string]any{"model": "whisper-1"},
			"temperature":                0.7,
			"max_response_output_tokens": 500,
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           0.5,
				"prefix_padding_ms":   300,
				"silence_duration_ms": 1000,
			},
		},
	}
}
