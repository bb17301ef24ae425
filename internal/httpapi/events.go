package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"medinote/internal/domain"
	"medinote/internal/logger"
	"medinote/internal/ports"
)

const (
	subscriberBuffer  = 32
	heartbeatInterval = 15 * time.Second
	defaultBusChannel = "medinote:events"
)

// Event is one workflow notification addressed to a clinician.
type Event struct {
	Owner string          `json:"owner"`
	Name  string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type subscriber struct {
	id       string
	outbound chan Event
}

// Broker fans workflow events out to every open event stream of a clinician.
// With a bus attached, events travel through Redis so that streams served by
// another instance receive them too.
type Broker struct {
	log *logger.Logger
	bus *RedisBus

	mu          sync.RWMutex
	subscribers map[string]map[*subscriber]struct{}
}

func NewBroker(log *logger.Logger) *Broker {
	if log == nil {
		log = logger.Nop()
	}
	return &Broker{
		log:         log.With("component", "event_broker"),
		subscribers: make(map[string]map[*subscriber]struct{}),
	}
}

// AttachBus routes publishing through bus and starts delivering what it
// forwards. It must be called before the server starts.
func (b *Broker) AttachBus(ctx context.Context, bus *RedisBus) error {
	if err := bus.Forward(ctx, b.deliver); err != nil {
		return err
	}
	b.bus = bus
	return nil
}

// Sink returns the ports.EventSink of one clinician's workflow.
func (b *Broker) Sink(ownerID string) ports.EventSink {
	return ownerSink{broker: b, owner: ownerID}
}

// Publish sends an event to the clinician's streams.
func (b *Broker) Publish(ownerID, name string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.log.Warn("event payload could not be encoded", "event", name, "error", err)
		return
	}
	event := Event{Owner: ownerID, Name: name, Data: raw}
	if b.bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := b.bus.Publish(ctx, event)
		cancel()
		if err == nil {
			return
		}
		b.log.Warn("event bus publish failed, delivering locally", "event", name, "error", err)
	}
	b.deliver(event)
}

func (b *Broker) deliver(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers[event.Owner] {
		select {
		case sub.outbound <- event:
		default:
			b.log.Warn("dropping event, subscriber buffer full", "subscriber", sub.id, "event", event.Name)
		}
	}
}

func (b *Broker) subscribe(ownerID string) *subscriber {
	sub := &subscriber{id: uuid.NewString(), outbound: make(chan Event, subscriberBuffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subscribers[ownerID]
	if !ok {
		subs = make(map[*subscriber]struct{})
		b.subscribers[ownerID] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

func (b *Broker) unsubscribe(ownerID string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subscribers[ownerID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subscribers, ownerID)
		}
	}
}

// Stream serves a text/event-stream for the clinician until the request ends.
// The first event is always a status snapshot.
func (b *Broker) Stream(w http.ResponseWriter, r *http.Request, ownerID string, initial domain.Status) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := b.subscribe(ownerID)
	defer b.unsubscribe(ownerID, sub)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	raw, err := json.Marshal(initial)
	if err == nil {
		writeEvent(w, domain.EventStatus, raw)
		flusher.Flush()
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event := <-sub.outbound:
			writeEvent(w, event.Name, event.Data)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, data json.RawMessage) {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

type ownerSink struct {
	broker *Broker
	owner  string
}

func (s ownerSink) StageChanged(stage domain.Stage, reason domain.StageReason) {
	s.broker.Publish(s.owner, domain.EventStage, domain.StagePayload{Stage: stage, Reason: reason})
}

func (s ownerSink) RecorderChanged(state domain.RecorderState) {
	s.broker.Publish(s.owner, domain.EventRecorder, state)
}

func (s ownerSink) MessageAppended(message domain.ConsultationMessage) {
	s.broker.Publish(s.owner, domain.EventMessage, message)
}

func (s ownerSink) PartialTranscript(text string) {
	s.broker.Publish(s.owner, domain.EventPartial, text)
}

func (s ownerSink) DiagnosesReady(diagnoses []domain.Diagnosis) {
	s.broker.Publish(s.owner, domain.EventDiagnoses, diagnoses)
}

func (s ownerSink) ComplianceReady(recordID string, review *domain.ComplianceReview) {
	s.broker.Publish(s.owner, domain.EventCompliance, domain.CompliancePayload{RecordID: recordID, Review: review})
}

func (s ownerSink) Notify(code domain.ErrorCode, detail string) {
	s.broker.Publish(s.owner, domain.EventError, domain.ErrorPayload{Code: code, Detail: detail})
}

// RedisBus carries events between server instances over Redis pub/sub.
type RedisBus struct {
	log     *logger.Logger
	rdb     *redis.Client
	channel string
}

func NewRedisBus(rdb *redis.Client, channel string, log *logger.Logger) *RedisBus {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = defaultBusChannel
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RedisBus{log: log.With("component", "redis_event_bus"), rdb: rdb, channel: channel}
}

func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// Forward subscribes to the channel and calls onEvent for every event until
// ctx is cancelled.
func (b *RedisBus) Forward(ctx context.Context, onEvent func(Event)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
					b.log.Warn("bad event payload on bus", "error", err)
					continue
				}
				onEvent(event)
			}
		}
	}()
	return nil
}
