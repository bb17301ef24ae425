package usecase

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"medinote/internal/domain"
	"medinote/internal/ports"
)

var (
	ErrEmptyUtterance = errors.New("utterance is empty")
	ErrInvalidSpeaker = errors.New("speaker must be doctor or patient")
)

// Accumulator is the ordered, append-only utterance log of one consultation.
type Accumulator struct {
	normalizer ports.TextNormalizer
	now        func() time.Time

	mu       sync.Mutex
	messages []domain.ConsultationMessage
}

func NewAccumulator(normalizer ports.TextNormalizer) *Accumulator {
	return &Accumulator{normalizer: normalizer, now: time.Now}
}

// Append stamps text with a fresh id and the current time and adds it to the end of the log.
func (a *Accumulator) Append(text string, speaker domain.Speaker) (domain.ConsultationMessage, error) {
	if !speaker.Valid() {
		return domain.ConsultationMessage{}, ErrInvalidSpeaker
	}
	text = strings.TrimSpace(text)
	if text != "" && a.normalizer != nil {
		if normalized, err := a.normalizer.Apply(text); err == nil {
			text = strings.TrimSpace(normalized)
		}
	}
	if text == "" {
		return domain.ConsultationMessage{}, ErrEmptyUtterance
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	message := domain.ConsultationMessage{
		ID:        uuid.NewString(),
		Content:   text,
		Timestamp: a.now(),
		Speaker:   speaker,
	}
	a.messages = append(a.messages, message)
	return message, nil
}

// Snapshot returns a copy of the log.
func (a *Accumulator) Snapshot() []domain.ConsultationMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.ConsultationMessage, len(a.messages))
	copy(out, a.messages)
	return out
}

func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.messages)
}
