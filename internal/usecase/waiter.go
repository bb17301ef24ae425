package usecase

import (
	"errors"
	"sync"
	"time"

	"medinote/internal/domain"
)

const DefaultEndGrace = 3 * time.Second

var ErrSessionFinalized = errors.New("recording session already finalized")

// CompletionWaiter decides when an ended recording is safe to finalize while
// transcriptions may still be arriving.
//
// Activity means capture is running or at least one transcription is in flight.
// Once an end is requested the waiter finalizes on the first new message, or
// after the grace period has passed with no activity and no new message.
type CompletionWaiter struct {
	grace      time.Duration
	onFinalize func(messageCount int)
	onState    func(domain.RecorderState)

	mu             sync.Mutex
	state          domain.RecorderState
	capturing      bool
	inFlight       int
	countAtRequest int
	lastCount      int
	timer          *time.Timer
	timerSeq       uint64
}

func NewCompletionWaiter(grace time.Duration, onFinalize func(messageCount int), onState func(domain.RecorderState)) *CompletionWaiter {
	if grace <= 0 {
		grace = DefaultEndGrace
	}
	return &CompletionWaiter{
		grace:      grace,
		onFinalize: onFinalize,
		onState:    onState,
		state:      domain.RecorderIdle,
	}
}

func (w *CompletionWaiter) State() domain.RecorderState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *CompletionWaiter) Active() (capturing bool, inFlight int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.capturing, w.inFlight
}

// CaptureStarted records that the microphone was acquired.
func (w *CompletionWaiter) CaptureStarted() error {
	w.mu.Lock()
	switch w.state {
	case domain.RecorderAwaitingDrain, domain.RecorderFinalized:
		w.mu.Unlock()
		return ErrSessionFinalized
	}
	changed := w.state != domain.RecorderRecording
	w.state = domain.RecorderRecording
	w.capturing = true
	w.mu.Unlock()

	if changed {
		w.emitState(domain.RecorderRecording)
	}
	return nil
}

func (w *CompletionWaiter) CaptureStopped() {
	w.mu.Lock()
	w.capturing = false
	w.armIfIdleLocked()
	w.mu.Unlock()
}

func (w *CompletionWaiter) TranscriptionStarted() {
	w.mu.Lock()
	w.inFlight++
	w.cancelTimerLocked()
	w.mu.Unlock()
}

func (w *CompletionWaiter) TranscriptionFinished() {
	w.mu.Lock()
	if w.inFlight > 0 {
		w.inFlight--
	}
	w.armIfIdleLocked()
	w.mu.Unlock()
}

// MessageAppended reports the accumulator length after an append.
func (w *CompletionWaiter) MessageAppended(count int) {
	w.mu.Lock()
	w.lastCount = count
	if w.state != domain.RecorderAwaitingDrain || count <= w.countAtRequest {
		w.mu.Unlock()
		return
	}
	w.finalizeLocked(count)
}

// RequestEnd asks for finalization. length reports the accumulator length and
// is read under the waiter lock. It reports whether finalization happened
// synchronously.
func (w *CompletionWaiter) RequestEnd(length func() int) (bool, error) {
	w.mu.Lock()
	switch w.state {
	case domain.RecorderIdle:
		w.mu.Unlock()
		return false, ErrNoActiveSession
	case domain.RecorderAwaitingDrain, domain.RecorderFinalized:
		w.mu.Unlock()
		return false, nil
	}

	count := length()
	w.countAtRequest = count
	w.lastCount = count
	if !w.capturing && w.inFlight == 0 {
		w.finalizeLocked(count)
		return true, nil
	}

	w.state = domain.RecorderAwaitingDrain
	w.mu.Unlock()
	w.emitState(domain.RecorderAwaitingDrain)
	return false, nil
}

// Reset returns the waiter to Idle and discards any pending timer.
func (w *CompletionWaiter) Reset() {
	w.mu.Lock()
	w.cancelTimerLocked()
	w.state = domain.RecorderIdle
	w.capturing = false
	w.inFlight = 0
	w.countAtRequest = 0
	w.lastCount = 0
	w.mu.Unlock()
}

func (w *CompletionWaiter) armIfIdleLocked() {
	if w.state != domain.RecorderAwaitingDrain || w.capturing || w.inFlight > 0 {
		return
	}
	w.cancelTimerLocked()
	w.timerSeq++
	seq := w.timerSeq
	w.timer = time.AfterFunc(w.grace, func() { w.graceElapsed(seq) })
}

func (w *CompletionWaiter) cancelTimerLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.timerSeq++
}

func (w *CompletionWaiter) graceElapsed(seq uint64) {
	w.mu.Lock()
	if seq != w.timerSeq || w.state != domain.RecorderAwaitingDrain || w.capturing || w.inFlight > 0 {
		w.mu.Unlock()
		return
	}
	w.finalizeLocked(w.lastCount)
}

// finalizeLocked must be called with mu held; it releases mu before running callbacks.
func (w *CompletionWaiter) finalizeLocked(count int) {
	w.cancelTimerLocked()
	w.state = domain.RecorderFinalized
	w.mu.Unlock()

	w.emitState(domain.RecorderFinalized)
	if w.onFinalize != nil {
		w.onFinalize(count)
	}
}

func (w *CompletionWaiter) emitState(state domain.RecorderState) {
	if w.onState != nil {
		w.onState(state)
	}
}
