package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"medinote/internal/domain"
	"medinote/internal/ports"
)

// RecorderConfig controls local microphone capture.
type RecorderConfig struct {
	Audio           ports.AudioConfig
	Streaming       ports.StreamingConfig
	ChunkSize       int
	SegmentDuration time.Duration
	StreamingGrace  time.Duration
}

// Recorder captures the microphone through an AudioCapture and either cuts the PCM
// into clips for batch transcription or streams it to a live provider.
type Recorder struct {
	audio     ports.AudioCapture
	streaming ports.StreamingProvider
	cfg       RecorderConfig

	mu      sync.Mutex
	current *activeCapture
}

// NewRecorder builds a batch recorder when streaming is nil.
func NewRecorder(audio ports.AudioCapture, streaming ports.StreamingProvider, cfg RecorderConfig) *Recorder {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.SegmentDuration <= 0 {
		cfg.SegmentDuration = 10 * time.Second
	}
	return &Recorder{audio: audio, streaming: streaming, cfg: cfg}
}

// Start acquires the microphone. A capture that is still running is stopped first.
func (r *Recorder) Start(ctx context.Context, sink CaptureSink) error {
	var previous *activeCapture

	r.mu.Lock()
	if r.current != nil {
		previous = r.current
		r.current = nil
	}
	r.mu.Unlock()

	if previous != nil {
		r.teardown(previous)
	}

	captureCtx, cancel := context.WithCancel(ctx)
	active := &activeCapture{
		cancel:     cancel,
		sink:       sink,
		eventsDone: make(chan struct{}),
		audioDone:  make(chan struct{}),
	}

	if r.streaming != nil {
		stream, err := r.streaming.StartStreaming(captureCtx, r.cfg.Streaming)
		if err != nil {
			cancel()
			return fmt.Errorf("start streaming transcription: %w", err)
		}
		active.stream = stream
	}

	audioSession, err := r.audio.Start(captureCtx, r.cfg.Audio)
	if err != nil {
		if active.stream != nil {
			_ = active.stream.Close()
		}
		cancel()
		return fmt.Errorf("start audio capture: %w", err)
	}
	active.audio = audioSession

	r.mu.Lock()
	r.current = active
	r.mu.Unlock()

	if active.stream != nil {
		go consumeTranscriptionEvents(active.stream, sink, active.eventsDone)
		go pumpAudioChunks(active.audio, active.stream, r.cfg.ChunkSize, sink, active.audioDone)
	} else {
		close(active.eventsDone)
		go segmentAudio(active.audio, r.cfg.Audio, r.cfg.ChunkSize, r.cfg.SegmentDuration, sink, active.audioDone)
	}
	return nil
}

// Stop releases the microphone and returns once every clip or final transcript
// produced by the capture has been handed to the sink.
func (r *Recorder) Stop(ctx context.Context) error {
	active, err := r.take()
	if err != nil {
		return err
	}
	defer active.cancel()

	if err := active.audio.Stop(); err != nil {
		active.sink.Failure(domain.ErrorCodeCapture, fmt.Errorf("failed to stop audio capture cleanly: %w", err))
	}

	if active.stream == nil {
		<-active.audioDone
		return nil
	}

	if r.cfg.StreamingGrace > 0 {
		timer := time.NewTimer(r.cfg.StreamingGrace)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	_ = active.stream.CloseSend()
	streamErr := waitForStream(active.stream, 4*time.Second)
	<-active.eventsDone
	<-active.audioDone
	if streamErr != nil {
		active.sink.Failure(domain.ErrorCodeTranscription, streamErr)
	}
	return nil
}

// Active reports whether a capture is running.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

func (r *Recorder) take() (*activeCapture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil, ErrNoActiveSession
	}
	active := r.current
	r.current = nil
	return active, nil
}

func (r *Recorder) teardown(active *activeCapture) {
	active.cancel()
	_ = active.audio.Stop()
	if active.stream != nil {
		_ = active.stream.Close()
	}
	<-active.eventsDone
	<-active.audioDone
}
