package usecase

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"medinote/internal/domain"
	"medinote/internal/ports"
)

const minTailDuration = 250 * time.Millisecond

func pumpAudioChunks(
	audio ports.AudioSession,
	stream ports.StreamingSession,
	chunkSize int,
	sink CaptureSink,
	done chan struct{},
) {
	defer close(done)

	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if sendErr := stream.SendAudio(buf[:n]); sendErr != nil {
				sink.Failure(domain.ErrorCodeAudioStream, fmt.Errorf("failed to stream audio: %w", sendErr))
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				sink.Failure(domain.ErrorCodeAudioStream, fmt.Errorf("audio capture error: %w", err))
			}
			return
		}
	}
}

// segmentAudio cuts captured PCM into fixed-length clips. The tail is flushed on EOF
// unless it is shorter than minTailDuration.
func segmentAudio(
	audio ports.AudioSession,
	format ports.AudioConfig,
	chunkSize int,
	segment time.Duration,
	sink CaptureSink,
	done chan struct{},
) {
	defer close(done)

	if chunkSize < 256 {
		chunkSize = 4096
	}
	segmentBytes := pcmBytes(format, segment)
	minTail := pcmBytes(format, minTailDuration)

	sequence := 0
	emit := func(pcm []byte) {
		clip := domain.AudioClip{
			Sequence:   sequence,
			Data:       append([]byte(nil), pcm...),
			MimeType:   domain.MimePCM,
			Filename:   fmt.Sprintf("segment-%03d.wav", sequence),
			SampleRate: format.SampleRate,
			Channels:   format.Channels,
		}
		sequence++
		sink.Clip(clip)
	}

	pending := make([]byte, 0, segmentBytes)
	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for len(pending) >= segmentBytes {
				emit(pending[:segmentBytes])
				pending = append(pending[:0], pending[segmentBytes:]...)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				sink.Failure(domain.ErrorCodeCapture, fmt.Errorf("audio capture error: %w", err))
			}
			if len(pending) >= minTail {
				emit(pending)
			}
			return
		}
	}
}

func consumeTranscriptionEvents(session ports.StreamingSession, sink CaptureSink, done chan struct{}) {
	defer close(done)

	// A partial that never received its final is still the last thing said.
	lastSpoken := ""
	for event := range session.Events() {
		text := strings.TrimSpace(event.Text)
		if text == "" {
			continue
		}
		if event.Kind == domain.TranscriptKindFinal {
			lastSpoken = ""
			sink.Utterance(text)
			continue
		}
		lastSpoken = text
		sink.Partial(text)
	}
	if lastSpoken != "" {
		sink.Utterance(lastSpoken)
	}
}

func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = session.Close()
		return <-done
	}
}

func pcmBytes(format ports.AudioConfig, d time.Duration) int {
	rate := format.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	channels := format.Channels
	if channels <= 0 {
		channels = 1
	}
	frames := int(d.Seconds() * float64(rate))
	if frames < 1 {
		frames = 1
	}
	return frames * channels * 2
}
