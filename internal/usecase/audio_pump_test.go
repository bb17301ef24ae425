package usecase

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"medinote/internal/domain"
	"medinote/internal/ports"
)

func TestPumpAudioChunksReportsSendError(t *testing.T) {
	t.Parallel()

	audio := &fakeAudioSession{chunks: [][]byte{[]byte("abc")}}
	stream := &sendErrStream{err: errors.New("send failed")}
	sink := &recordingSink{}
	done := make(chan struct{})

	go pumpAudioChunks(audio, stream, 256, sink, done)
	<-done

	_, _, failures := sink.snapshot()
	if len(failures) == 0 || failures[0] != domain.ErrorCodeAudioStream {
		t.Fatalf("expected audio stream error")
	}
}

func TestPumpAudioChunksReportsReadError(t *testing.T) {
	t.Parallel()

	audio := &errorAudioSession{err: errors.New("read failed")}
	sink := &recordingSink{}
	done := make(chan struct{})

	go pumpAudioChunks(audio, &sendErrStream{}, 256, sink, done)
	<-done

	_, _, failures := sink.snapshot()
	if len(failures) == 0 || failures[0] != domain.ErrorCodeAudioStream {
		t.Fatalf("expected audio stream error")
	}
}

func TestSegmentAudioCutsFixedClipsAndFlushesTail(t *testing.T) {
	t.Parallel()

	format := ports.AudioConfig{SampleRate: 1000, Channels: 1}
	// One second of audio is 2000 bytes; feed 2.5 seconds in uneven reads.
	pcm := bytes.Repeat([]byte{1, 0}, 2500)
	audio := &fakeAudioSession{chunks: [][]byte{pcm[:1500], pcm[1500:3100], pcm[3100:]}}
	sink := &recordingSink{}
	done := make(chan struct{})

	go segmentAudio(audio, format, 4096, time.Second, sink, done)
	<-done

	clips, _, failures := sink.snapshot()
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	if len(clips) != 3 {
		t.Fatalf("expected 3 clips, got %d", len(clips))
	}
	if len(clips[0].Data) != 2000 || len(clips[1].Data) != 2000 || len(clips[2].Data) != 1000 {
		t.Fatalf("unexpected clip sizes: %d %d %d", len(clips[0].Data), len(clips[1].Data), len(clips[2].Data))
	}
	for i, clip := range clips {
		if clip.Sequence != i || clip.MimeType != domain.MimePCM || clip.SampleRate != 1000 {
			t.Fatalf("unexpected clip %d: %+v", i, clip)
		}
	}
}

func TestSegmentAudioDropsTinyTail(t *testing.T) {
	t.Parallel()

	format := ports.AudioConfig{SampleRate: 1000, Channels: 1}
	audio := &fakeAudioSession{chunks: [][]byte{make([]byte, 100)}}
	sink := &recordingSink{}
	done := make(chan struct{})

	go segmentAudio(audio, format, 4096, time.Second, sink, done)
	<-done

	if clips, _, _ := sink.snapshot(); len(clips) != 0 {
		t.Fatalf("expected tiny tail to be dropped, got %d clips", len(clips))
	}
}

func TestConsumeTranscriptionEventsPromotesTrailingPartial(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession()
	stream.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "열이"}
	stream.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "열이 나요"}
	stream.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "  "}
	stream.events <- domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "기침도"}
	_ = stream.CloseSend()

	sink := &recordingSink{}
	done := make(chan struct{})
	consumeTranscriptionEvents(stream, sink, done)

	_, utterances, _ := sink.snapshot()
	if len(utterances) != 2 || utterances[0] != "열이 나요" || utterances[1] != "기침도" {
		t.Fatalf("unexpected utterances: %v", utterances)
	}
	if len(sink.partials) != 2 {
		t.Fatalf("unexpected partials: %v", sink.partials)
	}
}

func TestWaitForStreamTimeoutClosesSession(t *testing.T) {
	t.Parallel()

	stream := &blockingWaitStream{done: make(chan struct{}), waitErr: errors.New("closed")}
	err := waitForStream(stream, 10*time.Millisecond)
	if err == nil || err.Error() != "closed" {
		t.Fatalf("expected closed error, got %v", err)
	}
	if stream.closeCalls == 0 {
		t.Fatalf("expected close to be called on timeout")
	}
}

type sendErrStream struct {
	err error
}

func (s *sendErrStream) SendAudio(_ []byte) error { return s.err }
func (s *sendErrStream) CloseSend() error         { return nil }
func (s *sendErrStream) Events() <-chan domain.TranscriptEvent {
	ch := make(chan domain.TranscriptEvent)
	close(ch)
	return ch
}
func (s *sendErrStream) Wait() error  { return nil }
func (s *sendErrStream) Close() error { return nil }

type errorAudioSession struct {
	err error
}

func (s *errorAudioSession) Read(_ []byte) (int, error) { return 0, s.err }
func (s *errorAudioSession) Close() error               { return nil }
func (s *errorAudioSession) Stop() error                { return nil }

type blockingWaitStream struct {
	done       chan struct{}
	waitErr    error
	closeCalls int
}

func (s *blockingWaitStream) SendAudio(_ []byte) error { return nil }
func (s *blockingWaitStream) CloseSend() error         { return nil }
func (s *blockingWaitStream) Events() <-chan domain.TranscriptEvent {
	ch := make(chan domain.TranscriptEvent)
	close(ch)
	return ch
}
func (s *blockingWaitStream) Wait() error {
	<-s.done
	return s.waitErr
}
func (s *blockingWaitStream) Close() error {
	s.closeCalls++
	close(s.done)
	return nil
}

var _ io.ReadCloser = (*errorAudioSession)(nil)
