package usecase

import (
	"context"

	"medinote/internal/domain"
	"medinote/internal/ports"
)

// CaptureSink receives what a local capture produces for one consultation.
type CaptureSink interface {
	Clip(clip domain.AudioClip)
	Utterance(text string)
	Partial(text string)
	Failure(code domain.ErrorCode, err error)
}

// LocalCapture drives the microphone on the machine running the workflow.
type LocalCapture interface {
	Start(ctx context.Context, sink CaptureSink) error
	Stop(ctx context.Context) error
}

type activeCapture struct {
	cancel func()
	audio  ports.AudioSession
	stream ports.StreamingSession
	sink   CaptureSink

	eventsDone chan struct{}
	audioDone  chan struct{}
}
