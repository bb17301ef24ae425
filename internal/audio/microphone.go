package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"medinote/internal/ports"
)

const (
	defaultStartupWait = 250 * time.Millisecond
	defaultStopTimeout = 1200 * time.Millisecond
	stderrTailLimit    = 2048
)

// Microphone records the consultation room through an ffmpeg subprocess that
// writes signed 16-bit little-endian PCM to stdout.
type Microphone struct {
	command     string
	startupWait time.Duration
	stopTimeout time.Duration
}

// NewMicrophone returns a capture backed by the given ffmpeg binary.
func NewMicrophone(command string) *Microphone {
	if strings.TrimSpace(command) == "" {
		command = "ffmpeg"
	}
	return &Microphone{
		command:     command,
		startupWait: defaultStartupWait,
		stopTimeout: defaultStopTimeout,
	}
}

func (m *Microphone) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = withCaptureDefaults(cfg)

	cmd := exec.CommandContext(ctx, m.command, captureArgs(cfg)...)
	stderr := &tailBuffer{limit: stderrTailLimit}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		close(exited)
	}()

	// ffmpeg fails fast on a missing device; give it a moment to do so.
	select {
	case err := <-exited:
		if err != nil {
			return nil, fmt.Errorf("microphone unavailable, ffmpeg exited before capture started: %w: %s", err, stderr.String())
		}
		return nil, errors.New("microphone unavailable, ffmpeg exited before capture started")
	case <-time.After(m.startupWait):
	}

	return &recording{
		stdout:      stdout,
		stderr:      stderr,
		process:     cmd.Process,
		exited:      exited,
		stopTimeout: m.stopTimeout,
	}, nil
}

func withCaptureDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

func captureArgs(cfg ports.AudioConfig) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

type recording struct {
	stdout      io.ReadCloser
	stderr      *tailBuffer
	process     *os.Process
	exited      <-chan error
	stopTimeout time.Duration

	once    sync.Once
	stopErr error
}

func (r *recording) Read(p []byte) (int, error) { return r.stdout.Read(p) }

func (r *recording) Close() error { return r.Stop() }

// Stop interrupts ffmpeg so it flushes, then kills it if it lingers.
func (r *recording) Stop() error {
	r.once.Do(func() {
		if r.process != nil {
			_ = r.process.Signal(os.Interrupt)
		}

		var waitErr error
		select {
		case waitErr = <-r.exited:
		case <-time.After(r.stopTimeout):
			if r.process != nil {
				_ = r.process.Kill()
			}
			waitErr = <-r.exited
		}
		r.stopErr = ignoreExitStatus(waitErr)

		if err := r.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && r.stopErr == nil {
			r.stopErr = err
		}
		if r.stopErr != nil {
			if tail := r.stderr.String(); tail != "" {
				r.stopErr = fmt.Errorf("%w: %s", r.stopErr, tail)
			}
		}
	})
	return r.stopErr
}

// ignoreExitStatus drops the non-zero status ffmpeg reports when interrupted.
func ignoreExitStatus(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; b.limit > 0 && over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(bytes.TrimSpace(b.buf))
}
