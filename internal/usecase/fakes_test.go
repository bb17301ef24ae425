package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"medinote/internal/domain"
	"medinote/internal/ports"
)

type fakeAudioCapture struct {
	mu       sync.Mutex
	sessions []ports.AudioSession
	err      error
	calls    int
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no audio session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

type fakeAudioSession struct {
	mu        sync.Mutex
	chunks    [][]byte
	index     int
	stopCalls int
	stopErr   error
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index >= len(f.chunks) {
		return 0, io.EOF
	}
	n := copy(p, f.chunks[f.index])
	f.index++
	return n, nil
}

func (f *fakeAudioSession) Close() error { return nil }

func (f *fakeAudioSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.stopErr
}

func (f *fakeAudioSession) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

// liveAudioSession blocks reads until Stop, like a real microphone.
type liveAudioSession struct {
	once    sync.Once
	stopped chan struct{}
	data    chan []byte
}

func newLiveAudioSession() *liveAudioSession {
	return &liveAudioSession{stopped: make(chan struct{}), data: make(chan []byte, 16)}
}

func (l *liveAudioSession) Read(p []byte) (int, error) {
	select {
	case chunk := <-l.data:
		return copy(p, chunk), nil
	case <-l.stopped:
		select {
		case chunk := <-l.data:
			return copy(p, chunk), nil
		default:
			return 0, io.EOF
		}
	}
}

func (l *liveAudioSession) Close() error { return nil }

func (l *liveAudioSession) Stop() error {
	l.once.Do(func() { close(l.stopped) })
	return nil
}

type fakeProvider struct {
	sessions []ports.StreamingSession
	err      error
	calls    int
}

func (f *fakeProvider) StartStreaming(_ context.Context, _ ports.StreamingConfig) (ports.StreamingSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no stream session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

type fakeStreamingSession struct {
	events     chan domain.TranscriptEvent
	waitErr    error
	closeSend  int
	closeCalls int
	closed     bool
	mu         sync.Mutex
}

func newFakeStreamingSession() *fakeStreamingSession {
	return &fakeStreamingSession{events: make(chan domain.TranscriptEvent, 16)}
}

func (f *fakeStreamingSession) SendAudio(_ []byte) error { return nil }

func (f *fakeStreamingSession) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeSend++
	if !f.closed {
		close(f.events)
		f.closed = true
	}
	return nil
}

func (f *fakeStreamingSession) Events() <-chan domain.TranscriptEvent { return f.events }

func (f *fakeStreamingSession) Wait() error {
	time.Sleep(5 * time.Millisecond)
	return f.waitErr
}

func (f *fakeStreamingSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if !f.closed {
		close(f.events)
		f.closed = true
	}
	return nil
}

type fakeNormalizer struct {
	transform func(string) string
	err       error
}

func (f *fakeNormalizer) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.transform != nil {
		return f.transform(text), nil
	}
	return text, nil
}

type fakeTranscriber struct {
	mu      sync.Mutex
	results map[int]domain.Transcription
	errs    map[int]error
	gate    chan struct{}
	calls   []int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, clip domain.AudioClip) (domain.Transcription, error) {
	f.mu.Lock()
	f.calls = append(f.calls, clip.Sequence)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.Transcription{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[clip.Sequence]; err != nil {
		return domain.Transcription{}, err
	}
	if result, ok := f.results[clip.Sequence]; ok {
		return result, nil
	}
	return domain.Transcription{Text: string(clip.Data)}, nil
}

type fakeDiagnosis struct {
	diagnoses []domain.Diagnosis
	err       error
	calls     int
	lastText  string
}

func (f *fakeDiagnosis) AnalyzeDiagnosis(_ context.Context, transcript string, _ domain.PatientInfo) ([]domain.Diagnosis, error) {
	f.calls++
	f.lastText = transcript
	if f.err != nil {
		return nil, f.err
	}
	return f.diagnoses, nil
}

type fakeCompliance struct {
	review *domain.ComplianceReview
	err    error
	hang   bool
	calls  chan struct{}
}

func (f *fakeCompliance) ReviewCompliance(ctx context.Context, _ []domain.ConsultationMessage, _ domain.PatientInfo) (*domain.ComplianceReview, error) {
	if f.calls != nil {
		f.calls <- struct{}{}
	}
	if f.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.review, nil
}

type fakeStore struct {
	mu        sync.Mutex
	records   map[string]*domain.ConsultationRecord
	createErr error
	updateErr error
	creates   int
	updates   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*domain.ConsultationRecord)}
}

func (f *fakeStore) CreateRecord(_ context.Context, ownerID string, patient domain.PatientInfo, conversation []domain.ConsultationMessage) (*domain.ConsultationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return nil, f.createErr
	}
	now := time.Now()
	record := &domain.ConsultationRecord{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		PatientName:  patient.Name,
		PatientAge:   patient.Age,
		Conversation: append([]domain.ConsultationMessage(nil), conversation...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.records[record.ID] = record
	copied := *record
	return &copied, nil
}

func (f *fakeStore) UpdateRecord(_ context.Context, id string, patch domain.RecordPatch) (*domain.ConsultationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	record, ok := f.records[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	if patch.Conversation != nil {
		record.Conversation = append([]domain.ConsultationMessage(nil), patch.Conversation...)
	}
	if patch.Diagnoses != nil {
		record.Diagnoses = patch.Diagnoses
	}
	if patch.ComplianceReview != nil {
		record.ComplianceReview = patch.ComplianceReview
	}
	record.UpdatedAt = time.Now()
	copied := *record
	return &copied, nil
}

func (f *fakeStore) ListRecords(_ context.Context, ownerID string) ([]domain.ConsultationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ConsultationRecord
	for _, record := range f.records {
		if record.OwnerID == ownerID {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (f *fakeStore) GetRecord(_ context.Context, id string) (*domain.ConsultationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[id]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (f *fakeStore) only() (domain.ConsultationRecord, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range f.records {
		return *record, len(f.records)
	}
	return domain.ConsultationRecord{}, 0
}

func (f *fakeStore) setCreateErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = err
}

type fakeEventSink struct {
	mu sync.Mutex

	stages     []stageEvent
	recorder   []domain.RecorderState
	messages   []domain.ConsultationMessage
	partials   []string
	diagnoses  [][]domain.Diagnosis
	compliance []string
	errors     []errEvent
}

type stageEvent struct {
	stage  domain.Stage
	reason domain.StageReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) StageChanged(stage domain.Stage, reason domain.StageReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stageEvent{stage: stage, reason: reason})
}

func (f *fakeEventSink) RecorderChanged(state domain.RecorderState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorder = append(f.recorder, state)
}

func (f *fakeEventSink) MessageAppended(message domain.ConsultationMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

func (f *fakeEventSink) PartialTranscript(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partials = append(f.partials, text)
}

func (f *fakeEventSink) DiagnosesReady(diagnoses []domain.Diagnosis) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diagnoses = append(f.diagnoses, diagnoses)
}

func (f *fakeEventSink) ComplianceReady(recordID string, _ *domain.ComplianceReview) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compliance = append(f.compliance, recordID)
}

func (f *fakeEventSink) Notify(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStages() []stageEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stageEvent, len(f.stages))
	copy(out, f.stages)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) snapshotPartials() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.partials...)
}

func (f *fakeEventSink) complianceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.compliance)
}

func (f *fakeEventSink) hasError(code domain.ErrorCode) bool {
	for _, e := range f.snapshotErrors() {
		if e.code == code {
			return true
		}
	}
	return false
}

// recordingSink collects what a Recorder hands to its sink.
type recordingSink struct {
	mu         sync.Mutex
	clips      []domain.AudioClip
	utterances []string
	partials   []string
	failures   []domain.ErrorCode
}

func (r *recordingSink) Clip(clip domain.AudioClip) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clips = append(r.clips, clip)
}

func (r *recordingSink) Utterance(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.utterances = append(r.utterances, text)
}

func (r *recordingSink) Partial(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partials = append(r.partials, text)
}

func (r *recordingSink) Failure(code domain.ErrorCode, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, code)
}

func (r *recordingSink) snapshot() ([]domain.AudioClip, []string, []domain.ErrorCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AudioClip(nil), r.clips...),
		append([]string(nil), r.utterances...),
		append([]domain.ErrorCode(nil), r.failures...)
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
