package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"medinote/internal/domain"
)

type capturedRequest struct {
	Path        string
	Auth        string
	ContentType string
	Body        []byte
}

type fakeOpenAI struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	reply    string
}

func newFakeOpenAI(t *testing.T, status int, reply string) (*fakeOpenAI, *httptest.Server) {
	t.Helper()
	f := &fakeOpenAI{status: status, reply: reply}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, capturedRequest{
			Path: r.URL.Path, Auth: r.Header.Get("Authorization"), ContentType: r.Header.Get("Content-Type"), Body: body,
		})
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = io.WriteString(w, f.reply)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeOpenAI) last() capturedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func chatReply(content string) string {
	payload, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]string{"role": "assistant", "content": content}}},
	})
	return string(payload)
}

func newTestClient(baseURL string) *Client {
	c := NewClient(Config{APIKey: "sk-test", BaseURL: baseURL, Language: "ko"}, nil)
	c.now = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }
	return c
}

var testPatient = domain.PatientInfo{Name: "Kim", Age: "34", Consent: true}

func TestTranscribeSendsWAVMultipart(t *testing.T) {
	t.Parallel()

	fake, srv := newFakeOpenAI(t, http.StatusOK, `{"text":" 기침이 나요 "}`)
	c := newTestClient(srv.URL)

	got, err := c.Transcribe(context.Background(), domain.AudioClip{
		Data: []byte{1, 2, 3, 4}, MimeType: domain.MimePCM, Filename: "segment-001.wav", SampleRate: 16000, Channels: 1,
	})
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if got.Text != "기침이 나요" || got.Confidence != 0.9 {
		t.Fatalf("unexpected transcription: %+v", got)
	}

	req := fake.last()
	if req.Path != "/audio/transcriptions" || req.Auth != "Bearer sk-test" {
		t.Fatalf("unexpected request: %s %s", req.Path, req.Auth)
	}
	if !strings.HasPrefix(req.ContentType, "multipart/form-data") {
		t.Fatalf("unexpected content type: %s", req.ContentType)
	}
	body := string(req.Body)
	for _, want := range []string{`filename="segment-001.wav"`, "RIFF", "whisper-1", `name="language"`, "ko"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in multipart body", want)
		}
	}
}

func TestTranscribeEmptyTextIsNotAnError(t *testing.T) {
	t.Parallel()

	_, srv := newFakeOpenAI(t, http.StatusOK, `{"text":"  "}`)
	got, err := newTestClient(srv.URL).Transcribe(context.Background(), domain.AudioClip{Data: []byte("x"), MimeType: "audio/webm"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "" || got.Confidence != 0 {
		t.Fatalf("expected empty transcription, got %+v", got)
	}
}

func TestTranscribeSurfacesAPIError(t *testing.T) {
	t.Parallel()

	_, srv := newFakeOpenAI(t, http.StatusBadRequest, `{"error":{"message":"Invalid file format."}}`)
	_, err := newTestClient(srv.URL).Transcribe(context.Background(), domain.AudioClip{Data: []byte("x"), MimeType: "audio/webm"})
	if err == nil || !strings.Contains(err.Error(), "Invalid file format.") || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestMissingAPIKeyFailsFast(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{}, nil)
	if _, err := c.Transcribe(context.Background(), domain.AudioClip{Data: []byte("x")}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected missing key, got %v", err)
	}
	if _, err := c.AnalyzeDiagnosis(context.Background(), "headache", testPatient); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected missing key, got %v", err)
	}
	if _, err := c.Chat(context.Background(), "hello"); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected missing key, got %v", err)
	}
}

func TestAnalyzeDiagnosisRanksAndCaps(t *testing.T) {
	t.Parallel()

	reply := "```json\n" + `{"diagnoses":[
		{"disease":"긴장성 두통","probability":40,"symptoms":["두통"],"recommendation":"휴식"},
		{"disease":"편두통","probability":72.6,"symptoms":["두통","구역"],"recommendation":"진통제"},
		{"disease":"부비동염","probability":130,"recommendation":"이비인후과"},
		{"disease":"뇌수막염","probability":5,"symptoms":["발열"],"recommendation":"응급실"}
	]}` + "\n```"
	fake, srv := newFakeOpenAI(t, http.StatusOK, chatReply(reply))

	got, err := newTestClient(srv.URL).AnalyzeDiagnosis(context.Background(), "머리가 아파요", testPatient)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 diagnoses, got %d", len(got))
	}
	if got[0].Disease != "부비동염" || got[0].Probability != 100 || got[0].Symptoms == nil {
		t.Fatalf("unexpected first diagnosis: %+v", got[0])
	}
	if got[1].Probability != 73 || got[2].Disease != "긴장성 두통" {
		t.Fatalf("unexpected ordering: %+v", got)
	}

	var sent chatRequest
	if err := json.Unmarshal(fake.last().Body, &sent); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if sent.Model != "gpt-4.1" || sent.ResponseFormat == nil || sent.ResponseFormat.Type != "json_object" {
		t.Fatalf("unexpected request: %+v", sent)
	}
	if !strings.Contains(sent.Messages[1].Content, "머리가 아파요") || !strings.Contains(sent.Messages[1].Content, "age 34") {
		t.Fatalf("prompt missing transcript or patient: %q", sent.Messages[1].Content)
	}
}

func TestAnalyzeDiagnosisUnparsableReplyFallsBack(t *testing.T) {
	t.Parallel()

	_, srv := newFakeOpenAI(t, http.StatusOK, chatReply("I cannot determine a diagnosis."))
	got, err := newTestClient(srv.URL).AnalyzeDiagnosis(context.Background(), "...", testPatient)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if len(got) != 1 || got[0].Disease != UnparsedDiagnosisName || got[0].Probability != 80 {
		t.Fatalf("unexpected fallback: %+v", got)
	}
}

func TestAnalyzeDiagnosisRejectsEmptyTranscript(t *testing.T) {
	t.Parallel()

	if _, err := newTestClient("http://unused").AnalyzeDiagnosis(context.Background(), "  ", testPatient); err == nil {
		t.Fatalf("expected error for empty transcript")
	}
}

func TestReviewComplianceParsesAndAttachesMetadata(t *testing.T) {
	t.Parallel()

	reply := "Here is the review:\n```json\n" + `{
		"medicalActs":[{"act":"문진","relatedArticles":["의료법 제22조"]}],
		"compliance":{"status":"warning","details":"처방 근거 기록 필요","relatedArticles":["의료법 제22조 제1항"]},
		"risks":[{"risk":"설명 의무","relatedArticles":["의료법 제24조의2"]}],
		"recommendations":[],
		"recordingNotes":[{"note":"증상 발생 시점 기록"}]
	}` + "\n```\nLet me know."
	_, srv := newFakeOpenAI(t, http.StatusOK, chatReply(reply))

	messages := []domain.ConsultationMessage{{ID: "1", Content: "어디가 불편하세요?"}, {ID: "2", Content: "배가 아파요"}}
	review, err := newTestClient(srv.URL).ReviewCompliance(context.Background(), messages, testPatient)
	if err != nil {
		t.Fatalf("review failed: %v", err)
	}
	if review.ParseError != "" || review.RawAnalysis != "" {
		t.Fatalf("unexpected parse failure: %+v", review)
	}
	if review.Compliance == nil || review.Compliance.Status != domain.ComplianceWarning {
		t.Fatalf("unexpected compliance: %+v", review.Compliance)
	}
	if len(review.MedicalActs) != 1 || len(review.Risks) != 1 || len(review.RecordingNotes) != 1 {
		t.Fatalf("unexpected sections: %+v", review)
	}
	if review.PatientInfo.Name != "Kim" || review.PatientInfo.Age != "34" {
		t.Fatalf("unexpected patient metadata: %+v", review.PatientInfo)
	}
	if review.Summary.MessageCount != 2 || review.Summary.TextLength != len([]rune("어디가 불편하세요?\n배가 아파요")) {
		t.Fatalf("unexpected summary: %+v", review.Summary)
	}
	if !review.ReviewDate.Equal(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected review date: %s", review.ReviewDate)
	}
}

func TestReviewComplianceKeepsRawAnalysisOnParseFailure(t *testing.T) {
	t.Parallel()

	_, srv := newFakeOpenAI(t, http.StatusOK, chatReply("No legal issues were found."))
	messages := []domain.ConsultationMessage{{ID: "1", Content: "hello"}}
	review, err := newTestClient(srv.URL).ReviewCompliance(context.Background(), messages, testPatient)
	if err != nil {
		t.Fatalf("review failed: %v", err)
	}
	if review.RawAnalysis != "No legal issues were found." || review.ParseError == "" {
		t.Fatalf("expected raw analysis fallback, got %+v", review)
	}
	if review.Summary.MessageCount != 1 {
		t.Fatalf("metadata should still be attached: %+v", review.Summary)
	}
}

func TestReviewComplianceSurfacesUpstreamFailure(t *testing.T) {
	t.Parallel()

	_, srv := newFakeOpenAI(t, http.StatusUnauthorized, `{"error":{"message":"Incorrect API key"}}`)
	messages := []domain.ConsultationMessage{{ID: "1", Content: "hello"}}
	if _, err := newTestClient(srv.URL).ReviewCompliance(context.Background(), messages, testPatient); err == nil {
		t.Fatalf("expected upstream error")
	}
}

func TestChatUsesConversationalSettings(t *testing.T) {
	t.Parallel()

	fake, srv := newFakeOpenAI(t, http.StatusOK, chatReply(" 언제부터 아프셨나요? "))
	got, err := newTestClient(srv.URL).Chat(context.Background(), "배가 아파요")
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if got != "언제부터 아프셨나요?" {
		t.Fatalf("unexpected reply: %q", got)
	}

	var sent chatRequest
	if err := json.Unmarshal(fake.last().Body, &sent); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if sent.Temperature != 0.7 || sent.MaxTokens != 200 || sent.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected chat request: %+v", sent)
	}
}

func TestExtractJSONObject(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		`{"a":1}`:                         `{"a":1}`,
		"```json\n{\"a\":1}\n```":         `{"a":1}`,
		"prefix {\"a\":{\"b\":2}} suffix": `{"a":{"b":2}}`,
		"no json here":                    "no json here",
	}
	for in, want := range cases {
		if got := extractJSONObject(in); got != want {
			t.Fatalf("extractJSONObject(%q) = %q, want %q", in, got, want)
		}
	}
}
