package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/talk-practice/backend/internal/model/chat"
	"github.com/zhouzirui/talk-practice/backend/internal/service/ai"
	"github.com/zhouzirui/talk-practice/backend/internal/service/moderation"
	sessionService "github.com/zhouzirui/talk-practice/backend/internal/service/session"
	"github.com/zhouzirui/talk-practice/backend/internal/store/memory"
)

// scriptedLLM replies to every streaming call with the same chunks, or fails
// after them when failErr is set.
type scriptedLLM struct {
	mu         sync.Mutex
	chunks     []string
	failErr    error
	structured string
}

func (f *scriptedLLM) StreamChat(_ context.Context, _ []*schema.Message, _ ai.Tier) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	reader, writer := schema.Pipe[*schema.Message](len(f.chunks) + 1)
	for _, chunk := range f.chunks {
		writer.Send(&schema.Message{Role: schema.Assistant, Content: chunk}, nil)
	}
	if f.failErr != nil {
		writer.Send(nil, f.failErr)
	}
	writer.Close()
	return reader, nil
}

func (f *scriptedLLM) StructuredChat(_ context.Context, _ []*schema.Message, _ ai.Tier, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.structured == "" {
		return &ai.LLMError{Detail: "upstream unavailable"}
	}
	return ai.DecodeStructured(f.structured, out)
}

func (f *scriptedLLM) set(chunks []string, failErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = chunks
	f.failErr = failErr
}

func setupRouter(t *testing.T) (*chi.Mux, *scriptedLLM) {
	t.Helper()
	llm := &scriptedLLM{chunks: []string{"你好", "，我在听"}}
	svc := sessionService.NewService(memory.NewStore(), llm, nil, sessionService.Config{CallTimeout: time.Second})
	handler := New(svc, []string{"*"})

	r := chi.NewRouter()
	r.Route("/api", handler.RegisterRoutes)
	return r, llm
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var payload []byte
	switch v := body.(type) {
	case nil:
	case string:
		payload = []byte(v)
	default:
		payload, _ = json.Marshal(v)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func createSession(t *testing.T, r http.Handler) string {
	t.Helper()
	resp := doJSON(r, http.MethodPost, "/api/sessions/", nil)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var summary chat.Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Stage != chat.StageInput {
		t.Fatalf("expected input stage, got %s", summary.Stage)
	}
	return summary.ID
}

func submitIssue(t *testing.T, r http.Handler, id string) {
	t.Helper()
	resp := doJSON(r, http.MethodPost, "/api/sessions/"+id+"/issue", map[string]string{"content": "work stress"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
}

func detailOf(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["detail"]
}

func TestGetSessionNotFound(t *testing.T) {
	r, _ := setupRouter(t)

	resp := doJSON(r, http.MethodGet, "/api/sessions/missing", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if detail := detailOf(t, resp); !strings.Contains(detail, "session not found") {
		t.Fatalf("unexpected detail %q", detail)
	}
}

func TestGetSessionSnapshotWireNames(t *testing.T) {
	r, _ := setupRouter(t)
	id := createSession(t, r)

	resp := doJSON(r, http.MethodGet, "/api/sessions/"+id, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"id", "stage", "user_issue", "stage2_messages", "stage3_messages", "mood_ratings", "annotations", "created_at", "updated_at"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("missing key %q in snapshot", key)
		}
	}
	if string(body["stage2_messages"]) != "[]" {
		t.Fatalf("expected empty list, got %s", body["stage2_messages"])
	}
}

func TestSubmitIssueValidation(t *testing.T) {
	r, _ := setupRouter(t)
	id := createSession(t, r)
	path := "/api/sessions/" + id + "/issue"

	if resp := doJSON(r, http.MethodPost, path, "{not json"); resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad json, got %d", resp.Code)
	}
	if resp := doJSON(r, http.MethodPost, path, map[string]string{"content": ""}); resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for empty content, got %d", resp.Code)
	}
	long := strings.Repeat("压", maxContentLength+1)
	if resp := doJSON(r, http.MethodPost, path, map[string]string{"content": long}); resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for long content, got %d", resp.Code)
	}
	exact := strings.Repeat("压", maxContentLength)
	if resp := doJSON(r, http.MethodPost, path, map[string]string{"content": exact}); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 at the limit, got %d", resp.Code)
	}
}

func TestSubmitIssueTwiceConflicts(t *testing.T) {
	r, _ := setupRouter(t)
	id := createSession(t, r)
	submitIssue(t, r, id)

	resp := doJSON(r, http.MethodPost, "/api/sessions/"+id+"/issue", map[string]string{"content": "again"})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
	if detail := detailOf(t, resp); !strings.Contains(detail, "current=conversation") {
		t.Fatalf("unexpected detail %q", detail)
	}
}

func TestConversationChatStreamsSSE(t *testing.T) {
	r, _ := setupRouter(t)
	id := createSession(t, r)
	submitIssue(t, r, id)

	resp := doJSON(r, http.MethodPost, "/api/sessions/"+id+"/stage2/chat", map[string]string{"content": "最近很累"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	want := "event: token\ndata: {\"content\":\"你好\"}\n\n" +
		"event: token\ndata: {\"content\":\"，我在听\"}\n\n" +
		"event: done\ndata: {\"message_index\":1}\n\n"
	if got := resp.Body.String(); got != want {
		t.Fatalf("unexpected stream:\n%s", got)
	}
}

func TestConversationChatStreamFailureEndsWithError(t *testing.T) {
	r, llm := setupRouter(t)
	id := createSession(t, r)
	submitIssue(t, r, id)
	llm.set([]string{"你好"}, errors.New("connection reset"))

	resp := doJSON(r, http.MethodPost, "/api/sessions/"+id+"/stage2/chat", map[string]string{"content": "hi"})
	body := resp.Body.String()

	if !strings.Contains(body, "event: token\n") {
		t.Fatalf("expected partial tokens, got %s", body)
	}
	if !strings.HasSuffix(body, "\n\n") || !strings.Contains(body, "event: error\ndata: {\"detail\":") {
		t.Fatalf("expected terminal error event, got %s", body)
	}
	if strings.Contains(body, "event: done") {
		t.Fatal("failed stream must not emit done")
	}

	snapshot := doJSON(r, http.MethodGet, "/api/sessions/"+id, nil)
	var session chat.Session
	_ = json.NewDecoder(snapshot.Body).Decode(&session)
	if len(session.ConversationMessages) != 0 {
		t.Fatalf("expected no persisted messages, got %d", len(session.ConversationMessages))
	}
}

func TestPracticeChatInWrongStage(t *testing.T) {
	r, _ := setupRouter(t)
	id := createSession(t, r)
	submitIssue(t, r, id)

	resp := doJSON(r, http.MethodPost, "/api/sessions/"+id+"/stage3/chat", map[string]string{"content": "hi"})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("pre-stream failures must be JSON, got %q", ct)
	}
}

func TestRecordMood(t *testing.T) {
	r, _ := setupRouter(t)
	id := createSession(t, r)
	submitIssue(t, r, id)
	path := "/api/sessions/" + id + "/stage2/mood"

	if resp := doJSON(r, http.MethodPost, path, map[string]int{"value": 40}); resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 before any message, got %d", resp.Code)
	}

	doJSON(r, http.MethodPost, "/api/sessions/"+id+"/stage2/chat", map[string]string{"content": "hi"})

	if resp := doJSON(r, http.MethodPost, path, map[string]string{}); resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for missing value, got %d", resp.Code)
	}
	if resp := doJSON(r, http.MethodPost, path, map[string]int{"value": 101}); resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for out of range value, got %d", resp.Code)
	}

	resp := doJSON(r, http.MethodPost, path, map[string]int{"value": 0})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var session chat.Session
	_ = json.NewDecoder(resp.Body).Decode(&session)
	if len(session.MoodRatings) != 1 || session.MoodRatings[0].AfterMessageIndex != 1 {
		t.Fatalf("unexpected ratings %+v", session.MoodRatings)
	}
}

func TestFullFlowOverHTTP(t *testing.T) {
	r, llm := setupRouter(t)
	id := createSession(t, r)
	submitIssue(t, r, id)
	base := "/api/sessions/" + id

	if resp := doJSON(r, http.MethodPost, base+"/stage2/complete", nil); resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 with no messages, got %d", resp.Code)
	}

	doJSON(r, http.MethodPost, base+"/stage2/chat", map[string]string{"content": "hi"})

	resp := doJSON(r, http.MethodPost, base+"/stage2/complete", nil)
	if !strings.Contains(resp.Body.String(), "event: done\ndata: {\"message_index\":0}") {
		t.Fatalf("expected opening at index 0, got %s", resp.Body.String())
	}

	doJSON(r, http.MethodPost, base+"/stage3/chat", map[string]string{"content": "怎么了？"})

	resp = doJSON(r, http.MethodPost, base+"/stage3/complete", nil)
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on extraction failure, got %d", resp.Code)
	}

	llm.mu.Lock()
	llm.structured = `{"annotations": [{"message_index": 1, "content": "提问很开放"}]}`
	llm.mu.Unlock()

	resp = doJSON(r, http.MethodPost, base+"/stage3/complete", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var session chat.Session
	_ = json.NewDecoder(resp.Body).Decode(&session)
	if session.Stage != chat.StageReview || len(session.Annotations) != 1 {
		t.Fatalf("unexpected final session %+v", session)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{sessionService.ErrSessionNotFound, http.StatusNotFound},
		{&sessionService.StageError{Current: chat.StageInput}, http.StatusConflict},
		{chat.ErrVersionConflict, http.StatusConflict},
		{&sessionService.InsufficientMessagesError{Required: 2}, http.StatusUnprocessableEntity},
		{sessionService.ErrInvalidMood, http.StatusUnprocessableEntity},
		{&moderation.RejectedError{Category: moderation.CategoryHarassment}, http.StatusUnavailableForLegalReasons},
		{ai.NewLLMError(context.DeadlineExceeded), http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}

	if got := detailFor(errors.New("disk full"), http.StatusInternalServerError); got != "internal server error" {
		t.Fatalf("unclassified detail leaked: %q", got)
	}
}
