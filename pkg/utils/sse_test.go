package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendSSEEventFormat(t *testing.T) {
	resp := httptest.NewRecorder()
	SetupSSEHeaders(resp)

	if err := SendSSEEvent(resp, resp, "done", map[string]int{"message_index": 3}); err != nil {
		t.Fatalf("SendSSEEvent err: %v", err)
	}

	want := "event: done\ndata: {\"message_index\":3}\n\n"
	if got := resp.Body.String(); got != want {
		t.Fatalf("unexpected frame %q", got)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !resp.Flushed {
		t.Fatal("expected flush")
	}
}

func TestRespondErrorUsesDetail(t *testing.T) {
	resp := httptest.NewRecorder()
	RespondError(resp, http.StatusNotFound, "session not found")

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if got := resp.Body.String(); got != "{\"detail\":\"session not found\"}\n" {
		t.Fatalf("unexpected body %q", got)
	}
}
