package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func readMessage(t *testing.T, conn *websocket.Conn) outgoingMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg outgoingMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read websocket message: %v", err)
	}
	return msg
}

func TestWebSocketChatTurn(t *testing.T) {
	r, _ := setupRouter(t)
	id := createSession(t, r)
	submitIssue(t, r, id)

	server := httptest.NewServer(r)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if msg := readMessage(t, conn); msg.Type != "session" {
		t.Fatalf("expected session snapshot first, got %s", msg.Type)
	}

	if err := conn.WriteJSON(inboundMessage{Type: "chat", Content: "最近很累"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var tokens []string
	for {
		msg := readMessage(t, conn)
		if msg.Type == "token" {
			data := msg.Data.(map[string]interface{})
			tokens = append(tokens, data["content"].(string))
			continue
		}
		if msg.Type != "done" {
			t.Fatalf("expected done, got %s: %v", msg.Type, msg.Data)
		}
		data := msg.Data.(map[string]interface{})
		if data["message_index"].(float64) != 1 {
			t.Fatalf("unexpected done payload %v", data)
		}
		break
	}
	if strings.Join(tokens, "") != "你好，我在听" {
		t.Fatalf("unexpected tokens %v", tokens)
	}

	if err := conn.WriteJSON(inboundMessage{Type: "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != "error" {
		t.Fatalf("expected error for unknown type, got %s", msg.Type)
	}
}

func TestWebSocketCompleteInWrongStage(t *testing.T) {
	r, _ := setupRouter(t)
	id := createSession(t, r)

	server := httptest.NewServer(r)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readMessage(t, conn)

	if err := conn.WriteJSON(inboundMessage{Type: "complete"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readMessage(t, conn)
	if msg.Type != "error" {
		t.Fatalf("expected error, got %s", msg.Type)
	}
	data := msg.Data.(map[string]interface{})
	if int(data["status"].(float64)) != http.StatusConflict {
		t.Fatalf("expected 409 status, got %v", data["status"])
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	r, _ := setupRouter(t)
	server := httptest.NewServer(r)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/sessions/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake response, got %v", resp)
	}
}
