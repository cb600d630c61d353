package session

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/talk-practice/backend/internal/model/chat"
	sessionService "github.com/zhouzirui/talk-practice/backend/internal/service/session"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

type inboundMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Value   *int   `json:"value,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type wsError struct {
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

// handleWebSocket 处理WebSocket连接。每条入站消息在连接上串行处理，
// 流式回复以 token 消息推送，最后是 done 或 error。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.svc.GetSession(r.Context(), sessionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new connection for session: %s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go pingLoop(ctx, conn)

	send(conn, sessionID, "session", session)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error session=%s: %v", sessionID, err)
			}
			return
		}

		h.handleMessage(ctx, conn, sessionID, &msg)

		// A streamed turn may outlast the read deadline.
		conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *websocket.Conn, sessionID string, msg *inboundMessage) {
	switch msg.Type {
	case "chat":
		h.wsChat(ctx, conn, sessionID, msg.Content)
	case "mood":
		if msg.Value == nil {
			sendError(conn, sessionID, http.StatusUnprocessableEntity, "value is required")
			return
		}
		h.wsReply(conn, sessionID)(h.svc.RecordMood(ctx, sessionID, *msg.Value))
	case "complete":
		h.wsComplete(ctx, conn, sessionID)
	case "get":
		h.wsReply(conn, sessionID)(h.svc.GetSession(ctx, sessionID))
	default:
		sendError(conn, sessionID, http.StatusBadRequest, "unsupported message type: "+msg.Type)
	}
}

// wsChat routes a chat message to the session's current stage.
func (h *Handler) wsChat(ctx context.Context, conn *websocket.Conn, sessionID, content string) {
	if err := validateContent(content); err != nil {
		sendError(conn, sessionID, http.StatusUnprocessableEntity, err.Error())
		return
	}

	session, err := h.svc.GetSession(ctx, sessionID)
	if err != nil {
		sendServiceError(conn, sessionID, err)
		return
	}

	// Outside the chat stages the conversation stage is requested so the
	// caller gets a stage error naming the actual stage.
	stage := session.Stage
	if stage != chat.StageConversation && stage != chat.StageRoleSwap {
		stage = chat.StageConversation
	}

	turn, err := h.svc.ChatTurn(ctx, sessionID, stage, content)
	if err != nil {
		sendServiceError(conn, sessionID, err)
		return
	}
	relayTurn(ctx, conn, turn)
}

// wsComplete completes whichever stage the session is in.
func (h *Handler) wsComplete(ctx context.Context, conn *websocket.Conn, sessionID string) {
	session, err := h.svc.GetSession(ctx, sessionID)
	if err != nil {
		sendServiceError(conn, sessionID, err)
		return
	}

	if session.Stage == chat.StageRoleSwap {
		h.wsReply(conn, sessionID)(h.svc.CompleteRoleSwap(ctx, sessionID))
		return
	}

	turn, err := h.svc.CompleteConversation(ctx, sessionID)
	if err != nil {
		sendServiceError(conn, sessionID, err)
		return
	}
	relayTurn(ctx, conn, turn)
}

func (h *Handler) wsReply(conn *websocket.Conn, sessionID string) func(*chat.Session, error) {
	return func(session *chat.Session, err error) {
		if err != nil {
			sendServiceError(conn, sessionID, err)
			return
		}
		send(conn, sessionID, "session", session)
	}
}

func relayTurn(ctx context.Context, conn *websocket.Conn, turn *sessionService.Turn) {
	sessionID := turn.SessionID()
	index, err := turn.Run(ctx, func(delta string) {
		send(conn, sessionID, "token", tokenEvent{Content: delta})
	})
	if err != nil {
		sendServiceError(conn, sessionID, err)
		return
	}
	send(conn, sessionID, "done", doneEvent{MessageIndex: index})
}

func send(conn *websocket.Conn, sessionID, kind string, data interface{}) {
	msg := outgoingMessage{
		Type:      kind,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[websocket] write %s failed: %v", kind, err)
	}
}

func sendError(conn *websocket.Conn, sessionID string, status int, detail string) {
	send(conn, sessionID, "error", wsError{Detail: detail, Status: status})
}

func sendServiceError(conn *websocket.Conn, sessionID string, err error) {
	status := statusFor(err)
	sendError(conn, sessionID, status, detailFor(err, status))
}

// pingLoop 定期发送ping消息。WriteControl 可与 WriteJSON 并发调用。
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// originChecker allows requests without an Origin header and those whose
// origin is listed.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}
