package session

import (
	"log"
	"net/http"

	sessionService "github.com/zhouzirui/talk-practice/backend/internal/service/session"
	"github.com/zhouzirui/talk-practice/backend/pkg/utils"
)

type tokenEvent struct {
	Content string `json:"content"`
}

type doneEvent struct {
	MessageIndex int `json:"message_index"`
}

type errorEvent struct {
	Detail string `json:"detail"`
}

// streamTurn relays a prepared turn as SSE: token events, then exactly one
// done or error event.
func streamTurn(w http.ResponseWriter, r *http.Request, turn *sessionService.Turn) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		turn.Close()
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	sessionID := turn.SessionID()
	clientGone := false
	index, err := turn.Run(r.Context(), func(delta string) {
		if clientGone {
			return
		}
		if err := utils.SendSSEEvent(w, flusher, "token", tokenEvent{Content: delta}); err != nil {
			log.Printf("[sse] client gone session=%s: %v", sessionID, err)
			clientGone = true
		}
	})
	if err != nil {
		status := statusFor(err)
		_ = utils.SendSSEEvent(w, flusher, "error", errorEvent{Detail: detailFor(err, status)})
		return
	}

	_ = utils.SendSSEEvent(w, flusher, "done", doneEvent{MessageIndex: index})
}
