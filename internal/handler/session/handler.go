// Package session 暴露练习会话的 HTTP 接口：REST 操作、SSE 流式对话和
// WebSocket 流式对话。
package session

import (
	"encoding/json"
	"net/http"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/talk-practice/backend/internal/model/chat"
	sessionService "github.com/zhouzirui/talk-practice/backend/internal/service/session"
	"github.com/zhouzirui/talk-practice/backend/pkg/utils"
)

const maxContentLength = 2000

// Handler 会话接口的HTTP处理器
type Handler struct {
	svc      *sessionService.Service
	upgrader websocket.Upgrader
}

// New 创建会话处理器。allowedOrigins 同时用于 WebSocket 的 Origin 校验。
func New(svc *sessionService.Service, allowedOrigins []string) *Handler {
	return &Handler{
		svc: svc,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreateSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGetSession)
			r.Post("/issue", h.handleSubmitIssue)
			r.Post("/stage2/chat", h.handleChat(chat.StageConversation))
			r.Post("/stage2/mood", h.handleRecordMood)
			r.Post("/stage2/complete", h.handleCompleteConversation)
			r.Post("/stage3/chat", h.handleChat(chat.StageRoleSwap))
			r.Post("/stage3/complete", h.handleCompleteRoleSwap)
			r.Get("/ws", h.handleWebSocket)
		})
	})
}

type contentRequest struct {
	Content string `json:"content"`
}

type moodRequest struct {
	Value *int `json:"value"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.CreateSession(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, summary)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleSubmitIssue(w http.ResponseWriter, r *http.Request) {
	content, ok := decodeContent(w, r)
	if !ok {
		return
	}

	session, err := h.svc.SubmitIssue(r.Context(), chi.URLParam(r, "sessionID"), content)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleChat(stage chat.Stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		content, ok := decodeContent(w, r)
		if !ok {
			return
		}

		turn, err := h.svc.ChatTurn(r.Context(), chi.URLParam(r, "sessionID"), stage, content)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		streamTurn(w, r, turn)
	}
}

func (h *Handler) handleRecordMood(w http.ResponseWriter, r *http.Request) {
	var payload moodRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if payload.Value == nil {
		utils.RespondError(w, http.StatusUnprocessableEntity, "value is required")
		return
	}

	session, err := h.svc.RecordMood(r.Context(), chi.URLParam(r, "sessionID"), *payload.Value)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleCompleteConversation(w http.ResponseWriter, r *http.Request) {
	turn, err := h.svc.CompleteConversation(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	streamTurn(w, r, turn)
}

func (h *Handler) handleCompleteRoleSwap(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.CompleteRoleSwap(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// decodeContent reads a {"content": ...} body and writes a 422 when it is
// missing or too long.
func decodeContent(w http.ResponseWriter, r *http.Request) (string, bool) {
	var payload contentRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusUnprocessableEntity, "invalid request body")
		return "", false
	}
	if err := validateContent(payload.Content); err != nil {
		utils.RespondError(w, http.StatusUnprocessableEntity, err.Error())
		return "", false
	}
	return payload.Content, true
}

func validateContent(content string) error {
	n := utf8.RuneCountInString(content)
	if n == 0 {
		return errContentRequired
	}
	if n > maxContentLength {
		return errContentTooLong
	}
	return nil
}
