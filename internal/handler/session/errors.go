package session

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/zhouzirui/talk-practice/backend/internal/model/chat"
	"github.com/zhouzirui/talk-practice/backend/internal/service/ai"
	"github.com/zhouzirui/talk-practice/backend/internal/service/moderation"
	sessionService "github.com/zhouzirui/talk-practice/backend/internal/service/session"
	"github.com/zhouzirui/talk-practice/backend/pkg/utils"
)

var (
	errContentRequired = errors.New("content is required")
	errContentTooLong  = fmt.Errorf("content must be at most %d characters", maxContentLength)
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var (
		stageErr     *sessionService.StageError
		insufficient *sessionService.InsufficientMessagesError
		rejected     *moderation.RejectedError
		llmErr       *ai.LLMError
	)

	switch {
	case errors.Is(err, sessionService.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.As(err, &stageErr), errors.Is(err, chat.ErrVersionConflict):
		return http.StatusConflict
	case errors.As(err, &insufficient), errors.Is(err, sessionService.ErrInvalidMood):
		return http.StatusUnprocessableEntity
	case errors.As(err, &rejected):
		return http.StatusUnavailableForLegalReasons
	case errors.As(err, &llmErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// detailFor is the client-facing message. Unclassified errors are logged and
// replaced with a generic message.
func detailFor(err error, status int) string {
	if status == http.StatusInternalServerError {
		log.Printf("[session] unclassified error: %v", err)
		return "internal server error"
	}
	return err.Error()
}

func respondServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	utils.RespondError(w, status, detailFor(err, status))
}
