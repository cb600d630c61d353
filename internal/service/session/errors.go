package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zhouzirui/talk-practice/backend/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidMood     = errors.New("mood value must be between 0 and 100")
)

// StageError is returned when an operation is not allowed in the current
// stage.
type StageError struct {
	Current  chat.Stage
	Expected []chat.Stage
}

func (e *StageError) Error() string {
	expected := make([]string, 0, len(e.Expected))
	for _, stage := range e.Expected {
		expected = append(expected, string(stage))
	}
	return fmt.Sprintf("invalid stage transition: current=%s, expected=%s", e.Current, strings.Join(expected, "|"))
}

// InsufficientMessagesError reports an unmet message-count precondition.
type InsufficientMessagesError struct {
	Required int
}

func (e *InsufficientMessagesError) Error() string {
	return fmt.Sprintf("at least %d message(s) required before this action", e.Required)
}

func requireStage(session *chat.Session, expected chat.Stage) error {
	if session.Stage != expected {
		return &StageError{Current: session.Stage, Expected: []chat.Stage{expected}}
	}
	return nil
}
