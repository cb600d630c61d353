package ai

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidStructuredOutput marks a reply that arrived but did not match the
// expected JSON shape.
var ErrInvalidStructuredOutput = errors.New("invalid structured output")

// LLMError is a failed call to the model provider. Transport failures,
// timeouts and malformed replies all end up here.
type LLMError struct {
	Detail string
	Err    error
}

func (e *LLMError) Error() string {
	if e.Err == nil {
		return "llm error: " + e.Detail
	}
	return fmt.Sprintf("llm error: %s: %v", e.Detail, e.Err)
}

func (e *LLMError) Unwrap() error {
	return e.Err
}

// NewLLMError classifies err as a provider failure. An existing LLMError is
// returned unchanged.
func NewLLMError(err error) error {
	if err == nil {
		return nil
	}
	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &LLMError{Detail: "model call timed out", Err: err}
	}
	return &LLMError{Detail: err.Error(), Err: err}
}

// InvalidOutput wraps a parse or shape failure of a structured reply.
func InvalidOutput(err error) error {
	return &LLMError{
		Detail: ErrInvalidStructuredOutput.Error(),
		Err:    errors.Join(ErrInvalidStructuredOutput, err),
	}
}
