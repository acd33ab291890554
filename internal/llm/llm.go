// Package llm wraps the language-model backend behind a one-method client.
//
// The backend is a black box to the rest of the system: prompt in, text and
// a token count out. The concrete implementation speaks to any
// OpenAI-compatible endpoint through langchaingo.
package llm

import (
	"context"
	"fmt"
)

// Completion is one backend response.
type Completion struct {
	// Text is the raw response text, uninterpreted.
	Text string

	// Tokens is the total token count the backend reported for the call,
	// or an estimate when the backend reported none.
	Tokens int
}

// Client generates completions.
type Client interface {
	Complete(ctx context.Context, prompt string) (*Completion, error)
}

// BackendError preserves the backend's own message when a call fails, so it
// survives the trip back through the endpoint's error-flagged response.
type BackendError struct {
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("llm backend: %s", e.Message)
}

func (e *BackendError) Unwrap() error { return e.Err }

// estimateTokens approximates token count from text length when the backend
// reports no usage. Four characters per token is the usual rough cut.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}
