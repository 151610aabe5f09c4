package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn in a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the fully assembled prompt plus generation parameters.
type ChatRequest struct {
	Messages    []ChatMessage
	MaxTokens   int
	Temperature *float64
}

// Provider is the capability interface every LLM backend implements. The
// router depends only on this, never on a concrete vendor type, so tests can
// substitute doubles.
type Provider interface {
	// StreamChat opens a streaming chat completion, invoking onDelta for each
	// token as it arrives, and returns the full concatenated text. A nil
	// onDelta collects without forwarding.
	StreamChat(ctx context.Context, req ChatRequest, onDelta func(delta string)) (string, error)
	// Embed returns one embedding vector per input.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	// Name identifies the configured provider instance.
	Name() string
	// Model is the model the instance is bound to.
	Model() string
}

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("llm upstream error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsTransient reports whether an error should advance failover to the next
// candidate instance: transport errors, timeouts, rate limits, auth failures
// and upstream 5xx all count.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	// Client-initiated cancellation is not an instance failure.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		switch {
		case he.StatusCode == 401, he.StatusCode == 403:
			return true
		case he.StatusCode == 408, he.StatusCode == 429:
			return true
		case he.StatusCode >= 500:
			return true
		}
		return false
	}
	// Unclassified transport-level failures (connection reset, EOF mid-dial)
	// are treated as transient.
	return true
}
