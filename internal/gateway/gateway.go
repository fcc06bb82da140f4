// Package gateway provides the model-calling boundary for the orchestration
// loop. Implementations translate session history into provider requests and
// surface failures as distinguishable error kinds rather than opaque values.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxagent/voxagent/internal/domain"
)

// ModelResponse is one model turn: assistant content plus any requested tool
// calls.
type ModelResponse struct {
	Content   string
	ToolCalls []domain.ToolCall
}

// Gateway is the model-calling contract the orchestration loop consumes.
type Gateway interface {
	// Call sends the accumulated history and tool schemas to the model and
	// returns its response.
	Call(ctx context.Context, history []domain.Turn, tools []domain.ToolSpec) (*ModelResponse, error)

	// CallStreaming behaves like Call but additionally reports content deltas
	// through onDelta for display purposes. The returned response, not the
	// deltas, drives orchestration decisions.
	CallStreaming(ctx context.Context, history []domain.Turn, tools []domain.ToolSpec, onDelta func(string)) (*ModelResponse, error)
}

// Kind classifies gateway failures.
type Kind string

const (
	// KindRateLimited indicates the provider throttled the request.
	KindRateLimited Kind = "rate_limited"
	// KindUnavailable indicates a transient provider or transport failure.
	KindUnavailable Kind = "unavailable"
	// KindAuth indicates an authentication or authorization failure.
	KindAuth Kind = "auth"
	// KindInvalid indicates the request was rejected as malformed.
	KindInvalid Kind = "invalid"
)

// GatewayError wraps a provider failure with its classification.
type GatewayError struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	return fmt.Sprintf("model gateway %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying provider error.
func (e *GatewayError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth a bounded retry.
func (e *GatewayError) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindUnavailable
}

// IsRetryable reports whether err is a retryable gateway failure.
func IsRetryable(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Retryable()
}
