package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/voxagent/voxagent/internal/domain"
)

// invokeRequest is the wire shape sent to the tool provider.
type invokeRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// invokeResponse is the wire shape returned by the tool provider.
type invokeResponse struct {
	Content string `json:"content"`
	IsError bool   `json:"isError,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HTTPExecutor invokes tools on a remote provider over HTTP/JSON.
//
// Tool calls are side-effecting, so the client never retries; a transport
// failure is reported once and the model decides what to do with it.
type HTTPExecutor struct {
	client *resty.Client
}

// NewHTTPExecutor creates an executor for the provider at baseURL.
func NewHTTPExecutor(baseURL string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(0)
	return &HTTPExecutor{client: client}
}

// Invoke implements Executor. The request context carries the session's
// cancellation signal into the provider.
func (e *HTTPExecutor) Invoke(ctx context.Context, name string, args json.RawMessage) (domain.ToolResult, error) {
	var out invokeResponse
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(invokeRequest{Name: name, Arguments: args}).
		SetResult(&out).
		Post("/invoke")
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("invoke tool %s: %w", name, err)
	}
	if resp.IsError() {
		return domain.ToolResult{}, fmt.Errorf("invoke tool %s: provider returned %d", name, resp.StatusCode())
	}
	if out.IsError {
		errMsg := out.Error
		if errMsg == "" {
			errMsg = out.Content
		}
		slog.Debug("Tool invocation failed", "tool", name, "error", errMsg)
		return domain.ToolResult{Success: false, Content: out.Content, Error: errMsg}, nil
	}
	return domain.ToolResult{Success: true, Content: out.Content}, nil
}
