// Package tools provides the boundary to the external tool provider.
package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/voxagent/voxagent/internal/domain"
)

// Executor invokes tools by name on behalf of the orchestration loop.
//
// A failed invocation is data, not control flow: implementations return a
// ToolResult with Success=false for tool-level failures and reserve the error
// return for transport breakdown. The loop records either form as a failed
// result and continues.
type Executor interface {
	Invoke(ctx context.Context, name string, args json.RawMessage) (domain.ToolResult, error)
}

// SplitName splits a possibly-namespaced tool name ("provider:tool") into its
// provider and bare tool parts. Names without a namespace return an empty
// provider.
func SplitName(name string) (provider, tool string) {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
