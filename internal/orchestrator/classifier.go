// Package orchestrator drives agent sessions: the per-session iteration loop,
// the completion classifier, and the human approval gate.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"

	"github.com/voxagent/voxagent/internal/gateway"
)

// Verdict is the completion classifier's decision for a tool-call-free model
// response.
type Verdict int

const (
	// VerdictFinal means the response is the task's final answer.
	VerdictFinal Verdict = iota
	// VerdictContinue means the response reads as work-in-progress narration
	// and the loop should issue another model call.
	VerdictContinue
)

// HeuristicFunc decides whether a response text reads as in-progress
// narration. The heuristic is a policy point: hosts may swap in their own.
type HeuristicFunc func(text string) Verdict

// inProgressPrefixes are openings that signal the model is narrating work it
// has not finished yet.
var inProgressPrefixes = []string{
	"let me ",
	"i'll ",
	"i will ",
	"i'm going to ",
	"i am going to ",
	"first, ",
	"next, ",
	"one moment",
	"working on ",
}

// DefaultHeuristic treats a response as narration only when it exhibits clear
// in-progress phrasing; everything else is final. It never synthesizes
// fallback text — that belongs to the loop's exhaustion path alone.
func DefaultHeuristic(text string) Verdict {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return VerdictContinue
	}
	lower := strings.ToLower(trimmed)
	for _, p := range inProgressPrefixes {
		if strings.HasPrefix(lower, p) {
			return VerdictContinue
		}
	}
	if strings.HasSuffix(trimmed, "...") || strings.HasSuffix(trimmed, ":") {
		return VerdictContinue
	}
	return VerdictFinal
}

// Classifier decides whether a model turn completes the task.
type Classifier struct {
	heuristic HeuristicFunc
	verifier  gateway.Verifier
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithHeuristic replaces the default narration heuristic.
func WithHeuristic(h HeuristicFunc) ClassifierOption {
	return func(c *Classifier) {
		if h != nil {
			c.heuristic = h
		}
	}
}

// WithVerifier enables goal verification: a heuristically-final answer must
// additionally pass the verifier before the loop accepts it.
func WithVerifier(v gateway.Verifier) ClassifierOption {
	return func(c *Classifier) { c.verifier = v }
}

// NewClassifier creates a classifier with the default heuristic.
func NewClassifier(opts ...ClassifierOption) *Classifier {
	c := &Classifier{heuristic: DefaultHeuristic}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify returns the verdict for a model response. Responses carrying tool
// calls always continue the loop and never reach the heuristic. A negative or
// failed verification downgrades a final verdict to continue; it is never an
// error.
func (c *Classifier) Classify(ctx context.Context, task, responseText string, hasToolCalls bool) Verdict {
	if hasToolCalls {
		return VerdictContinue
	}
	if c.heuristic(responseText) == VerdictContinue {
		return VerdictContinue
	}
	if c.verifier == nil {
		return VerdictFinal
	}
	ok, err := c.verifier.Verify(ctx, task, responseText)
	if err != nil {
		slog.Warn("Completion verification failed, continuing", "error", err)
		return VerdictContinue
	}
	if !ok {
		return VerdictContinue
	}
	return VerdictFinal
}
