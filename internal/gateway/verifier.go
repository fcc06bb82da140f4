package gateway

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Verifier checks whether a candidate answer satisfies the task it was
// produced for. Used by the completion classifier when verification is
// enabled.
type Verifier interface {
	Verify(ctx context.Context, task, answer string) (bool, error)
}

const verifierSystemPrompt = "You are a strict grader. Given a task and a candidate answer, " +
	"reply with exactly YES if the answer fully accomplishes the task, or NO otherwise. " +
	"Reply with a single word."

// LLMVerifier implements Verifier with a single judge call against an
// OpenAI-compatible endpoint.
type LLMVerifier struct {
	client *openai.Client
	model  string
}

// NewLLMVerifier creates a verifier for the given endpoint and model.
func NewLLMVerifier(baseURL, apiKey, model string) *LLMVerifier {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &LLMVerifier{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Verify implements Verifier. A malformed verdict counts as "not verified",
// not as an error.
func (v *LLMVerifier) Verify(ctx context.Context, task, answer string) (bool, error) {
	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: v.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: verifierSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Task:\n%s\n\nCandidate answer:\n%s", task, answer)},
		},
	})
	if err != nil {
		return false, classify(err)
	}
	if len(resp.Choices) == 0 {
		return false, nil
	}
	verdict := strings.ToUpper(strings.TrimSpace(resp.Choices[0].Message.Content))
	return strings.HasPrefix(verdict, "YES"), nil
}
