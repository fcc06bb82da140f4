package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"

	openai "github.com/sashabaranov/go-openai"

	"github.com/voxagent/voxagent/internal/domain"
)

// OpenAIGateway calls an OpenAI-compatible chat-completions endpoint. A custom
// BaseURL supports litellm-style proxies and self-hosted providers.
type OpenAIGateway struct {
	client *openai.Client
	model  string
}

// NewOpenAIGateway creates a gateway for the given endpoint and model.
func NewOpenAIGateway(baseURL, apiKey, model string) *OpenAIGateway {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIGateway{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Call implements Gateway.
func (g *OpenAIGateway) Call(ctx context.Context, history []domain.Turn, tools []domain.ToolSpec) (*ModelResponse, error) {
	resp, err := g.client.CreateChatCompletion(ctx, g.buildRequest(history, tools, false))
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &GatewayError{Kind: KindInvalid, Err: errors.New("response contained no choices")}
	}
	msg := resp.Choices[0].Message
	return &ModelResponse{
		Content:   msg.Content,
		ToolCalls: fromOpenAIToolCalls(msg.ToolCalls),
	}, nil
}

// CallStreaming implements Gateway. Deltas are reported as they arrive; the
// assembled response is returned once the stream completes.
func (g *OpenAIGateway) CallStreaming(ctx context.Context, history []domain.Turn, tools []domain.ToolSpec, onDelta func(string)) (*ModelResponse, error) {
	stream, err := g.client.CreateChatCompletionStream(ctx, g.buildRequest(history, tools, true))
	if err != nil {
		return nil, classify(err)
	}
	defer stream.Close()

	var content string
	calls := map[int]*openai.ToolCall{}
	order := []int{}
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, classify(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content += delta.Content
			if onDelta != nil {
				onDelta(delta.Content)
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := calls[idx]
			if !ok {
				cp := tc
				calls[idx] = &cp
				order = append(order, idx)
				continue
			}
			acc.Function.Arguments += tc.Function.Arguments
			if tc.Function.Name != "" {
				acc.Function.Name = tc.Function.Name
			}
		}
	}

	assembled := make([]openai.ToolCall, 0, len(order))
	for _, idx := range order {
		assembled = append(assembled, *calls[idx])
	}
	return &ModelResponse{
		Content:   content,
		ToolCalls: fromOpenAIToolCalls(assembled),
	}, nil
}

func (g *OpenAIGateway) buildRequest(history []domain.Turn, tools []domain.ToolSpec, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: toOpenAIMessages(history),
		Stream:   stream,
	}
	for _, t := range tools {
		var params any = map[string]any{"type": "object"}
		if len(t.Parameters) > 0 {
			params = json.RawMessage(t.Parameters)
		}
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return req
}

// toOpenAIMessages maps history turns onto chat-completions messages. Tool
// calls carry no provider IDs in the domain model, so synthetic IDs are
// assigned per turn; a tool-role turn binds its results, in order, to the
// calls of the assistant turn immediately preceding it.
func toOpenAIMessages(history []domain.Turn) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history))
	var lastCallIDs []string
	for i, turn := range history {
		switch turn.Role {
		case domain.RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: turn.Content,
			}
			lastCallIDs = nil
			for j, call := range turn.ToolCalls {
				id := fmt.Sprintf("call_%d_%d", i, j)
				lastCallIDs = append(lastCallIDs, id)
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   id,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Arguments),
					},
				})
			}
			msgs = append(msgs, msg)
		case domain.RoleTool:
			for j, res := range turn.ToolResults {
				if j >= len(lastCallIDs) {
					break
				}
				content := res.Content
				if !res.Success && res.Error != "" {
					content = res.Error
				}
				msgs = append(msgs, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    content,
					ToolCallID: lastCallIDs[j],
				})
			}
		default:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    turn.Role,
				Content: turn.Content,
			})
		}
	}
	return msgs
}

func fromOpenAIToolCalls(calls []openai.ToolCall) []domain.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]domain.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, domain.ToolCall{
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out
}

// classify maps provider and transport errors onto gateway error kinds.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return &GatewayError{Kind: KindAuth, Err: err}
		case apiErr.HTTPStatusCode == 429:
			return &GatewayError{Kind: KindRateLimited, Err: err}
		case apiErr.HTTPStatusCode >= 500:
			return &GatewayError{Kind: KindUnavailable, Err: err}
		default:
			return &GatewayError{Kind: KindInvalid, Err: err}
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &GatewayError{Kind: KindUnavailable, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &GatewayError{Kind: KindUnavailable, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &GatewayError{Kind: KindUnavailable, Err: err}
}
