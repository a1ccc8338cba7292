package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrRateLimited marks a provider response equivalent to HTTP 429. The
// gateway retries these against the same provider before falling back.
var ErrRateLimited = errors.New("rate limited")

// OpenAIProvider serves a single model on an OpenAI-compatible endpoint.
// Primary, fallback and classifier tiers are separate instances pointed at
// different model names.
type OpenAIProvider struct {
	name        string
	model       llms.Model
	temperature float64
}

func NewOpenAIProvider(name, baseURL, apiKey, model string, temperature float64) (*OpenAIProvider, error) {
	client, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("init provider %s: %w", name, err)
	}
	return &OpenAIProvider{name: name, model: client, temperature: temperature}, nil
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Stream(ctx context.Context, req Request, fn StreamFunc) (*Result, error) {
	msgs := buildMessages(req)

	opts := []llms.CallOption{llms.WithTemperature(p.temperature)}
	if fn != nil {
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) > 0 {
				fn(string(chunk))
			}
			return nil
		}))
	}
	if len(req.Tools) > 0 {
		tools := make([]llms.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, llms.Tool{
				Type: "function",
				Function: &llms.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		opts = append(opts, llms.WithTools(tools))
	}

	resp, err := p.model.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		if isRateLimit(err) {
			return nil, fmt.Errorf("%s: %w", p.name, ErrRateLimited)
		}
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty response", p.name)
	}

	choice := resp.Choices[0]
	if len(choice.ToolCalls) > 0 {
		tc := choice.ToolCalls[0]
		return &Result{ToolCall: &ToolCall{
			ID:   tc.ID,
			Name: tc.FunctionCall.Name,
			Args: tc.FunctionCall.Arguments,
		}}, nil
	}
	return &Result{Text: choice.Content}, nil
}

func buildMessages(req Request) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, m := range req.History {
		switch {
		case m.Role == RoleTool:
			msgs = append(msgs, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: toolCallID(m),
					Name:       m.ToolName,
					Content:    m.Content,
				}},
			})
		case m.Role == RoleAssistant && m.ToolCall != nil:
			msgs = append(msgs, llms.MessageContent{
				Role: llms.ChatMessageTypeAI,
				Parts: []llms.ContentPart{llms.ToolCall{
					ID:   m.ToolCall.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      m.ToolCall.Name,
						Arguments: m.ToolCall.Args,
					},
				}},
			})
		case m.Role == RoleUser:
			msgs = append(msgs, userMessage(m.Content, m.Images))
		default:
			msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeAI, m.Content))
		}
	}
	// A resumed request carries the tool exchange at the tail of History
	// and no fresh prompt.
	if req.Prompt != "" || len(req.Images) > 0 {
		msgs = append(msgs, userMessage(req.Prompt, req.Images))
	}
	return msgs
}

func userMessage(text string, images []string) llms.MessageContent {
	parts := []llms.ContentPart{llms.TextContent{Text: text}}
	for _, url := range images {
		parts = append(parts, llms.ImageURLContent{URL: url})
	}
	return llms.MessageContent{Role: llms.ChatMessageTypeHuman, Parts: parts}
}

func toolCallID(m Message) string {
	if m.ToolCall != nil {
		return m.ToolCall.ID
	}
	return ""
}

func isRateLimit(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "429") || strings.Contains(s, "rate limit")
}
