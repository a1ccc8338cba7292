// Package tools holds the named callable tools the model (or the intent
// classifier) may invoke. Tools never return errors past their boundary:
// every failure is encoded in the returned string so it can be shown as
// part of the assistant turn.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/llm"
)

// Tool names form a closed set.
const (
	GenerateImage = "generate_image"
	WebSearch     = "web_search"
)

// Handler executes one tool. args is the raw argument string (JSON from a
// model function call, or plain text from the direct intent path).
type Handler func(ctx context.Context, args string) string

type Registry struct {
	handlers map[string]Handler
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{handlers: make(map[string]Handler), logger: logger}
}

func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Invoke runs the named tool. An unknown name is a distinct, logged error
// case, returned as a string like any other tool failure.
func (r *Registry) Invoke(ctx context.Context, name, args string) string {
	h, ok := r.handlers[name]
	if !ok {
		r.logger.Error("unknown tool invoked", zap.String("tool", name))
		return fmt.Sprintf("Error: unknown tool %q", name)
	}
	return h(ctx, args)
}

// Definitions describes the registered tools to the model gateway.
func Definitions() []llm.ToolSpec {
	prompt := func(desc string) map[string]any {
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{"type": "string", "description": desc},
			},
			"required": []string{"prompt"},
		}
	}
	return []llm.ToolSpec{
		{
			Name:        GenerateImage,
			Description: "Generate an image from a text prompt. Returns a markdown image link.",
			Parameters:  prompt("A detailed description of the image to generate."),
		},
		{
			Name:        WebSearch,
			Description: "Search the web for current information. Returns labeled results from multiple engines.",
			Parameters:  prompt("The search query."),
		},
	}
}

// PromptArg extracts the "prompt" field from a model-issued JSON argument
// blob, falling back to the raw string for direct invocations.
func PromptArg(args string) string {
	var parsed struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal([]byte(args), &parsed); err == nil && parsed.Prompt != "" {
		return parsed.Prompt
	}
	return args
}
