// Package llm is the model gateway: a uniform streaming-completion
// interface over an ordered chain of providers, plus the cheap auxiliary
// calls (intent classification, title generation) built on the same
// provider abstraction.
package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of model-facing history. A RoleAssistant message may
// carry the ToolCall it issued; a RoleTool message carries the tool result
// being fed back (ToolName set, Content is the result).
type Message struct {
	Role     string
	Content  string
	Images   []string
	ToolCall *ToolCall
	ToolName string
}

// ToolCall is a function-call directive issued by a model mid-stream.
type ToolCall struct {
	ID   string
	Name string
	Args string
}

// ToolSpec describes a callable tool to the provider.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is a fixed prompt plus history handed to a provider. Context
// (retrieval, web search) has already been folded into Prompt by the
// caller.
type Request struct {
	System  string
	History []Message
	Prompt  string
	Images  []string
	Tools   []ToolSpec

	// Light requests are routed through the cheap model chain and never
	// carry tools.
	Light bool
}

// Result is the terminal outcome of one provider call: accumulated text,
// or a function-call directive to execute and resume from.
type Result struct {
	Text     string
	ToolCall *ToolCall
}

// StreamFunc receives incremental text chunks as they arrive.
type StreamFunc func(chunk string)

// StatusFunc receives transient user-visible progress notes (fallback
// engaged, tool running).
type StatusFunc func(note string)

// ToolInvoker executes a named tool and returns its string result. Tool
// failures are encoded in the returned string, never as an error.
type ToolInvoker interface {
	Invoke(ctx context.Context, name, args string) string
}

// Provider is a single external completion service.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request, fn StreamFunc) (*Result, error)
}
