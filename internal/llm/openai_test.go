package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func TestBuildMessagesBasicShape(t *testing.T) {
	msgs := buildMessages(Request{
		System: "be helpful",
		History: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
		},
		Prompt: "what next?",
	})

	require.Len(t, msgs, 4)
	require.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	require.Equal(t, llms.ChatMessageTypeHuman, msgs[1].Role)
	require.Equal(t, llms.ChatMessageTypeAI, msgs[2].Role)
	require.Equal(t, llms.ChatMessageTypeHuman, msgs[3].Role)
}

func TestBuildMessagesImagesAttachToPrompt(t *testing.T) {
	msgs := buildMessages(Request{
		Prompt: "describe this",
		Images: []string{"https://img.example/a.png"},
	})

	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Parts, 2)
	img, ok := msgs[0].Parts[1].(llms.ImageURLContent)
	require.True(t, ok)
	require.Equal(t, "https://img.example/a.png", img.URL)
}

func TestBuildMessagesToolExchange(t *testing.T) {
	call := &ToolCall{ID: "call_1", Name: "web_search", Args: `{"prompt":"q"}`}
	msgs := buildMessages(Request{
		History: []Message{
			{Role: RoleUser, Content: "question"},
			{Role: RoleAssistant, ToolCall: call},
			{Role: RoleTool, ToolName: "web_search", Content: "result", ToolCall: call},
		},
		// A resumed request: the exchange is the tail, no fresh prompt.
		Prompt: "",
	})

	require.Len(t, msgs, 3)
	require.Equal(t, llms.ChatMessageTypeAI, msgs[1].Role)
	issued, ok := msgs[1].Parts[0].(llms.ToolCall)
	require.True(t, ok)
	require.Equal(t, "call_1", issued.ID)

	require.Equal(t, llms.ChatMessageTypeTool, msgs[2].Role)
	response, ok := msgs[2].Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	require.Equal(t, "call_1", response.ToolCallID)
	require.Equal(t, "result", response.Content)
}

func TestIsRateLimit(t *testing.T) {
	require.True(t, isRateLimit(errors.New("API returned unexpected status code: 429")))
	require.True(t, isRateLimit(errors.New("Rate limit reached for requests")))
	require.False(t, isRateLimit(errors.New("connection refused")))
}
