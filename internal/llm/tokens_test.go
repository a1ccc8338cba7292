package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrimHistoryDropsOldestFirst(t *testing.T) {
	byLen := func(s string) int { return len(s) }

	history := []Message{
		{Role: RoleUser, Content: "aaaa"},      // 4
		{Role: RoleAssistant, Content: "bbb"},  // 3
		{Role: RoleUser, Content: "cc"},        // 2
		{Role: RoleAssistant, Content: "dddd"}, // 4
	}

	got := TrimHistory(history, 9, byLen)
	require.Len(t, got, 3)
	require.Equal(t, "bbb", got[0].Content, "the oldest message goes first")

	// A generous budget trims nothing.
	require.Len(t, TrimHistory(history, 100, byLen), 4)

	// A budget smaller than any single message empties the window.
	require.Empty(t, TrimHistory(history, 1, byLen))
}

func TestTrimHistoryEmptyInput(t *testing.T) {
	require.Empty(t, TrimHistory(nil, 10, nil))
}
