package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// TokenCount counts BPE tokens with cl100k_base. When the encoding cannot
// be loaded (offline start), it approximates at four bytes per token.
func TokenCount(text string) int {
	encOnce.Do(func() {
		if e, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE); err == nil {
			enc = e
		}
	})
	if enc == nil {
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// TrimHistory drops the oldest messages until the window fits the token
// budget. count defaults to TokenCount.
func TrimHistory(history []Message, budget int, count func(string) int) []Message {
	if count == nil {
		count = TokenCount
	}
	total := 0
	for _, m := range history {
		total += count(m.Content)
	}
	i := 0
	for i < len(history) && total > budget {
		total -= count(history[i].Content)
		i++
	}
	return history[i:]
}
