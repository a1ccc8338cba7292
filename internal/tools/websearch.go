package tools

import (
	"context"

	"github.com/parley-chat/parley/internal/search"
)

// WebSearchHandler wraps the search aggregator as a tool. Consensus never
// fails outright; total backend failure surfaces as its "unavailable"
// string, which satisfies the tool contract as-is.
func WebSearchHandler(agg *search.Aggregator) Handler {
	return func(ctx context.Context, args string) string {
		return agg.Consensus(ctx, PromptArg(args))
	}
}
