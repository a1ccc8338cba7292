// Package search aggregates independent web-search backends. Each backend
// fails on its own; the aggregator returns labeled partial results and only
// reports "unavailable" when every backend failed.
package search

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Provider is one search backend. The string result is already formatted
// for prompt injection.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) (string, error)
}

// Unavailable is returned when no backend produced results.
const Unavailable = "Web search unavailable."

type Aggregator struct {
	providers []Provider
	logger    *zap.Logger
}

func NewAggregator(logger *zap.Logger, providers ...Provider) *Aggregator {
	return &Aggregator{providers: providers, logger: logger}
}

// Consensus queries all backends concurrently and concatenates their
// labeled outputs. A failed backend contributes its error text; this never
// returns an error.
func (a *Aggregator) Consensus(ctx context.Context, query string) string {
	if len(a.providers) == 0 {
		return Unavailable
	}

	sections := make([]string, len(a.providers))
	failed := make([]bool, len(a.providers))

	g, ctx := errgroup.WithContext(ctx)
	for i, p := range a.providers {
		g.Go(func() error {
			out, err := p.Search(ctx, query)
			if err != nil {
				a.logger.Warn("search backend failed",
					zap.String("backend", p.Name()), zap.Error(err))
				sections[i] = fmt.Sprintf("### %s\n%s error: %v",
					strings.ToUpper(p.Name()), p.Name(), err)
				failed[i] = true
				return nil
			}
			sections[i] = fmt.Sprintf("### %s\n%s", strings.ToUpper(p.Name()), out)
			return nil
		})
	}
	_ = g.Wait()

	allFailed := true
	for _, f := range failed {
		allFailed = allFailed && f
	}
	if allFailed {
		return Unavailable
	}
	return strings.Join(sections, "\n\n")
}
