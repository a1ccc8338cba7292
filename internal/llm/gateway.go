package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Apology is the fixed assistant text persisted when every provider in the
// chain has failed. The transcript stays coherent; no error escapes to the
// connection loop.
const Apology = "**Error:** I couldn't process that request."

// outcome is the typed result of one provider attempt. Fallback is driven
// by consuming these, not by nested error handling.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeRateLimited
	outcomeFailed
)

// Gateway walks an ordered provider chain until one attempt succeeds.
// Rate-limited attempts are retried against the same provider with
// exponential backoff before the chain advances; any other failure moves
// straight to the next provider.
type Gateway struct {
	full   []Provider
	light  []Provider
	tools  ToolInvoker
	logger *zap.Logger

	retries   int
	baseDelay time.Duration
}

func NewGateway(full, light []Provider, tools ToolInvoker, logger *zap.Logger) *Gateway {
	if len(light) == 0 {
		light = full
	}
	return &Gateway{
		full:      full,
		light:     light,
		tools:     tools,
		logger:    logger,
		retries:   3,
		baseDelay: 2 * time.Second,
	}
}

// SetBackoff overrides the rate-limit retry policy. Tests shrink the base
// delay to keep backoff paths fast.
func (g *Gateway) SetBackoff(retries int, base time.Duration) {
	g.retries = retries
	g.baseDelay = base
}

// Complete runs the request against the chain, streaming chunks through
// onChunk and progress notes through onStatus. It always returns usable
// assistant text; total failure yields the apology string. An empty return
// means the context was canceled and the caller owns whatever partial
// output it accumulated.
func (g *Gateway) Complete(ctx context.Context, req Request, onChunk StreamFunc, onStatus StatusFunc) string {
	chain := g.full
	if req.Light {
		chain = g.light
	}

	for i, p := range chain {
		streamed := false
		fn := onChunk
		if fn != nil {
			fn = func(chunk string) {
				streamed = true
				onChunk(chunk)
			}
		}
		res, oc := g.attempt(ctx, p, req, fn)
		if oc == outcomeOK {
			if res.ToolCall != nil {
				if text, ok := g.resumeWithTool(ctx, p, req, res.ToolCall, onChunk, onStatus); ok {
					return text
				}
				// Resumption failed; the next provider replays the
				// original request.
			} else {
				return res.Text
			}
		}
		if ctx.Err() != nil {
			return ""
		}
		if i < len(chain)-1 && onStatus != nil {
			if streamed {
				// Text already reached the client from the failed attempt;
				// flag that the response is starting over.
				onStatus(fmt.Sprintf("%s was interrupted mid-response, restarting with %s...", p.Name(), chain[i+1].Name()))
			} else {
				onStatus(fmt.Sprintf("%s is unavailable, retrying with %s...", p.Name(), chain[i+1].Name()))
			}
		}
	}

	g.logger.Error("all providers exhausted", zap.Int("chain_len", len(chain)))
	return Apology
}

func (g *Gateway) attempt(ctx context.Context, p Provider, req Request, onChunk StreamFunc) (*Result, outcome) {
	delay := g.baseDelay
	for try := 1; try <= g.retries; try++ {
		res, err := p.Stream(ctx, req, onChunk)
		if err == nil {
			return res, outcomeOK
		}
		if errors.Is(err, ErrRateLimited) {
			if try == g.retries {
				g.logger.Warn("provider rate limited, retries exhausted",
					zap.String("provider", p.Name()), zap.Int("attempts", try))
				return nil, outcomeRateLimited
			}
			g.logger.Warn("provider rate limited, backing off",
				zap.String("provider", p.Name()), zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, outcomeFailed
			}
			delay *= 2
			continue
		}
		g.logger.Warn("provider attempt failed",
			zap.String("provider", p.Name()), zap.Error(err))
		return nil, outcomeFailed
	}
	return nil, outcomeFailed
}

// resumeWithTool executes the model-issued tool call and re-invokes the
// same provider with the result appended as a function-response turn.
// Single resumption: the follow-up call is offered no tools, so at most
// one tool runs per generation turn.
func (g *Gateway) resumeWithTool(ctx context.Context, p Provider, req Request, call *ToolCall, onChunk StreamFunc, onStatus StatusFunc) (string, bool) {
	if onStatus != nil {
		onStatus(fmt.Sprintf("Running %s...", call.Name))
	}
	g.logger.Info("executing tool call",
		zap.String("provider", p.Name()), zap.String("tool", call.Name))

	result := g.tools.Invoke(ctx, call.Name, call.Args)

	resumed := req
	resumed.History = append(append([]Message{}, req.History...),
		Message{Role: RoleUser, Content: req.Prompt, Images: req.Images},
		Message{Role: RoleAssistant, ToolCall: call},
		Message{Role: RoleTool, ToolName: call.Name, Content: result, ToolCall: call},
	)
	resumed.Prompt = ""
	resumed.Images = nil
	resumed.Tools = nil

	res, err := p.Stream(ctx, resumed, onChunk)
	if err != nil {
		g.logger.Warn("resumed stream failed",
			zap.String("provider", p.Name()), zap.Error(err))
		return "", false
	}
	if res.ToolCall != nil || res.Text == "" {
		// The model had nothing to add; show the raw tool output.
		if onChunk != nil {
			onChunk(result)
		}
		return result, true
	}
	return res.Text, true
}
