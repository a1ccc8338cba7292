package llm

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Intent is the routing decision for a fresh user message.
type Intent int

const (
	// IntentComplex routes through the full provider chain with tools.
	// It is also the fail-open default: a broken classifier must never
	// silently downgrade a message to the cheap path.
	IntentComplex Intent = iota
	IntentSimple
	IntentImage
)

func (i Intent) String() string {
	switch i {
	case IntentImage:
		return "IMAGE"
	case IntentSimple:
		return "SIMPLE"
	default:
		return "COMPLEX"
	}
}

const classifierPrompt = `Classify the user message into exactly one category.

IMAGE: the user asks to create, draw, render or generate a picture.
SIMPLE: a greeting, small talk, or a single-fact question answerable in one sentence.
COMPLEX: everything else.

Respond with exactly one word: IMAGE, SIMPLE or COMPLEX.

Message: `

// Classifier makes one deterministic low-cost call to route a message to
// a tool path or a model tier.
type Classifier struct {
	provider Provider
	logger   *zap.Logger
}

func NewClassifier(p Provider, logger *zap.Logger) *Classifier {
	return &Classifier{provider: p, logger: logger}
}

func (c *Classifier) Classify(ctx context.Context, message string) Intent {
	res, err := c.provider.Stream(ctx, Request{Prompt: classifierPrompt + message}, nil)
	if err != nil {
		c.logger.Warn("intent classification failed, defaulting to COMPLEX", zap.Error(err))
		return IntentComplex
	}

	switch strings.ToUpper(strings.TrimSpace(res.Text)) {
	case "IMAGE":
		return IntentImage
	case "SIMPLE":
		return IntentSimple
	case "COMPLEX":
		return IntentComplex
	default:
		c.logger.Warn("unparseable classifier output, defaulting to COMPLEX",
			zap.String("output", res.Text))
		return IntentComplex
	}
}

const titlePrompt = `Write a short title, at most six words, for a conversation that starts with the message below. Respond with the title only, no quotes.

`

// titleFallbackLen matches the naive first-message truncation used when
// title generation fails.
const titleFallbackLen = 40

// TitleGenerator summarizes a session's first user message into a short
// display title. It never fails: generation errors degrade to truncation.
type TitleGenerator struct {
	provider Provider
	logger   *zap.Logger
}

func NewTitleGenerator(p Provider, logger *zap.Logger) *TitleGenerator {
	return &TitleGenerator{provider: p, logger: logger}
}

func (t *TitleGenerator) Generate(ctx context.Context, message string) string {
	res, err := t.provider.Stream(ctx, Request{Prompt: titlePrompt + message}, nil)
	if err != nil {
		t.logger.Warn("title generation failed, truncating message", zap.Error(err))
		return FallbackTitle(message)
	}
	title := strings.Trim(strings.TrimSpace(res.Text), `"`)
	title = strings.ReplaceAll(title, "\n", " ")
	if title == "" {
		return FallbackTitle(message)
	}
	return title
}

// FallbackTitle truncates the first user message to a displayable title.
func FallbackTitle(message string) string {
	message = strings.TrimSpace(message)
	runes := []rune(message)
	if len(runes) <= titleFallbackLen {
		return message
	}
	return string(runes[:titleFallbackLen])
}
