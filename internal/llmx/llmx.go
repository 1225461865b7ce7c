// Package llmx wraps the LLM providers behind a single chat-completion
// interface. The scorer and component selector run on Gemini, the
// synthesizer and component generator on OpenAI, and each side falls back
// to the other when its provider is unavailable.
package llmx

import (
	"context"
	"errors"

	"newsdesk/internal/logger"
)

// ErrSafetyBlocked is returned when the provider refused the prompt with a
// safety finish reason. Callers must not retry the same prompt.
var ErrSafetyBlocked = errors.New("response blocked by provider safety filter")

// ErrUnparsable is returned when a model reply cannot be recovered into
// valid JSON even after salvage.
var ErrUnparsable = errors.New("model reply is not parsable JSON")

// Chat is a minimal chat-completion client.
type Chat interface {
	// Complete sends a single user prompt and returns the model's text reply.
	Complete(ctx context.Context, prompt string) (string, error)
	// Name identifies the provider for logs and counters.
	Name() string
}

// Fallback chains two providers: when the primary fails for any reason
// except a safety block, the secondary is tried with the same prompt.
type Fallback struct {
	Primary   Chat
	Secondary Chat
}

// NewFallback builds a fallback chain. Secondary may be nil.
func NewFallback(primary, secondary Chat) *Fallback {
	return &Fallback{Primary: primary, Secondary: secondary}
}

// Complete implements Chat.
func (f *Fallback) Complete(ctx context.Context, prompt string) (string, error) {
	reply, err := f.Primary.Complete(ctx, prompt)
	if err == nil {
		return reply, nil
	}
	if errors.Is(err, ErrSafetyBlocked) || f.Secondary == nil {
		return "", err
	}
	logger.Warn("llm provider failed, falling back",
		"primary", f.Primary.Name(), "secondary", f.Secondary.Name(), "cause", err.Error())
	reply, fbErr := f.Secondary.Complete(ctx, prompt)
	if fbErr != nil {
		return "", errors.Join(err, fbErr)
	}
	return reply, nil
}

// Name implements Chat.
func (f *Fallback) Name() string {
	if f.Secondary == nil {
		return f.Primary.Name()
	}
	return f.Primary.Name() + "+" + f.Secondary.Name()
}
