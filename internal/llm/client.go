// Package llm provides LLM provider clients.
package llm

import (
	"context"
	"errors"
)

// ErrProviderUnavailable wraps any network, timeout, or protocol failure
// talking to the provider. The agent loop recovers from it locally (a
// fixed apology response) rather than propagating it to the caller.
var ErrProviderUnavailable = errors.New("llm provider unavailable")

// Client is the interface the agent loop drives. Any chat-completion
// backend able to turn a system prompt plus conversation text into a
// completion satisfies it.
type Client interface {
	// Generate returns the model's completion for the given prompt.
	// Failures to reach the provider wrap [ErrProviderUnavailable].
	Generate(ctx context.Context, system, prompt string) (string, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
