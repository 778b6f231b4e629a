package adapter

import "context"

// PromptModerator screens a prompt before any vendor quota is spent.
// Implementations return (false, nil) for acceptable prompts.
type PromptModerator interface {
	Flagged(ctx context.Context, prompt string) (bool, error)
}
