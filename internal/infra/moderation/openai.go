// File: internal/infra/moderation/openai.go
package moderation

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog"

	"telegram-image-gen/internal/domain/ports/adapter"
)

var _ adapter.PromptModerator = (*OpenAIModerator)(nil)

// OpenAIModerator screens prompts before they are spent on a vendor call.
type OpenAIModerator struct {
	client openai.Client
	log    *zerolog.Logger
}

func NewOpenAIModerator(apiKey string, log *zerolog.Logger) *OpenAIModerator {
	return &OpenAIModerator{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		log:    log,
	}
}

func (m *OpenAIModerator) Flagged(ctx context.Context, prompt string) (bool, error) {
	resp, err := m.client.Moderations.New(ctx, openai.ModerationNewParams{
		Input: openai.ModerationNewParamsInputUnion{
			OfString: openai.String(prompt),
		},
	})
	if err != nil {
		return false, fmt.Errorf("moderation call: %w", err)
	}
	if len(resp.Results) == 0 {
		return false, nil
	}

	flagged := resp.Results[0].Flagged
	if flagged {
		m.log.Info().Msg("prompt flagged by moderation")
	}
	return flagged, nil
}
