package notify

import (
	"context"

	"telegram-image-gen/internal/domain/ports/adapter"
)

var _ adapter.ResultNotifier = (*NoopNotifier)(nil)

// NoopNotifier discards notifications. Used when no bot token is configured.
type NoopNotifier struct{}

func (NoopNotifier) NotifyResult(ctx context.Context, res adapter.ResultNotification) error {
	return nil
}

func (NoopNotifier) NotifyFailure(ctx context.Context, chatID int64, text string) error {
	return nil
}
