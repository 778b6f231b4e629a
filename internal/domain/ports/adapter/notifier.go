package adapter

import "context"

// ResultNotification carries everything the chat layer needs to present a
// finished generation: the remote URL, the downloaded artifact and the
// presentation variant ("edit" keeps the follow-up menu, "create" does not).
type ResultNotification struct {
	ChatID    int64
	TaskID    string
	Prompt    string
	RemoteURL string
	LocalPath string
	Variant   string
}

// ResultNotifier is the outbound notification collaborator. Implementations
// own message formatting and chat-transport specifics.
type ResultNotifier interface {
	NotifyResult(ctx context.Context, n ResultNotification) error
	NotifyFailure(ctx context.Context, chatID int64, text string) error
}
