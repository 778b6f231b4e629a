package repository

import (
	"context"

	"telegram-image-gen/internal/domain/model"
)

type UserRepository interface {
	Save(ctx context.Context, tx Tx, user *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	FindByChatID(ctx context.Context, tx Tx, chatID int64) (*model.User, error)

	// GetBalance reads the current credit balance.
	GetBalance(ctx context.Context, tx Tx, userID string) (int, error)
	// AdjustBalance adds delta to the balance. Callers are responsible for
	// clamping debits at zero before invoking it.
	AdjustBalance(ctx context.Context, tx Tx, userID string, delta int) error

	CountUsers(ctx context.Context, tx Tx) (int, error)
}
