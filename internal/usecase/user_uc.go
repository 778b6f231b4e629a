// File: internal/usecase/user_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telegram-image-gen/internal/domain"
	"telegram-image-gen/internal/domain/model"
	"telegram-image-gen/internal/domain/ports/repository"
)

var _ UserUseCase = (*userUC)(nil)

type UserUseCase interface {
	// Register creates the user for a chat or returns the existing one.
	Register(ctx context.Context, chatID int64, tier string) (*model.User, error)
	Get(ctx context.Context, chatID int64) (*model.User, error)

	// TopUp credits the account with the pack bought for packRUB.
	// Unknown pack prices are rejected.
	TopUp(ctx context.Context, chatID int64, packRUB int) (*model.User, error)
}

type userUC struct {
	users repository.UserRepository
}

func NewUserUseCase(users repository.UserRepository) *userUC {
	return &userUC{users: users}
}

func (u *userUC) Register(ctx context.Context, chatID int64, tier string) (*model.User, error) {
	if tier != model.TierStandard && tier != model.TierPro {
		tier = model.TierStandard
	}

	existing, err := u.users.FindByChatID(ctx, repository.NoTX, chatID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	now := time.Now()
	user := &model.User{
		ChatID:       chatID,
		ModelTier:    tier,
		RegisteredAt: now,
		LastActiveAt: now,
	}
	if err := u.users.Save(ctx, repository.NoTX, user); err != nil {
		return nil, fmt.Errorf("register user: %w", err)
	}
	return user, nil
}

func (u *userUC) Get(ctx context.Context, chatID int64) (*model.User, error) {
	return u.users.FindByChatID(ctx, repository.NoTX, chatID)
}

func (u *userUC) TopUp(ctx context.Context, chatID int64, packRUB int) (*model.User, error) {
	credits := model.CreditsForPack(packRUB)
	if credits == 0 {
		return nil, fmt.Errorf("%w: unknown pack %d", domain.ErrInvalidArgument, packRUB)
	}

	user, err := u.users.FindByChatID(ctx, repository.NoTX, chatID)
	if err != nil {
		return nil, err
	}
	if err := u.users.AdjustBalance(ctx, repository.NoTX, user.ID, credits); err != nil {
		return nil, fmt.Errorf("top up balance: %w", err)
	}
	user.BalanceCredits += credits
	return user, nil
}
