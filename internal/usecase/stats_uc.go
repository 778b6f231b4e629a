// File: internal/usecase/stats_uc.go
package usecase

import (
	"context"

	"telegram-image-gen/internal/domain/model"
	"telegram-image-gen/internal/domain/ports/repository"
)

var _ StatsUseCase = (*statsUC)(nil)

type Stats struct {
	Users         int            `json:"users"`
	TasksByStatus map[string]int `json:"tasks_by_status"`
	CreditsSpent  int64          `json:"credits_spent"`
	PackPrices    map[int]int    `json:"pack_prices"`
}

type StatsUseCase interface {
	Collect(ctx context.Context) (*Stats, error)
}

type statsUC struct {
	users repository.UserRepository
	tasks repository.TaskRepository
}

func NewStatsUseCase(users repository.UserRepository, tasks repository.TaskRepository) *statsUC {
	return &statsUC{users: users, tasks: tasks}
}

func (u *statsUC) Collect(ctx context.Context) (*Stats, error) {
	users, err := u.users.CountUsers(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	byStatus, err := u.tasks.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	credits, err := u.tasks.TotalCreditsUsed(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Users:         users,
		TasksByStatus: byStatus,
		CreditsSpent:  credits,
		PackPrices:    model.PackCredits,
	}, nil
}
