package repository

import (
	"context"

	"telegram-image-gen/internal/domain/model"
)

type TaskRepository interface {
	Save(ctx context.Context, tx Tx, task *model.Task) error
	FindByVendorTaskID(ctx context.Context, tx Tx, vendorTaskID string) (*model.Task, error)

	// UpdateStatus moves the task to status and records credits spent on it.
	UpdateStatus(ctx context.Context, tx Tx, taskID string, status model.TaskStatus, creditsUsed int) error
	// MarkDelivered flips the delivered flag. The flag never reverts.
	MarkDelivered(ctx context.Context, tx Tx, taskID string) error

	CountByStatus(ctx context.Context, tx Tx) (map[string]int, error)
	TotalCreditsUsed(ctx context.Context, tx Tx) (int64, error)
}
