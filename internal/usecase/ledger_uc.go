// File: internal/usecase/ledger_uc.go
package usecase

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-image-gen/internal/domain"
	"telegram-image-gen/internal/domain/model"
	"telegram-image-gen/internal/domain/ports/repository"
	"telegram-image-gen/internal/infra/metrics"
)

// Compile-time check
var _ CreditLedgerUseCase = (*creditLedgerUC)(nil)

// CreditLedgerUseCase owns every credit movement. Debit happens exactly once
// per vendor task at completion; Refund only reverses a debit that actually
// happened.
type CreditLedgerUseCase interface {
	// Debit charges credits for a completed task and marks the task
	// completed in the same transaction. Calling it again for the same
	// vendor task is a no-op.
	Debit(ctx context.Context, userID, taskID, vendorTaskID string, credits int) error

	// Refund returns credits debited for vendorTaskID. When no debit was
	// recorded it returns domain.ErrNotDebited and moves no credits.
	Refund(ctx context.Context, userID, vendorTaskID string, credits int, reason string) error
}

type creditLedgerUC struct {
	tm      repository.TransactionManager
	users   repository.UserRepository
	tasks   repository.TaskRepository
	markers repository.DebitMarkerRepository
	log     *zerolog.Logger
}

func NewCreditLedgerUseCase(
	tm repository.TransactionManager,
	users repository.UserRepository,
	tasks repository.TaskRepository,
	markers repository.DebitMarkerRepository,
	log *zerolog.Logger,
) *creditLedgerUC {
	return &creditLedgerUC{tm: tm, users: users, tasks: tasks, markers: markers, log: log}
}

func (u *creditLedgerUC) Debit(ctx context.Context, userID, taskID, vendorTaskID string, credits int) error {
	if credits < 0 {
		return fmt.Errorf("%w: negative debit", domain.ErrInvalidArgument)
	}

	debited, err := u.markers.Exists(ctx, vendorTaskID)
	if err != nil {
		return fmt.Errorf("check debit marker: %w", err)
	}
	if debited {
		u.log.Debug().Str("vendor_task_id", vendorTaskID).Msg("debit skipped, marker present")
		return nil
	}

	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.users.AdjustBalance(ctx, tx, userID, -credits); err != nil {
			return err
		}
		return u.tasks.UpdateStatus(ctx, tx, taskID, model.TaskStatusCompleted, credits)
	})
	if err != nil {
		return fmt.Errorf("debit tx: %w", err)
	}

	// Marker written after commit; a crash in between can double-debit on
	// redelivery, a marker written before a failed commit would suppress
	// the debit entirely.
	if err := u.markers.Set(ctx, vendorTaskID); err != nil {
		u.log.Error().Str("vendor_task_id", vendorTaskID).Err(err).
			Msg("debit committed but marker write failed")
		return fmt.Errorf("set debit marker: %w", err)
	}

	metrics.AddCreditsDebited(credits)
	u.log.Info().Str("user_id", userID).Str("vendor_task_id", vendorTaskID).
		Int("credits", credits).Msg("credits debited")
	return nil
}

func (u *creditLedgerUC) Refund(ctx context.Context, userID, vendorTaskID string, credits int, reason string) error {
	if credits <= 0 {
		return fmt.Errorf("%w: non-positive refund", domain.ErrInvalidArgument)
	}

	debited, err := u.markers.Exists(ctx, vendorTaskID)
	if err != nil {
		return fmt.Errorf("check debit marker: %w", err)
	}
	if !debited {
		return domain.ErrNotDebited
	}

	if err := u.users.AdjustBalance(ctx, repository.NoTX, userID, credits); err != nil {
		return fmt.Errorf("refund balance: %w", err)
	}
	if err := u.markers.Delete(ctx, vendorTaskID); err != nil {
		// The refund already landed. Leaving the marker behind only blocks
		// a second refund, which is the safe direction.
		u.log.Warn().Str("vendor_task_id", vendorTaskID).Err(err).
			Msg("refund applied but marker delete failed")
	}

	metrics.AddCreditsRefunded(reason, credits)
	u.log.Info().Str("user_id", userID).Str("vendor_task_id", vendorTaskID).
		Int("credits", credits).Str("reason", reason).Msg("credits refunded")
	return nil
}
