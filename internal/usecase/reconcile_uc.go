// File: internal/usecase/reconcile_uc.go
package usecase

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"

	"telegram-image-gen/internal/config"
	"telegram-image-gen/internal/domain"
	"telegram-image-gen/internal/domain/model"
	"telegram-image-gen/internal/domain/ports/adapter"
	"telegram-image-gen/internal/domain/ports/repository"
	"telegram-image-gen/internal/infra/db/postgres"
	"telegram-image-gen/internal/infra/logging"
	"telegram-image-gen/internal/infra/metrics"
	redisinfra "telegram-image-gen/internal/infra/redis"
)

// Compile-time check
var _ ReconcileUseCase = (*reconcileUC)(nil)

const (
	webhookLeaseTTL = 180 * time.Second
	storageRetries  = 3
)

// CallbackEvent is a normalized vendor completion report. The web handler
// builds one from the webhook payload; the fallback poller builds one from a
// status snapshot. Both feed the same reconciler.
type CallbackEvent struct {
	VendorTaskID string
	Success      bool
	ResultURLs   []string
	FailCode     string
	FailMsg      string
}

// ReconcileUseCase drives a reported task to its settled state: exactly one
// debit, exactly one delivery, credits and records consistent under duplicate
// and concurrent reports.
type ReconcileUseCase interface {
	// Reconcile never returns an error for conditions the vendor could
	// fix by retrying; its outcome is recorded in logs and metrics.
	// Duplicate and unknown reports are acknowledged as no-ops.
	Reconcile(ctx context.Context, ev CallbackEvent)
}

type reconcileUC struct {
	users   repository.UserRepository
	tasks   repository.TaskRepository
	locker  repository.Locker
	pending repository.PendingMarkerRepository
	notices repository.FailureNoticeRepository

	gateway  adapter.VendorGateway
	notifier adapter.ResultNotifier
	ledger   CreditLedgerUseCase

	artifactDir       string
	refundOnDLFailure bool

	log *zerolog.Logger
}

func NewReconcileUseCase(
	users repository.UserRepository,
	tasks repository.TaskRepository,
	locker repository.Locker,
	pending repository.PendingMarkerRepository,
	notices repository.FailureNoticeRepository,
	gateway adapter.VendorGateway,
	notifier adapter.ResultNotifier,
	ledger CreditLedgerUseCase,
	cfg *config.Config,
	log *zerolog.Logger,
) *reconcileUC {
	return &reconcileUC{
		users:             users,
		tasks:             tasks,
		locker:            locker,
		pending:           pending,
		notices:           notices,
		gateway:           gateway,
		notifier:          notifier,
		ledger:            ledger,
		artifactDir:       cfg.Staging.ArtifactDir,
		refundOnDLFailure: cfg.Ledger.RefundOnDownloadFailure,
		log:               log,
	}
}

func (u *reconcileUC) Reconcile(ctx context.Context, ev CallbackEvent) {
	ctx = logging.WithTaskID(ctx, ev.VendorTaskID)
	log := logging.With(ctx, u.log)

	// The task reported back, so the fallback poller no longer needs it.
	if err := u.pending.Clear(ctx, ev.VendorTaskID); err != nil {
		log.Warn().Err(err).Msg("pending marker clear failed")
	}

	// Single non-blocking lease attempt. A concurrent holder is already
	// reconciling this task; this delivery is redundant.
	lockKey := redisinfra.WebhookLockKey(ev.VendorTaskID)
	token, err := u.locker.TryLock(ctx, lockKey, webhookLeaseTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockNotAcquired) {
			log.Info().Msg("webhook skipped, lease held elsewhere")
			metrics.IncWebhook("lock_busy")
			return
		}
		log.Error().Err(err).Msg("webhook lease acquire failed")
		metrics.IncWebhook("failed")
		return
	}
	defer func() {
		if err := u.locker.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			log.Warn().Err(err).Msg("webhook lease release failed")
		}
	}()

	task, err := u.tasks.FindByVendorTaskID(ctx, repository.NoTX, ev.VendorTaskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Msg("webhook for unknown task")
			metrics.IncWebhook("task_missing")
			return
		}
		log.Error().Err(err).Msg("webhook task lookup failed")
		metrics.IncWebhook("failed")
		return
	}

	// Durable idempotency gate. The lease only narrows the race window;
	// this flag is what makes redelivery a no-op.
	if task.Delivered {
		log.Info().Msg("webhook duplicate, task already delivered")
		metrics.IncWebhook("duplicate")
		return
	}

	user, err := u.users.FindByID(ctx, repository.NoTX, task.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", task.UserID).Msg("webhook user lookup failed")
		metrics.IncWebhook("failed")
		return
	}

	if task.Status == model.TaskStatusQueued {
		if err := u.updateStatus(ctx, task.ID, model.TaskStatusProcessing, task.CreditsUsed); err != nil {
			log.Warn().Err(err).Msg("status transition to processing failed")
		}
	}

	if !ev.Success {
		u.reconcileFailure(ctx, log, task, user, ev)
		return
	}
	u.reconcileSuccess(ctx, log, task, user, ev)
}

func (u *reconcileUC) reconcileSuccess(ctx context.Context, log *zerolog.Logger, task *model.Task, user *model.User, ev CallbackEvent) {
	// Success with nothing to deliver settles the task without a charge.
	if len(ev.ResultURLs) == 0 {
		log.Error().Msg("vendor success with empty result urls")
		if err := u.updateStatus(ctx, task.ID, model.TaskStatusCompleted, 0); err != nil {
			log.Error().Err(err).Msg("status update failed")
		}
		u.markDelivered(ctx, log, task.ID)
		u.failureNoticeOnce(ctx, log, ev.VendorTaskID, user.ChatID,
			"The generation finished but produced no image. Please contact support.")
		metrics.IncWebhook("failed")
		return
	}

	cost := model.CreditsPerTier(user.Tier())
	if err := u.ledger.Debit(ctx, user.ID, task.ID, ev.VendorTaskID, cost); err != nil {
		// No delivery without a charge; leave the task untouched so a
		// redelivery can try again.
		log.Error().Err(err).Msg("debit failed, reconcile aborted")
		metrics.IncWebhook("failed")
		return
	}

	localPath, err := u.gateway.DownloadArtifact(ctx, ev.VendorTaskID, ev.ResultURLs[0], u.artifactDir)
	if err != nil {
		log.Error().Err(err).Msg("artifact download failed")
		u.markDelivered(ctx, log, task.ID)
		u.failureNoticeOnce(ctx, log, ev.VendorTaskID, user.ChatID,
			"Your image was generated but we could not deliver it. Please contact support.")
		if u.refundOnDLFailure {
			if rerr := u.ledger.Refund(ctx, user.ID, ev.VendorTaskID, cost, "download_failed"); rerr != nil {
				log.Error().Err(rerr).Msg("download failure refund failed")
			}
		}
		metrics.IncWebhook("failed")
		metrics.IncGenerationJob("failed")
		return
	}

	err = u.notifier.NotifyResult(ctx, adapter.ResultNotification{
		ChatID:    user.ChatID,
		TaskID:    ev.VendorTaskID,
		Prompt:    task.Prompt,
		RemoteURL: ev.ResultURLs[0],
		LocalPath: localPath,
	})
	if err != nil {
		// Delivered stays false so the fallback poller can retry the send.
		log.Error().Err(err).Msg("result delivery failed")
		metrics.IncWebhook("failed")
		return
	}

	u.markDelivered(ctx, log, task.ID)
	if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("artifact cleanup failed")
	}

	metrics.IncWebhook("delivered")
	metrics.IncGenerationJob("completed")
	log.Info().Int("credits", cost).Msg("task reconciled and delivered")
}

func (u *reconcileUC) reconcileFailure(ctx context.Context, log *zerolog.Logger, task *model.Task, user *model.User, ev CallbackEvent) {
	log.Info().Str("fail_code", ev.FailCode).Str("fail_msg", ev.FailMsg).Msg("vendor reported failure")

	u.failureNoticeOnce(ctx, log, ev.VendorTaskID, user.ChatID,
		"Generation failed on the provider side. You were not charged. Please try again.")

	if err := u.updateStatus(ctx, task.ID, model.TaskStatusFailed, task.CreditsUsed); err != nil {
		log.Error().Err(err).Msg("status update failed")
	}
	u.markDelivered(ctx, log, task.ID)

	metrics.IncWebhook("failed")
	metrics.IncGenerationJob("failed")
}

// failureNoticeOnce sends text to the user at most once per vendor task.
func (u *reconcileUC) failureNoticeOnce(ctx context.Context, log *zerolog.Logger, vendorTaskID string, chatID int64, text string) {
	first, err := u.notices.MarkShown(ctx, vendorTaskID)
	if err != nil {
		log.Warn().Err(err).Msg("failure notice dedup check failed")
		return
	}
	if !first {
		return
	}
	if err := u.notifier.NotifyFailure(ctx, chatID, text); err != nil {
		log.Warn().Err(err).Msg("failure notice not delivered")
	}
}

func (u *reconcileUC) updateStatus(ctx context.Context, taskID string, status model.TaskStatus, creditsUsed int) error {
	return postgres.ExecWithRetry(ctx, storageRetries, func(ctx context.Context) error {
		return u.tasks.UpdateStatus(ctx, repository.NoTX, taskID, status, creditsUsed)
	})
}

func (u *reconcileUC) markDelivered(ctx context.Context, log *zerolog.Logger, taskID string) {
	err := postgres.ExecWithRetry(ctx, storageRetries, func(ctx context.Context) error {
		return u.tasks.MarkDelivered(ctx, repository.NoTX, taskID)
	})
	if err != nil {
		log.Error().Err(err).Msg("delivered flag write failed")
	}
}
