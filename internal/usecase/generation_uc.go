// File: internal/usecase/generation_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"telegram-image-gen/internal/config"
	"telegram-image-gen/internal/domain"
	"telegram-image-gen/internal/domain/model"
	"telegram-image-gen/internal/domain/ports/adapter"
	"telegram-image-gen/internal/domain/ports/repository"
	"telegram-image-gen/internal/infra/logging"
	"telegram-image-gen/internal/infra/metrics"
	redisinfra "telegram-image-gen/internal/infra/redis"
)

// Compile-time check
var _ GenerationUseCase = (*generationUC)(nil)

// submitLimiter throttles submissions per user inside a fixed window.
type submitLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// GenerationUseCase accepts generation requests and turns dequeued requests
// into vendor tasks.
type GenerationUseCase interface {
	// Submit validates a request (rate limit, balance, moderation) and
	// places it on the work queue. It has no side effects when validation
	// fails.
	Submit(ctx context.Context, chatID int64, prompt string, assetURLs []string) error

	// Process runs one dequeued request end to end up to the vendor create:
	// stage inputs, create the vendor task, persist it and mark it pending.
	// It returns the vendor task id for the fallback poller.
	Process(ctx context.Context, req *repository.GenerationRequest) (string, error)
}

type generationUC struct {
	users   repository.UserRepository
	tasks   repository.TaskRepository
	queue   repository.GenerationQueue
	pending repository.PendingMarkerRepository
	limiter submitLimiter

	gateway   adapter.VendorGateway
	stager    adapter.AssetStager
	notifier  adapter.ResultNotifier
	moderator adapter.PromptModerator // nil when moderation is disabled
	ledger    CreditLedgerUseCase

	submitLimit  int
	submitWindow time.Duration
	callbackURL  string

	log *zerolog.Logger
}

func NewGenerationUseCase(
	users repository.UserRepository,
	tasks repository.TaskRepository,
	queue repository.GenerationQueue,
	pending repository.PendingMarkerRepository,
	limiter submitLimiter,
	gateway adapter.VendorGateway,
	stager adapter.AssetStager,
	notifier adapter.ResultNotifier,
	moderator adapter.PromptModerator,
	ledger CreditLedgerUseCase,
	cfg *config.Config,
	log *zerolog.Logger,
) *generationUC {
	return &generationUC{
		users:        users,
		tasks:        tasks,
		queue:        queue,
		pending:      pending,
		limiter:      limiter,
		gateway:      gateway,
		stager:       stager,
		notifier:     notifier,
		moderator:    moderator,
		ledger:       ledger,
		submitLimit:  cfg.Staging.SubmitLimit,
		submitWindow: cfg.SubmitWindow(),
		callbackURL:  cfg.Web.PublicBaseURL + "/webhook/kie",
		log:          log,
	}
}

func (u *generationUC) Submit(ctx context.Context, chatID int64, prompt string, assetURLs []string) error {
	ctx = logging.WithChatID(ctx, chatID)
	log := logging.With(ctx, u.log)

	if prompt == "" {
		return fmt.Errorf("%w: empty prompt", domain.ErrInvalidArgument)
	}

	ok, err := u.limiter.Allow(ctx, redisinfra.SubmitKey(chatID), u.submitLimit, u.submitWindow)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !ok {
		metrics.IncRateLimitTriggered()
		return domain.ErrRateLimited
	}

	user, err := u.users.FindByChatID(ctx, repository.NoTX, chatID)
	if err != nil {
		return err
	}
	cost := model.CreditsPerTier(user.Tier())
	if user.BalanceCredits < cost {
		log.Info().Int("balance", user.BalanceCredits).Int("cost", cost).
			Msg("submission rejected, insufficient credits")
		return domain.ErrInsufficientCredits
	}

	if u.moderator != nil {
		flagged, err := u.moderator.Flagged(ctx, prompt)
		if err != nil {
			// Moderation outage must not block paying users.
			log.Warn().Err(err).Msg("moderation check failed, allowing prompt")
		} else if flagged {
			metrics.IncGenerationJob("rejected")
			return domain.ErrPromptRejected
		}
	}

	if err := u.queue.Enqueue(ctx, &repository.GenerationRequest{
		ChatID:    chatID,
		Prompt:    prompt,
		AssetURLs: assetURLs,
	}); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	log.Info().Int("assets", len(assetURLs)).Msg("generation request enqueued")
	return nil
}

func (u *generationUC) Process(ctx context.Context, req *repository.GenerationRequest) (string, error) {
	ctx = logging.WithChatID(ctx, req.ChatID)
	log := logging.With(ctx, u.log)

	user, err := u.users.FindByChatID(ctx, repository.NoTX, req.ChatID)
	if err != nil {
		return "", fmt.Errorf("resolve user: %w", err)
	}

	assets, err := u.stager.Stage(ctx, req.AssetURLs)
	if err != nil {
		u.notifyStagingFailure(ctx, req.ChatID, err)
		metrics.IncGenerationJob("failed")
		return "", fmt.Errorf("stage assets: %w", err)
	}

	imageURLs := make([]string, 0, len(assets))
	for _, a := range assets {
		imageURLs = append(imageURLs, a.PublicURL)
	}

	vendorTaskID, err := u.gateway.CreateTask(ctx, adapter.CreateTaskParams{
		Prompt:      req.Prompt,
		ImageURLs:   imageURLs,
		Tier:        user.Tier(),
		CallbackURL: u.callbackURL,
	})
	if err != nil {
		u.stager.Cleanup(assets)
		u.notifyVendorFailure(ctx, req.ChatID, err)
		metrics.IncGenerationJob("failed")
		return "", fmt.Errorf("vendor create: %w", err)
	}

	ctx = logging.WithTaskID(ctx, vendorTaskID)
	log = logging.With(ctx, u.log)

	task := &model.Task{
		UserID:       user.ID,
		Prompt:       req.Prompt,
		VendorTaskID: vendorTaskID,
		Status:       model.TaskStatusQueued,
	}
	if err := u.tasks.Save(ctx, repository.NoTX, task); err != nil {
		// The vendor job is already running and its webhook will find no
		// task row, so the result is lost. Refund is a no-op here unless a
		// debit somehow landed first.
		u.stager.Cleanup(assets)
		if rerr := u.ledger.Refund(ctx, user.ID, vendorTaskID, model.CreditsPerTier(user.Tier()), "persist_failed"); rerr != nil && !errors.Is(rerr, domain.ErrNotDebited) {
			log.Error().Err(rerr).Msg("refund after persist failure failed")
		}
		u.notifyVendorFailure(ctx, req.ChatID, err)
		metrics.IncGenerationJob("failed")
		return "", fmt.Errorf("persist task: %w", err)
	}

	if err := u.pending.Set(ctx, vendorTaskID); err != nil {
		// Non-fatal: the webhook path does not need the marker, only the
		// fallback poll does.
		log.Warn().Err(err).Msg("pending marker write failed")
	}

	log.Info().Msg("vendor task submitted")
	return vendorTaskID, nil
}

func (u *generationUC) notifyStagingFailure(ctx context.Context, chatID int64, err error) {
	var text string
	switch {
	case errors.Is(err, domain.ErrAssetTooLarge):
		text = "One of the attached images is larger than 20 MB. Please resize it and try again."
	case errors.Is(err, domain.ErrUnsupportedAssetType):
		text = "Only PNG, JPEG and WebP images are supported."
	case errors.Is(err, domain.ErrStorageFull):
		text = "We are out of temporary storage right now. Please try again in a few minutes."
	case errors.Is(err, domain.ErrAssetFetchTimeout):
		text = "Downloading your images took too long. Please try again."
	default:
		text = "Could not prepare your images. Please try again."
	}
	if nerr := u.notifier.NotifyFailure(ctx, chatID, text); nerr != nil {
		u.log.Warn().Int64("chat_id", chatID).Err(nerr).Msg("staging failure notice not delivered")
	}
}

func (u *generationUC) notifyVendorFailure(ctx context.Context, chatID int64, err error) {
	var text string
	switch adapter.VendorErrorKind(err) {
	case adapter.ErrKindRateLimited:
		text = "The generation service is overloaded. Please try again in a minute."
	case adapter.ErrKindBadRequest:
		text = "The generation service rejected this request. Try rephrasing your prompt."
	case adapter.ErrKindServerUnavailable, adapter.ErrKindTimeout:
		text = "The generation service is temporarily unavailable. Please try again later."
	default:
		text = "Something went wrong submitting your request. Please try again."
	}
	if nerr := u.notifier.NotifyFailure(ctx, chatID, text); nerr != nil {
		u.log.Warn().Int64("chat_id", chatID).Err(nerr).Msg("vendor failure notice not delivered")
	}
}
