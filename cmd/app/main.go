// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"telegram-image-gen/internal/config"
	"telegram-image-gen/internal/domain/ports/adapter"
	pg "telegram-image-gen/internal/infra/db/postgres"
	"telegram-image-gen/internal/infra/logging"
	"telegram-image-gen/internal/infra/metrics"
	"telegram-image-gen/internal/infra/moderation"
	"telegram-image-gen/internal/infra/notify"
	red "telegram-image-gen/internal/infra/redis"
	"telegram-image-gen/internal/infra/staging"
	"telegram-image-gen/internal/infra/vendorapi"
	"telegram-image-gen/internal/infra/vendorapi/freepik"
	"telegram-image-gen/internal/infra/vendorapi/kie"
	"telegram-image-gen/internal/infra/web"
	"telegram-image-gen/internal/infra/worker"
	"telegram-image-gen/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, relaxed checks)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("dev mode enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()
	txManager := pg.NewTxManager(pool)
	taskRepo := pg.NewTaskRepo(pool)
	userRepo := pg.NewUserRepo(pool)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect failed")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)
	debitMarkers := red.NewDebitMarkers(redisClient)
	pendingMarkers := red.NewPendingMarkers(redisClient, 0)
	failureNotices := red.NewFailureNotices(redisClient)
	rateLimiter := red.NewRateLimiter(redisClient)
	queue := red.NewGenerationQueue(redisClient)

	// ---- Vendor ----
	pacer := vendor.NewPacer(cfg.Vendor.RatePerSecond)
	var gateway adapter.VendorGateway
	switch {
	case cfg.Vendor.APIKey != "":
		gateway, err = kie.NewClient(&cfg.Vendor, pacer, logger)
	case cfg.Freepik.APIKey != "":
		gateway, err = freepik.NewClient(&cfg.Freepik, logger)
	default:
		logger.Fatal().Msg("no vendor configured: set vendor.api_key or freepik.api_key")
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("vendor client init failed")
	}

	// ---- Staging ----
	stager, err := staging.NewStager(&cfg.Staging, cfg.Web.PublicBaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("stager init failed")
	}

	// ---- Notifier ----
	var notifier adapter.ResultNotifier
	if cfg.Bot.Token != "" {
		notifier, err = notify.NewTelegramNotifier(cfg.Bot.Token, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram notifier init failed")
		}
	} else {
		logger.Warn().Msg("bot.token not set, notifications disabled")
		notifier = notify.NoopNotifier{}
	}

	// ---- Moderation ----
	var moderator adapter.PromptModerator
	if cfg.Moderation.Enabled && cfg.Moderation.OpenAIKey != "" {
		moderator = moderation.NewOpenAIModerator(cfg.Moderation.OpenAIKey, logger)
	}

	// ---- Use cases ----
	ledgerUC := usecase.NewCreditLedgerUseCase(txManager, userRepo, taskRepo, debitMarkers, logger)
	generationUC := usecase.NewGenerationUseCase(
		userRepo, taskRepo, queue, pendingMarkers, rateLimiter,
		gateway, stager, notifier, moderator, ledgerUC, cfg, logger)
	reconcileUC := usecase.NewReconcileUseCase(
		userRepo, taskRepo, locker, pendingMarkers, failureNotices,
		gateway, notifier, ledgerUC, cfg, logger)
	userUC := usecase.NewUserUseCase(userRepo)
	statsUC := usecase.NewStatsUseCase(userRepo, taskRepo)

	// ---- Workers ----
	pool2 := worker.NewPool(cfg.Worker.Count, logger)
	pool2.Start(ctx)
	defer pool2.Stop()

	processor := worker.NewGenerationProcessor(
		queue, pendingMarkers, generationUC, reconcileUC, gateway,
		pool2, cfg.Worker.PollFallback, logger)
	go processor.Run(ctx)

	sweeper := worker.NewStagingSweeper(cfg.Staging.Dir, logger)
	go sweeper.Run(ctx)

	// ---- HTTP ----
	auth := web.NewAuthManager(cfg.Web.AdminToken, 0)
	server := web.NewServer(reconcileUC, generationUC, userUC, statsUC, auth,
		cfg.Web.AdminToken, cfg.Staging.Dir, logger)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Web.Port)
		logger.Info().Str("addr", addr).Msg("http server listening")
		if err := server.Run(ctx, addr); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()
}
