// File: internal/infra/logging/logging.go
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"telegram-image-gen/internal/config"

	"github.com/rs/zerolog"
)

// New creates a zerolog logger configured from config.
// Supports "trace" | "debug" | "info" | "warn" | "error" levels
// and "json" | "console" formats. Sampling can be enabled to reduce noise in prod.
func New(cfg config.LogConfig, dev bool) *zerolog.Logger {
	level, _ := zerolog.ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	var base zerolog.Logger
	if strings.ToLower(cfg.Format) == "console" || dev {
		out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		base = zerolog.New(out).With().Timestamp().Logger()
	} else {
		base = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	if cfg.Sampling && !dev {
		// Simple sampling: keep first 100, then 1 every 100 thereafter.
		sampled := base.Sample(&zerolog.BasicSampler{N: 100})
		return &sampled
	}
	return &base
}

type ctxKey string

const (
	ctxCID    ctxKey = "cid"
	ctxTaskID ctxKey = "task_id"
	ctxChatID ctxKey = "chat_id"
)

// With attaches common context fields such as cid, task_id, chat_id.
func With(ctx context.Context, base *zerolog.Logger) *zerolog.Logger {
	l := base.With()
	if v := ctx.Value(ctxCID); v != nil {
		l = l.Str("cid", v.(string))
	}
	if v := ctx.Value(ctxTaskID); v != nil {
		l = l.Str("task_id", v.(string))
	}
	if v := ctx.Value(ctxChatID); v != nil {
		l = l.Int64("chat_id", v.(int64))
	}
	logger := l.Logger()
	return &logger
}

// TraceDuration logs start and end with elapsed duration at TRACE level.
// Usage: defer logging.TraceDuration(logger, "ReconcileUseCase.Handle")()
func TraceDuration(logger *zerolog.Logger, name string) func() {
	start := time.Now()
	logger.Trace().Str("method", name).Msg("start")
	return func() {
		elapsed := time.Since(start)
		logger.Trace().Str("method", name).Dur("duration", elapsed).Msg("finish")
	}
}

// Helpers to put IDs into context.
func WithCID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxCID, id)
}
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxTaskID, id)
}
func WithChatID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, ctxChatID, id)
}
