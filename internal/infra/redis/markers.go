package redis

import (
	"context"
	"time"

	"telegram-image-gen/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

const markerTTL = 24 * time.Hour

var (
	_ repository.DebitMarkerRepository   = (*DebitMarkers)(nil)
	_ repository.PendingMarkerRepository = (*PendingMarkers)(nil)
	_ repository.FailureNoticeRepository = (*FailureNotices)(nil)
)

// DebitMarkers persist "credits already debited" records per vendor task.
// The marker outlives the reconciler that set it, so a refund path in a
// different process can consult it after a crash.
type DebitMarkers struct {
	cli RedisClient
}

func NewDebitMarkers(cli RedisClient) *DebitMarkers {
	return &DebitMarkers{cli: cli}
}

func debitKey(vendorTaskID string) string { return "credits:debited:" + vendorTaskID }

func (m *DebitMarkers) Set(ctx context.Context, vendorTaskID string) error {
	return m.cli.Set(ctx, debitKey(vendorTaskID), "1", markerTTL)
}

func (m *DebitMarkers) Exists(ctx context.Context, vendorTaskID string) (bool, error) {
	_, err := m.cli.Get(ctx, debitKey(vendorTaskID))
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *DebitMarkers) Delete(ctx context.Context, vendorTaskID string) error {
	return m.cli.Del(ctx, debitKey(vendorTaskID))
}

// PendingMarkers flag submitted tasks that have not reported back yet.
type PendingMarkers struct {
	cli RedisClient
	ttl time.Duration
}

func NewPendingMarkers(cli RedisClient, ttl time.Duration) *PendingMarkers {
	if ttl <= 0 {
		ttl = markerTTL
	}
	return &PendingMarkers{cli: cli, ttl: ttl}
}

func pendingKey(vendorTaskID string) string { return "task:pending:" + vendorTaskID }

func (m *PendingMarkers) Set(ctx context.Context, vendorTaskID string) error {
	return m.cli.Set(ctx, pendingKey(vendorTaskID), "1", m.ttl)
}

func (m *PendingMarkers) Clear(ctx context.Context, vendorTaskID string) error {
	return m.cli.Del(ctx, pendingKey(vendorTaskID))
}

func (m *PendingMarkers) Exists(ctx context.Context, vendorTaskID string) (bool, error) {
	return m.cli.Exists(ctx, pendingKey(vendorTaskID))
}

// FailureNotices deduplicate the user-facing failure message for a task.
type FailureNotices struct {
	cli RedisClient
}

func NewFailureNotices(cli RedisClient) *FailureNotices {
	return &FailureNotices{cli: cli}
}

func failKey(vendorTaskID string) string { return "msg:fail:" + vendorTaskID }

// MarkShown returns true only for the first caller per task.
func (m *FailureNotices) MarkShown(ctx context.Context, vendorTaskID string) (bool, error) {
	return m.cli.SetNX(ctx, failKey(vendorTaskID), "1", markerTTL)
}
