package redis

import (
	"context"
	"encoding/json"
	"time"

	"telegram-image-gen/internal/domain"
	"telegram-image-gen/internal/domain/ports/repository"
	"telegram-image-gen/internal/infra/metrics"

	"github.com/go-redis/redis/v8"
)

const queueKey = "queue:generation"

var _ repository.GenerationQueue = (*GenerationQueue)(nil)

// GenerationQueue is the shared job queue: LPUSH on submission, blocking
// BRPOP in workers. Requests are JSON so any worker process can pick them up.
type GenerationQueue struct {
	cli RedisClient
}

func NewGenerationQueue(cli RedisClient) *GenerationQueue {
	return &GenerationQueue{cli: cli}
}

func (q *GenerationQueue) Enqueue(ctx context.Context, req *repository.GenerationRequest) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := q.cli.LPush(ctx, queueKey, b); err != nil {
		return err
	}
	q.reportDepth(ctx)
	return nil
}

func (q *GenerationQueue) Dequeue(ctx context.Context, timeout time.Duration) (*repository.GenerationRequest, error) {
	raw, err := q.cli.BRPop(ctx, timeout, queueKey)
	if err == redis.Nil {
		return nil, domain.ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}
	var req repository.GenerationRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, err
	}
	q.reportDepth(ctx)
	return &req, nil
}

func (q *GenerationQueue) reportDepth(ctx context.Context) {
	if n, err := q.cli.LLen(ctx, queueKey); err == nil {
		metrics.SetQueueDepth(n)
	}
}
