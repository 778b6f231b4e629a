// File: internal/infra/worker/generation_processor.go
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"telegram-image-gen/internal/domain"
	"telegram-image-gen/internal/domain/ports/adapter"
	"telegram-image-gen/internal/domain/ports/repository"
	"telegram-image-gen/internal/usecase"
)

const (
	dequeueTimeout  = 5 * time.Second
	fallbackTimeout = 5 * time.Minute
)

// GenerationProcessor pulls queued generation requests and runs them through
// the submission use case on the pool. When a fallback interval is
// configured, every submitted task gets a timer that polls the vendor in case
// its webhook never arrives.
type GenerationProcessor struct {
	queue        repository.GenerationQueue
	pending      repository.PendingMarkerRepository
	generator    usecase.GenerationUseCase
	reconciler   usecase.ReconcileUseCase
	gateway      adapter.VendorGateway
	pool         *Pool
	pollFallback time.Duration
	log          *zerolog.Logger
}

func NewGenerationProcessor(
	queue repository.GenerationQueue,
	pending repository.PendingMarkerRepository,
	generator usecase.GenerationUseCase,
	reconciler usecase.ReconcileUseCase,
	gateway adapter.VendorGateway,
	pool *Pool,
	pollFallback time.Duration,
	log *zerolog.Logger,
) *GenerationProcessor {
	return &GenerationProcessor{
		queue:        queue,
		pending:      pending,
		generator:    generator,
		reconciler:   reconciler,
		gateway:      gateway,
		pool:         pool,
		pollFallback: pollFallback,
		log:          log,
	}
}

// Run consumes the queue until ctx is cancelled. Blocking pops bound the
// shutdown latency to dequeueTimeout.
func (p *GenerationProcessor) Run(ctx context.Context) {
	p.log.Info().Dur("poll_fallback", p.pollFallback).Msg("generation processor started")
	for {
		if ctx.Err() != nil {
			p.log.Info().Msg("generation processor stopped")
			return
		}

		req, err := p.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if errors.Is(err, domain.ErrQueueEmpty) || errors.Is(err, context.Canceled) {
				continue
			}
			p.log.Error().Err(err).Msg("queue dequeue failed")
			time.Sleep(time.Second)
			continue
		}

		r := req
		if err := p.pool.Submit(func(ctx context.Context) error {
			return p.handle(ctx, r)
		}); err != nil {
			// Pool saturated. Put the request back so it is not lost.
			p.log.Warn().Err(err).Int64("chat_id", r.ChatID).Msg("pool full, requeueing")
			if qerr := p.queue.Enqueue(ctx, r); qerr != nil {
				p.log.Error().Err(qerr).Int64("chat_id", r.ChatID).Msg("requeue failed, request dropped")
			}
			time.Sleep(time.Second)
		}
	}
}

func (p *GenerationProcessor) handle(ctx context.Context, req *repository.GenerationRequest) error {
	vendorTaskID, err := p.generator.Process(ctx, req)
	if err != nil {
		return err
	}
	if p.pollFallback > 0 {
		go p.pollAfter(ctx, vendorTaskID)
	}
	return nil
}

// pollAfter waits for the webhook grace window and, if the task is still
// pending, fetches its state directly and feeds it through the reconciler.
// A webhook that raced us is harmless; the reconciler deduplicates.
func (p *GenerationProcessor) pollAfter(ctx context.Context, vendorTaskID string) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(p.pollFallback):
	}

	still, err := p.pending.Exists(ctx, vendorTaskID)
	if err != nil {
		p.log.Warn().Str("task_id", vendorTaskID).Err(err).Msg("pending check failed")
		return
	}
	if !still {
		return
	}

	p.log.Info().Str("task_id", vendorTaskID).Msg("no webhook yet, polling vendor")
	res, err := p.gateway.WaitUntilDone(ctx, vendorTaskID, fallbackTimeout)
	if err != nil {
		p.log.Error().Str("task_id", vendorTaskID).Err(err).Msg("fallback poll failed")
		return
	}

	p.reconciler.Reconcile(ctx, usecase.CallbackEvent{
		VendorTaskID: vendorTaskID,
		Success:      res.State == "success",
		ResultURLs:   res.ResultURLs,
		FailCode:     res.FailCode,
		FailMsg:      res.FailMsg,
	})
}
