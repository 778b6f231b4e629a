package repository

import (
	"context"
	"time"
)

// GenerationRequest is what the submission surface enqueues for job workers.
// Asset refs are source URLs the stager can fetch.
type GenerationRequest struct {
	ChatID      int64    `json:"chat_id"`
	Prompt      string   `json:"prompt"`
	AssetURLs   []string `json:"asset_urls,omitempty"`
	AspectRatio string   `json:"aspect_ratio,omitempty"`
}

// GenerationQueue is the shared work queue job workers pull from. Dequeue
// blocks up to timeout and returns domain.ErrQueueEmpty when nothing arrived.
type GenerationQueue interface {
	Enqueue(ctx context.Context, req *GenerationRequest) error
	Dequeue(ctx context.Context, timeout time.Duration) (*GenerationRequest, error)
}
