package repository

import "context"

// DebitMarkerRepository tracks "credits for this task were already debited"
// records. A marker exists from the moment of the debit until a refund
// against it succeeds, bounded by a retention TTL.
type DebitMarkerRepository interface {
	Set(ctx context.Context, vendorTaskID string) error
	Exists(ctx context.Context, vendorTaskID string) (bool, error)
	Delete(ctx context.Context, vendorTaskID string) error
}

// PendingMarkerRepository tracks tasks that were submitted but have not yet
// reported back; the fallback poller uses it to find overdue jobs.
type PendingMarkerRepository interface {
	Set(ctx context.Context, vendorTaskID string) error
	Clear(ctx context.Context, vendorTaskID string) error
	Exists(ctx context.Context, vendorTaskID string) (bool, error)
}

// FailureNoticeRepository deduplicates user-facing failure messages per task.
// MarkShown returns true only for the first caller.
type FailureNoticeRepository interface {
	MarkShown(ctx context.Context, vendorTaskID string) (bool, error)
}
