package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound            = errors.New("entity not found")
	ErrAlreadyExists       = errors.New("entity already exists")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrLockNotAcquired     = errors.New("lock is held by another worker")
	ErrNotDebited          = errors.New("no debit recorded for this task")
	ErrRateLimited         = errors.New("too many requests")
	ErrPromptRejected      = errors.New("prompt rejected by moderation")
	ErrQueueEmpty          = errors.New("generation queue is empty")
	ErrReadDatabaseRow     = errors.New("failed to read database row")
	ErrInvalidExecContext  = errors.New("invalid transaction executor")

	// Asset staging errors
	ErrAssetTooLarge        = errors.New("asset exceeds the size limit")
	ErrUnsupportedAssetType = errors.New("asset type is not supported")
	ErrStorageFull          = errors.New("staging storage is full")
	ErrAssetFetchTimeout    = errors.New("asset fetch timed out")
)
