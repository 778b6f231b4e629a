package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a failed vendor call after retries are exhausted.
type ErrorKind string

const (
	ErrKindRateLimited       ErrorKind = "rate_limited"
	ErrKindBadRequest        ErrorKind = "bad_request"
	ErrKindServerUnavailable ErrorKind = "server_unavailable"
	ErrKindTimeout           ErrorKind = "timeout"
	ErrKindUnknown           ErrorKind = "unknown"
)

// VendorError is the typed error surfaced by a VendorGateway.
type VendorError struct {
	Kind ErrorKind
	Msg  string
}

func (e *VendorError) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func NewVendorError(kind ErrorKind, msg string) *VendorError {
	return &VendorError{Kind: kind, Msg: msg}
}

// VendorErrorKind extracts the kind from err, or ErrKindUnknown when err is
// not a VendorError.
func VendorErrorKind(err error) ErrorKind {
	var ve *VendorError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return ErrKindUnknown
}

// CreateTaskParams describe one generation request to the vendor.
type CreateTaskParams struct {
	Prompt       string
	ImageURLs    []string // staged input assets, at most 5
	OutputFormat string
	ImageSize    string
	Tier         string // selects the vendor model identifier
	CallbackURL  string
}

// TaskResult is a vendor status snapshot. State is terminal when it equals
// "success" or "fail".
type TaskResult struct {
	State      string
	ResultURLs []string
	FailCode   string
	FailMsg    string
}

func (r *TaskResult) Terminal() bool {
	return r.State == "success" || r.State == "fail"
}

// VendorGateway is the port for the asynchronous image-generation vendor.
// CreateTask returns the vendor's correlation id; completion normally arrives
// via webhook, WaitUntilDone is the fallback poll path only.
type VendorGateway interface {
	CreateTask(ctx context.Context, p CreateTaskParams) (vendorTaskID string, err error)
	GetStatus(ctx context.Context, vendorTaskID string) (*TaskResult, error)
	WaitUntilDone(ctx context.Context, vendorTaskID string, timeout time.Duration) (*TaskResult, error)

	// DownloadArtifact fetches a result URL into dir and returns the local path.
	DownloadArtifact(ctx context.Context, vendorTaskID, url, dir string) (string, error)
}
