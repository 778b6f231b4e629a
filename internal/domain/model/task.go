package model

import "time"

type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task is one generation job tracked end-to-end. VendorTaskID is the vendor's
// correlation id; it is unique and never changes once assigned. Delivered
// flips false->true exactly once and never reverts.
type Task struct {
	ID           string
	UserID       string
	Prompt       string
	VendorTaskID string
	Status       TaskStatus
	Delivered    bool
	CreditsUsed  int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Terminal reports whether status can no longer move (only Delivered may
// still flip).
func (t *Task) Terminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}
