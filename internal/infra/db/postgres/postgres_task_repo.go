package postgres

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/oklog/ulid/v2"

	"telegram-image-gen/internal/domain/model"
	"telegram-image-gen/internal/domain/ports/repository"
)

var _ repository.TaskRepository = (*taskRepo)(nil)

type taskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *taskRepo {
	return &taskRepo{pool: pool}
}

func newTaskID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

func (r *taskRepo) Save(ctx context.Context, tx repository.Tx, task *model.Task) error {
	if task.ID == "" {
		task.ID = newTaskID()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	task.UpdatedAt = time.Now()

	const q = `
INSERT INTO tasks (id, user_id, prompt, vendor_task_id, status, delivered, credits_used, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  delivered = tasks.delivered OR EXCLUDED.delivered,
  credits_used = EXCLUDED.credits_used,
  updated_at = EXCLUDED.updated_at;`

	_, err := execSQL(ctx, r.pool, tx, q,
		task.ID, task.UserID, task.Prompt, task.VendorTaskID, task.Status,
		task.Delivered, task.CreditsUsed, task.CreatedAt, task.UpdatedAt)
	return err
}

func (r *taskRepo) FindByVendorTaskID(ctx context.Context, tx repository.Tx, vendorTaskID string) (*model.Task, error) {
	const q = `
SELECT id, user_id, prompt, vendor_task_id, status, delivered, credits_used, created_at, updated_at
FROM tasks WHERE vendor_task_id = $1;`

	row, err := pickRow(ctx, r.pool, tx, q, vendorTaskID)
	if err != nil {
		return nil, err
	}
	var t model.Task
	var statusStr string
	err = row.Scan(&t.ID, &t.UserID, &t.Prompt, &t.VendorTaskID, &statusStr,
		&t.Delivered, &t.CreditsUsed, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, translateNotFound(err)
	}
	t.Status = model.TaskStatus(statusStr)
	return &t, nil
}

func (r *taskRepo) UpdateStatus(ctx context.Context, tx repository.Tx, taskID string, status model.TaskStatus, creditsUsed int) error {
	const q = `
UPDATE tasks SET status = $2, credits_used = $3, updated_at = now() WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, tx, q, taskID, status, creditsUsed)
	return err
}

func (r *taskRepo) MarkDelivered(ctx context.Context, tx repository.Tx, taskID string) error {
	// delivered never reverts; the WHERE clause makes redoing it harmless.
	const q = `
UPDATE tasks SET delivered = TRUE, updated_at = now() WHERE id = $1 AND delivered = FALSE;`
	_, err := execSQL(ctx, r.pool, tx, q, taskID)
	return err
}

func (r *taskRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[string]int, error) {
	const q = `SELECT status, COUNT(*) FROM tasks GROUP BY status;`
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (r *taskRepo) TotalCreditsUsed(ctx context.Context, tx repository.Tx) (int64, error) {
	const q = `SELECT COALESCE(SUM(credits_used), 0) FROM tasks;`
	row, err := pickRow(ctx, r.pool, tx, q)
	if err != nil {
		return 0, err
	}
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}
