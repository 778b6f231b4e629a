package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-image-gen/internal/domain/model"
	"telegram-image-gen/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*userRepo)(nil)

type userRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *userRepo {
	return &userRepo{pool: pool}
}

func (r *userRepo) Save(ctx context.Context, tx repository.Tx, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.RegisteredAt.IsZero() {
		user.RegisteredAt = time.Now()
	}

	const q = `
INSERT INTO users (id, chat_id, model_tier, balance_credits, registered_at, last_active_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (chat_id) DO UPDATE SET
  model_tier = EXCLUDED.model_tier,
  balance_credits = EXCLUDED.balance_credits,
  last_active_at = EXCLUDED.last_active_at;`

	_, err := execSQL(ctx, r.pool, tx, q,
		user.ID, user.ChatID, user.Tier(), user.BalanceCredits, user.RegisteredAt, user.LastActiveAt)
	return err
}

const userColumns = `id, chat_id, model_tier, balance_credits, registered_at, last_active_at`

func (r *userRepo) scanUser(row interface{ Scan(...interface{}) error }) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.ChatID, &u.ModelTier, &u.BalanceCredits, &u.RegisteredAt, &u.LastActiveAt)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &u, nil
}

func (r *userRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+userColumns+` FROM users WHERE id = $1;`, id)
	if err != nil {
		return nil, err
	}
	return r.scanUser(row)
}

func (r *userRepo) FindByChatID(ctx context.Context, tx repository.Tx, chatID int64) (*model.User, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+userColumns+` FROM users WHERE chat_id = $1;`, chatID)
	if err != nil {
		return nil, err
	}
	return r.scanUser(row)
}

func (r *userRepo) GetBalance(ctx context.Context, tx repository.Tx, userID string) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT balance_credits FROM users WHERE id = $1;`, userID)
	if err != nil {
		return 0, err
	}
	var balance int
	if err := row.Scan(&balance); err != nil {
		return 0, translateNotFound(err)
	}
	return balance, nil
}

func (r *userRepo) AdjustBalance(ctx context.Context, tx repository.Tx, userID string, delta int) error {
	// GREATEST keeps the invariant even if two adjustments race.
	const q = `
UPDATE users SET balance_credits = GREATEST(0, balance_credits + $2) WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, tx, q, userID, delta)
	return err
}

func (r *userRepo) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM users;`)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
