package model

import "time"

// User is the owner of tasks and the credit balance they are charged against.
// BalanceCredits never goes negative; debits clamp at zero.
type User struct {
	ID             string
	ChatID         int64
	ModelTier      string // "standard" | "pro"
	BalanceCredits int
	RegisteredAt   time.Time
	LastActiveAt   time.Time
}

func (u *User) Tier() string {
	if u.ModelTier == TierPro {
		return TierPro
	}
	return TierStandard
}
