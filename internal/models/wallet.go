package models

import "time"

// Wallet holds one tenant's prepaid balance. Created lazily on first touch,
// never deleted by normal operation. Balance never goes below zero; the
// conditional update in the ledger repository enforces that under concurrency.
type Wallet struct {
	ID                    uint      `gorm:"primaryKey" json:"-"`
	TenantID              string    `gorm:"size:64;uniqueIndex;not null" json:"tenant_id"`
	BalanceCents          int64     `gorm:"not null;default:0" json:"balance_cents"`
	Tier                  string    `gorm:"size:10;not null;default:'base'" json:"tier"`
	LifetimeSpentCents    int64     `gorm:"not null;default:0" json:"lifetime_spent_cents"`
	LifetimeToppedUpCents int64     `gorm:"not null;default:0" json:"lifetime_topped_up_cents"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}
