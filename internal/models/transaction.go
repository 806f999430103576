package models

import "time"

// Transaction is one committed ledger mutation. Rows are append-only and never
// updated after creation. AmountCents is signed: credits positive, debits
// negative. BalanceAfterCents snapshots the wallet balance right after this
// mutation committed, so history can be read without replaying the log.
//
// IdempotencyKey is unique; re-submitting an operation with a key that already
// exists returns the stored row instead of applying the mutation again.
type Transaction struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	WalletID          uint      `gorm:"not null;index" json:"-"`
	TenantID          string    `gorm:"size:64;not null;index:idx_transactions_tenant_created,priority:1" json:"tenant_id"`
	Type              string    `gorm:"size:16;not null" json:"type"` // CREDIT, DEBIT, ADJUSTMENT
	AmountCents       int64     `gorm:"not null" json:"amount_cents"`
	BalanceAfterCents int64     `gorm:"not null" json:"balance_after_cents"`
	Source            string    `gorm:"size:32;not null" json:"source"`
	SourceID          string    `gorm:"size:191" json:"source_id,omitempty"`
	IdempotencyKey    string    `gorm:"size:191;uniqueIndex;not null" json:"idempotency_key"`
	Description       string    `gorm:"size:255" json:"description,omitempty"`
	CreatedAt         time.Time `gorm:"index:idx_transactions_tenant_created,priority:2" json:"created_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}
