// Package ledger defines the tenant wallet store: the sole owner of balance
// mutations. Every mutation is idempotent under its key and appends exactly
// one immutable transaction row atomically with the balance write.
package ledger

import "oneclaw/internal/models"

type CreditParams struct {
	TenantID       string
	AmountCents    int64
	IdempotencyKey string
	Source         string
	SourceID       string
	Description    string
}

type DebitParams struct {
	TenantID       string
	AmountCents    int64
	IdempotencyKey string
	SourceID       string
	Description    string
}

// AdjustParams applies a signed manual correction. Negative adjustments are
// still bounded by the non-negative balance invariant.
type AdjustParams struct {
	TenantID       string
	AmountCents    int64
	IdempotencyKey string
	Description    string
}

// Store is the ledger contract. Implementations must guarantee:
//   - replaying an idempotency key returns the stored transaction unchanged
//   - a debit never drives the balance below zero, even under concurrency
//   - the balance write and the transaction append are one atomic unit
//   - balance_after snapshots follow commit order for a wallet
type Store interface {
	// GetWallet returns the tenant's wallet, creating it (balance 0, tier
	// base) on first touch.
	GetWallet(tenantID string) (*models.Wallet, error)
	Credit(p CreditParams) (*models.Transaction, error)
	Debit(p DebitParams) (*models.Transaction, error)
	Adjust(p AdjustParams) (*models.Transaction, error)
	SetTier(tenantID, tier string) error
	Transactions(tenantID string, limit, offset int) ([]models.Transaction, error)
}
