package ledger

import (
	"errors"
	"fmt"
)

// InsufficientBalanceError rejects a debit that would drive the balance
// negative. It is a business-rule rejection, not an infrastructure fault, and
// carries both amounts so callers can tell the tenant what is missing.
type InsufficientBalanceError struct {
	TenantID       string
	RequestedCents int64
	AvailableCents int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for tenant %s: requested %d cents, available %d cents",
		e.TenantID, e.RequestedCents, e.AvailableCents)
}

// ErrStorageUnavailable wraps infrastructure faults from the backing store.
// Safe to retry with backoff; must never be read as insufficient balance.
var ErrStorageUnavailable = errors.New("ledger storage unavailable")

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrEmptyKey      = errors.New("idempotency key required")
	ErrUnknownTier   = errors.New("unknown wallet tier")
)
