// Package metering runs the charge-execute-refund saga: price the request,
// debit the wallet, invoke the workflow node, and compensate with a credit
// when execution fails. Charging before executing means a tenant can never
// consume more than they can pay for; the cost is that failed executions need
// a refund, and an unrefundable failure is the one loud error in the system.
package metering

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"oneclaw/internal/domain"
	"oneclaw/internal/executor"
	"oneclaw/internal/ledger"
	"oneclaw/internal/models"
	"oneclaw/internal/pricing"
)

type RunRequest struct {
	TenantID  string
	UnitID    string
	Quantity  int64
	RequestID string // caller-unique per logical request, stable across retries
	RunID     string
	Input     json.RawMessage
}

type RunResult struct {
	Status  string
	Priced  *pricing.PricedOperation
	Charge  *models.Transaction
	Refund  *models.Transaction
	Receipt *executor.Receipt
	// BalanceCents is the wallet balance after the saga settled.
	BalanceCents int64
}

// ExecutionFailedError: the workflow failed but the charge was refunded.
type ExecutionFailedError struct {
	RunID string
	Err   error
}

func (e *ExecutionFailedError) Error() string {
	return fmt.Sprintf("workflow run %s failed (charge refunded): %v", e.RunID, e.Err)
}

func (e *ExecutionFailedError) Unwrap() error { return e.Err }

// RefundFailedError: the workflow failed AND the compensating credit could not
// be applied. Money was taken for work that did not happen; this must be
// alerted and reconciled, never swallowed.
type RefundFailedError struct {
	TenantID    string
	ChargeKey   string
	AmountCents int64
	ExecErr     error
	RefundErr   error
}

func (e *RefundFailedError) Error() string {
	return fmt.Sprintf("refund failed for tenant %s (key=%s, amount=%d cents): exec=%v refund=%v",
		e.TenantID, e.ChargeKey, e.AmountCents, e.ExecErr, e.RefundErr)
}

type Orchestrator struct {
	catalog *pricing.Catalog
	store   ledger.Store
	exec    executor.Client
	timeout time.Duration
}

func NewOrchestrator(catalog *pricing.Catalog, store ledger.Store, exec executor.Client, timeout time.Duration) *Orchestrator {
	return &Orchestrator{catalog: catalog, store: store, exec: exec, timeout: timeout}
}

// ChargeKey derives the debit idempotency key for a logical request. Retries
// of the same request produce the same key; distinct requests never collide
// as long as RequestID is caller-unique.
func ChargeKey(tenantID, unitID, requestID string) string {
	return fmt.Sprintf("charge_%s_%s_%s", tenantID, unitID, requestID)
}

// RefundKey derives the refund credit key from the charge key, so a retried
// refund attempt is itself idempotent.
func RefundKey(chargeKey string) string {
	return chargeKey + "_refund"
}

// Run drives one request through PRICED -> CHARGED -> EXECUTING and settles
// in SUCCEEDED, REFUNDED, or REFUND_FAILED. Pricing and balance errors return
// before the executor is ever contacted.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	wallet, err := o.store.GetWallet(req.TenantID)
	if err != nil {
		return nil, err
	}

	priced, err := o.catalog.Calculate(req.UnitID, req.Quantity, wallet.Tier)
	if err != nil {
		return nil, err
	}

	chargeKey := ChargeKey(req.TenantID, req.UnitID, req.RequestID)
	var charge *models.Transaction
	if priced.FinalPriceCents > 0 {
		charge, err = o.store.Debit(ledger.DebitParams{
			TenantID:       req.TenantID,
			AmountCents:    priced.FinalPriceCents,
			IdempotencyKey: chargeKey,
			SourceID:       req.RunID,
			Description:    fmt.Sprintf("%s x%d", req.UnitID, req.Quantity),
		})
		if err != nil {
			return nil, err
		}
	}

	execCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	receipt, execErr := o.exec.Execute(execCtx, executor.Run{
		RunID:      req.RunID,
		WorkflowID: req.UnitID,
		Inputs:     req.Input,
	})
	if execErr == nil {
		result := &RunResult{
			Status:  domain.RunStatusSucceeded,
			Priced:  priced,
			Charge:  charge,
			Receipt: receipt,
		}
		result.BalanceCents = balanceAfter(charge, wallet.BalanceCents)
		return result, nil
	}

	// executor failure or timeout: unknown outcome defaults to refunding
	if charge == nil {
		return &RunResult{
			Status:       domain.RunStatusRefunded,
			Priced:       priced,
			Receipt:      receipt,
			BalanceCents: wallet.BalanceCents,
		}, &ExecutionFailedError{RunID: req.RunID, Err: execErr}
	}

	refund, refundErr := o.store.Credit(ledger.CreditParams{
		TenantID:       req.TenantID,
		AmountCents:    priced.FinalPriceCents,
		IdempotencyKey: RefundKey(chargeKey),
		Source:         domain.SourceRefund,
		SourceID:       fmt.Sprintf("%d", charge.ID),
		Description:    fmt.Sprintf("refund %s x%d", req.UnitID, req.Quantity),
	})
	if refundErr != nil {
		rfErr := &RefundFailedError{
			TenantID:    req.TenantID,
			ChargeKey:   chargeKey,
			AmountCents: priced.FinalPriceCents,
			ExecErr:     execErr,
			RefundErr:   refundErr,
		}
		log.Printf("[metering] ALERT refund failed: %v", rfErr)
		return &RunResult{
			Status:       domain.RunStatusRefundFailed,
			Priced:       priced,
			Charge:       charge,
			Receipt:      receipt,
			BalanceCents: charge.BalanceAfterCents,
		}, rfErr
	}

	log.Printf("[metering] refunded tenant=%s amount=%d key=%s", req.TenantID, priced.FinalPriceCents, RefundKey(chargeKey))
	return &RunResult{
		Status:       domain.RunStatusRefunded,
		Priced:       priced,
		Charge:       charge,
		Refund:       refund,
		Receipt:      receipt,
		BalanceCents: refund.BalanceAfterCents,
	}, &ExecutionFailedError{RunID: req.RunID, Err: execErr}
}

func balanceAfter(tx *models.Transaction, fallback int64) int64 {
	if tx != nil {
		return tx.BalanceAfterCents
	}
	return fallback
}
