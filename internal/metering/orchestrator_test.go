package metering

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"oneclaw/internal/domain"
	"oneclaw/internal/executor"
	"oneclaw/internal/ledger"
	"oneclaw/internal/models"
	"oneclaw/internal/pricing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExecutor struct {
	calls int32
	fn    func(ctx context.Context, run executor.Run) (*executor.Receipt, error)
}

func (s *stubExecutor) Execute(ctx context.Context, run executor.Run) (*executor.Receipt, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.fn(ctx, run)
}

func succeedingExecutor() *stubExecutor {
	return &stubExecutor{fn: func(ctx context.Context, run executor.Run) (*executor.Receipt, error) {
		return &executor.Receipt{
			RunID:      run.RunID,
			WorkflowID: run.WorkflowID,
			Status:     executor.StatusSuccess,
		}, nil
	}}
}

func failingExecutor(err error) *stubExecutor {
	return &stubExecutor{fn: func(ctx context.Context, run executor.Run) (*executor.Receipt, error) {
		return nil, err
	}}
}

// brokenCreditStore refuses refunds so the saga lands in REFUND_FAILED.
type brokenCreditStore struct {
	ledger.Store
}

func (s *brokenCreditStore) Credit(p ledger.CreditParams) (*models.Transaction, error) {
	if p.Source == domain.SourceRefund {
		return nil, ledger.ErrStorageUnavailable
	}
	return s.Store.Credit(p)
}

func fundedStore(t *testing.T, tenantID string, cents int64) *ledger.MemoryStore {
	t.Helper()
	s := ledger.NewMemoryStore()
	_, err := s.Credit(ledger.CreditParams{
		TenantID:       tenantID,
		AmountCents:    cents,
		IdempotencyKey: "seed_" + tenantID,
		Source:         domain.SourcePaymentProcessor,
	})
	require.NoError(t, err)
	return s
}

func TestRunSucceeded(t *testing.T) {
	store := fundedStore(t, "t1", 5000)
	exec := succeedingExecutor()
	o := NewOrchestrator(pricing.Default(), store, exec, 0)

	res, err := o.Run(context.Background(), RunRequest{
		TenantID:  "t1",
		UnitID:    "website_audit",
		Quantity:  1,
		RequestID: "req_1",
		RunID:     "run_1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, res.Status)
	assert.Equal(t, int64(2000), res.Priced.FinalPriceCents)
	require.NotNil(t, res.Charge)
	assert.Equal(t, int64(-2000), res.Charge.AmountCents)
	assert.Equal(t, int64(3000), res.BalanceCents)
	assert.Nil(t, res.Refund)
	require.NotNil(t, res.Receipt)
	assert.Equal(t, "run_1", res.Receipt.RunID)

	w, _ := store.GetWallet("t1")
	assert.Equal(t, int64(3000), w.BalanceCents)
}

func TestRunInsufficientBalanceNeverExecutes(t *testing.T) {
	store := fundedStore(t, "t1", 1000)
	exec := succeedingExecutor()
	o := NewOrchestrator(pricing.Default(), store, exec, 0)

	res, err := o.Run(context.Background(), RunRequest{
		TenantID:  "t1",
		UnitID:    "website_audit",
		Quantity:  1,
		RequestID: "req_1",
		RunID:     "run_1",
	})
	assert.Nil(t, res)
	var insuff *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insuff)
	assert.Equal(t, int64(2000), insuff.RequestedCents)
	assert.Equal(t, int64(1000), insuff.AvailableCents)
	assert.Equal(t, int32(0), atomic.LoadInt32(&exec.calls))

	w, _ := store.GetWallet("t1")
	assert.Equal(t, int64(1000), w.BalanceCents)
}

func TestRunPricingErrorsBeforeCharge(t *testing.T) {
	store := fundedStore(t, "t1", 5000)
	exec := succeedingExecutor()
	o := NewOrchestrator(pricing.Default(), store, exec, 0)

	_, err := o.Run(context.Background(), RunRequest{
		TenantID: "t1", UnitID: "no_such_unit", Quantity: 1, RequestID: "r", RunID: "run_1",
	})
	var unknown *pricing.UnknownUnitError
	require.ErrorAs(t, err, &unknown)

	_, err = o.Run(context.Background(), RunRequest{
		TenantID: "t1", UnitID: "website_audit", Quantity: 0, RequestID: "r", RunID: "run_1",
	})
	var invalid *pricing.InvalidQuantityError
	require.ErrorAs(t, err, &invalid)

	assert.Equal(t, int32(0), atomic.LoadInt32(&exec.calls))
	txs, _ := store.Transactions("t1", 0, 0)
	assert.Len(t, txs, 1) // just the seed credit
}

func TestRunExecutionFailureRefunds(t *testing.T) {
	store := fundedStore(t, "t1", 5000)
	execErr := errors.New("node exploded")
	o := NewOrchestrator(pricing.Default(), store, failingExecutor(execErr), 0)

	res, err := o.Run(context.Background(), RunRequest{
		TenantID:  "t1",
		UnitID:    "website_audit",
		Quantity:  1,
		RequestID: "req_1",
		RunID:     "run_1",
	})
	var failed *ExecutionFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "run_1", failed.RunID)
	assert.ErrorIs(t, err, execErr)

	require.NotNil(t, res)
	assert.Equal(t, domain.RunStatusRefunded, res.Status)
	require.NotNil(t, res.Refund)
	assert.Equal(t, int64(2000), res.Refund.AmountCents)
	assert.Equal(t, domain.SourceRefund, res.Refund.Source)
	// refund key is derived from the charge key
	assert.Equal(t, RefundKey(res.Charge.IdempotencyKey), res.Refund.IdempotencyKey)
	assert.Equal(t, int64(5000), res.BalanceCents)

	w, _ := store.GetWallet("t1")
	assert.Equal(t, int64(5000), w.BalanceCents)
}

func TestRunRefundIsIdempotent(t *testing.T) {
	store := fundedStore(t, "t1", 5000)
	o := NewOrchestrator(pricing.Default(), store, failingExecutor(errors.New("boom")), 0)

	req := RunRequest{TenantID: "t1", UnitID: "website_audit", Quantity: 1, RequestID: "req_1", RunID: "run_1"}
	_, err := o.Run(context.Background(), req)
	var failed *ExecutionFailedError
	require.ErrorAs(t, err, &failed)

	// a retry replays both the charge and the refund; balance is unchanged
	_, err = o.Run(context.Background(), req)
	require.ErrorAs(t, err, &failed)

	w, _ := store.GetWallet("t1")
	assert.Equal(t, int64(5000), w.BalanceCents)
	txs, _ := store.Transactions("t1", 0, 0)
	assert.Len(t, txs, 3) // seed, one charge, one refund
}

func TestRunRefundFailed(t *testing.T) {
	store := &brokenCreditStore{Store: fundedStore(t, "t1", 5000)}
	o := NewOrchestrator(pricing.Default(), store, failingExecutor(errors.New("boom")), 0)

	res, err := o.Run(context.Background(), RunRequest{
		TenantID:  "t1",
		UnitID:    "website_audit",
		Quantity:  1,
		RequestID: "req_1",
		RunID:     "run_1",
	})
	var rf *RefundFailedError
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, "t1", rf.TenantID)
	assert.Equal(t, int64(2000), rf.AmountCents)
	assert.Equal(t, ChargeKey("t1", "website_audit", "req_1"), rf.ChargeKey)

	require.NotNil(t, res)
	assert.Equal(t, domain.RunStatusRefundFailed, res.Status)
	// the debit stands until reconciliation credits it back
	w, _ := store.GetWallet("t1")
	assert.Equal(t, int64(3000), w.BalanceCents)
}

func TestRunTimeoutRefunds(t *testing.T) {
	store := fundedStore(t, "t1", 5000)
	exec := &stubExecutor{fn: func(ctx context.Context, run executor.Run) (*executor.Receipt, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	o := NewOrchestrator(pricing.Default(), store, exec, 20*time.Millisecond)

	res, err := o.Run(context.Background(), RunRequest{
		TenantID:  "t1",
		UnitID:    "website_audit",
		Quantity:  1,
		RequestID: "req_1",
		RunID:     "run_1",
	})
	var failed *ExecutionFailedError
	require.ErrorAs(t, err, &failed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.RunStatusRefunded, res.Status)

	w, _ := store.GetWallet("t1")
	assert.Equal(t, int64(5000), w.BalanceCents)
}

func TestRunRetrySameRequestChargesOnce(t *testing.T) {
	store := fundedStore(t, "t1", 5000)
	o := NewOrchestrator(pricing.Default(), store, succeedingExecutor(), 0)

	req := RunRequest{TenantID: "t1", UnitID: "website_audit", Quantity: 1, RequestID: "req_1", RunID: "run_1"}
	_, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	res, err := o.Run(context.Background(), req)
	require.NoError(t, err)

	// the second debit replays the stored charge
	assert.Equal(t, int64(3000), res.BalanceCents)
	w, _ := store.GetWallet("t1")
	assert.Equal(t, int64(3000), w.BalanceCents)
}

func TestRunTierDiscountApplied(t *testing.T) {
	store := fundedStore(t, "t1", 5000)
	require.NoError(t, store.SetTier("t1", domain.TierTop))
	o := NewOrchestrator(pricing.Default(), store, succeedingExecutor(), 0)

	res, err := o.Run(context.Background(), RunRequest{
		TenantID:  "t1",
		UnitID:    "website_audit",
		Quantity:  1,
		RequestID: "req_1",
		RunID:     "run_1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1600), res.Priced.FinalPriceCents)
	assert.Equal(t, int64(3400), res.BalanceCents)
}

func TestChargeAndRefundKeys(t *testing.T) {
	key := ChargeKey("t1", "website_audit", "req_9")
	assert.Equal(t, "charge_t1_website_audit_req_9", key)
	assert.Equal(t, "charge_t1_website_audit_req_9_refund", RefundKey(key))
}
