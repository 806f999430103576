package repository

import (
	"testing"
	"time"

	"oneclaw/internal/domain"
	"oneclaw/internal/ledger"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	gdb, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return gdb, mock
}

func emptyTxRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "tenant_id", "idempotency_key"})
}

func walletRow(id int64, tenantID string, balance int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "tenant_id", "balance_cents", "tier", "lifetime_spent_cents", "lifetime_topped_up_cents", "created_at", "updated_at"}).
		AddRow(id, tenantID, balance, domain.TierBase, 0, 0, time.Now(), time.Now())
}

func TestDebitConditionalUpdate(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewLedgerRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM `transactions` WHERE idempotency_key").
		WillReturnRows(emptyTxRows())
	mock.ExpectQuery("SELECT .* FROM `wallets` WHERE tenant_id").
		WillReturnRows(walletRow(1, "t1", 1000))
	mock.ExpectExec("UPDATE `wallets` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT .* FROM `wallets` WHERE `wallets`.`id`").
		WillReturnRows(walletRow(1, "t1", 700))
	mock.ExpectExec("INSERT INTO `transactions`").
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectCommit()

	tx, err := repo.Debit(ledger.DebitParams{
		TenantID:       "t1",
		AmountCents:    300,
		IdempotencyKey: "charge_t1_u_r1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxTypeDebit, tx.Type)
	assert.Equal(t, int64(-300), tx.AmountCents)
	assert.Equal(t, int64(700), tx.BalanceAfterCents)
	assert.Equal(t, "charge_t1_u_r1", tx.IdempotencyKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// RowsAffected == 0 on the guarded UPDATE means the balance check failed; the
// transaction rolls back and no row is appended.
func TestDebitInsufficientRollsBack(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewLedgerRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM `transactions` WHERE idempotency_key").
		WillReturnRows(emptyTxRows())
	mock.ExpectQuery("SELECT .* FROM `wallets` WHERE tenant_id").
		WillReturnRows(walletRow(1, "t1", 100))
	mock.ExpectExec("UPDATE `wallets` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .* FROM `wallets` WHERE `wallets`.`id`").
		WillReturnRows(walletRow(1, "t1", 100))
	mock.ExpectRollback()

	_, err := repo.Debit(ledger.DebitParams{
		TenantID:       "t1",
		AmountCents:    250,
		IdempotencyKey: "charge_t1_u_r1",
	})
	var insuff *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insuff)
	assert.Equal(t, int64(250), insuff.RequestedCents)
	assert.Equal(t, int64(100), insuff.AvailableCents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A replayed key short-circuits before any balance write.
func TestCreditReplayShortCircuits(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewLedgerRepository(gdb)

	stored := sqlmock.NewRows([]string{"id", "wallet_id", "tenant_id", "type", "amount_cents", "balance_after_cents", "source", "idempotency_key"}).
		AddRow(7, 1, "t1", domain.TxTypeCredit, 1000, 1000, domain.SourcePaymentProcessor, "pay_abc")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM `transactions` WHERE idempotency_key").
		WillReturnRows(stored)
	mock.ExpectCommit()

	tx, err := repo.Credit(ledger.CreditParams{
		TenantID:       "t1",
		AmountCents:    1000,
		IdempotencyKey: "pay_abc",
		Source:         domain.SourcePaymentProcessor,
	})
	require.NoError(t, err)
	assert.Equal(t, uint(7), tx.ID)
	assert.Equal(t, int64(1000), tx.AmountCents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditHappyPath(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewLedgerRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM `transactions` WHERE idempotency_key").
		WillReturnRows(emptyTxRows())
	mock.ExpectQuery("SELECT .* FROM `wallets` WHERE tenant_id").
		WillReturnRows(walletRow(1, "t1", 0))
	mock.ExpectExec("UPDATE `wallets` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT .* FROM `wallets` WHERE `wallets`.`id`").
		WillReturnRows(walletRow(1, "t1", 1000))
	mock.ExpectExec("INSERT INTO `transactions`").
		WillReturnResult(sqlmock.NewResult(8, 1))
	mock.ExpectCommit()

	tx, err := repo.Credit(ledger.CreditParams{
		TenantID:       "t1",
		AmountCents:    1000,
		IdempotencyKey: "pay_abc",
		Source:         domain.SourcePaymentProcessor,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), tx.BalanceAfterCents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Two deliveries racing past the replay lookup: the loser's insert hits the
// unique key and the stored row is returned instead of an error.
func TestDuplicateDeliveryAbsorbed(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewLedgerRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM `transactions` WHERE idempotency_key").
		WillReturnRows(emptyTxRows())
	mock.ExpectQuery("SELECT .* FROM `wallets` WHERE tenant_id").
		WillReturnRows(walletRow(1, "t1", 0))
	mock.ExpectExec("UPDATE `wallets` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT .* FROM `wallets` WHERE `wallets`.`id`").
		WillReturnRows(walletRow(1, "t1", 1000))
	mock.ExpectExec("INSERT INTO `transactions`").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()

	stored := sqlmock.NewRows([]string{"id", "tenant_id", "type", "amount_cents", "balance_after_cents", "idempotency_key"}).
		AddRow(9, "t1", domain.TxTypeCredit, 1000, 1000, "pay_abc")
	mock.ExpectQuery("SELECT .* FROM `transactions` WHERE idempotency_key").
		WillReturnRows(stored)

	tx, err := repo.Credit(ledger.CreditParams{
		TenantID:       "t1",
		AmountCents:    1000,
		IdempotencyKey: "pay_abc",
		Source:         domain.SourcePaymentProcessor,
	})
	require.NoError(t, err)
	assert.Equal(t, uint(9), tx.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWalletCreatesOnFirstTouch(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewLedgerRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM `wallets` WHERE tenant_id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id"}))
	mock.ExpectExec("INSERT INTO `wallets`").
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()

	w, err := repo.GetWallet("t_new")
	require.NoError(t, err)
	assert.Equal(t, uint(3), w.ID)
	assert.Equal(t, "t_new", w.TenantID)
	assert.Equal(t, domain.TierBase, w.Tier)
	assert.Equal(t, int64(0), w.BalanceCents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidationShortCircuitsBeforeSQL(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewLedgerRepository(gdb)

	_, err := repo.Credit(ledger.CreditParams{TenantID: "t1", AmountCents: -1, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = repo.Debit(ledger.DebitParams{TenantID: "t1", AmountCents: 100})
	assert.ErrorIs(t, err, ledger.ErrEmptyKey)

	err = repo.SetTier("t1", "platinum")
	assert.ErrorIs(t, err, ledger.ErrUnknownTier)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionsQuery(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewLedgerRepository(gdb)

	rows := sqlmock.NewRows([]string{"id", "tenant_id", "type", "amount_cents", "balance_after_cents"}).
		AddRow(5, "t1", domain.TxTypeDebit, -300, 700).
		AddRow(4, "t1", domain.TxTypeCredit, 1000, 1000)
	mock.ExpectQuery("SELECT .* FROM `transactions` WHERE tenant_id").
		WillReturnRows(rows)

	txs, err := repo.Transactions("t1", 50, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, uint(5), txs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
