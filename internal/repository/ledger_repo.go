package repository

import (
	"errors"
	"fmt"
	"log"
	"time"

	"oneclaw/internal/domain"
	"oneclaw/internal/ledger"
	"oneclaw/internal/models"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// LedgerRepository is the MySQL-backed ledger.Store. Balance mutation uses a
// conditional UPDATE (decrement where balance >= amount, checked via
// RowsAffected) instead of read-then-write, so concurrent debits serialize at
// the storage layer and the non-negative invariant holds without app locks.
type LedgerRepository struct {
	db *gorm.DB
}

var _ ledger.Store = (*LedgerRepository)(nil)

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) GetWallet(tenantID string) (*models.Wallet, error) {
	var w *models.Wallet
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var e error
		w, e = getOrCreateWallet(tx, tenantID)
		return e
	})
	if err != nil {
		return nil, storageErr(err)
	}
	return w, nil
}

func getOrCreateWallet(tx *gorm.DB, tenantID string) (*models.Wallet, error) {
	var w models.Wallet
	err := tx.Where("tenant_id = ?", tenantID).First(&w).Error
	if err == nil {
		return &w, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	w = models.Wallet{TenantID: tenantID, Tier: domain.TierBase}
	if err := tx.Create(&w).Error; err != nil {
		// lost a first-touch race; the winner's row is the wallet
		if isDuplicateKey(err) {
			if err2 := tx.Where("tenant_id = ?", tenantID).First(&w).Error; err2 == nil {
				return &w, nil
			}
		}
		return nil, err
	}
	return &w, nil
}

func (r *LedgerRepository) Credit(p ledger.CreditParams) (*models.Transaction, error) {
	if p.AmountCents <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if p.IdempotencyKey == "" {
		return nil, ledger.ErrEmptyKey
	}
	return r.mutate(p.TenantID, p.IdempotencyKey, func(tx *gorm.DB, w *models.Wallet) (*models.Transaction, error) {
		updates := map[string]interface{}{
			"balance_cents":            gorm.Expr("balance_cents + ?", p.AmountCents),
			"lifetime_topped_up_cents": gorm.Expr("lifetime_topped_up_cents + ?", p.AmountCents),
			"updated_at":               time.Now(),
		}
		if err := tx.Model(&models.Wallet{}).Where("id = ?", w.ID).Updates(updates).Error; err != nil {
			return nil, err
		}
		return &models.Transaction{
			Type:        domain.TxTypeCredit,
			AmountCents: p.AmountCents,
			Source:      p.Source,
			SourceID:    p.SourceID,
			Description: p.Description,
		}, nil
	})
}

func (r *LedgerRepository) Debit(p ledger.DebitParams) (*models.Transaction, error) {
	if p.AmountCents <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if p.IdempotencyKey == "" {
		return nil, ledger.ErrEmptyKey
	}
	return r.mutate(p.TenantID, p.IdempotencyKey, func(tx *gorm.DB, w *models.Wallet) (*models.Transaction, error) {
		updates := map[string]interface{}{
			"balance_cents":        gorm.Expr("balance_cents - ?", p.AmountCents),
			"lifetime_spent_cents": gorm.Expr("lifetime_spent_cents + ?", p.AmountCents),
			"updated_at":           time.Now(),
		}
		res := tx.Model(&models.Wallet{}).
			Where("id = ? AND balance_cents >= ?", w.ID, p.AmountCents).
			Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			var cur models.Wallet
			if err := tx.First(&cur, w.ID).Error; err != nil {
				return nil, err
			}
			return nil, &ledger.InsufficientBalanceError{
				TenantID:       p.TenantID,
				RequestedCents: p.AmountCents,
				AvailableCents: cur.BalanceCents,
			}
		}
		return &models.Transaction{
			Type:        domain.TxTypeDebit,
			AmountCents: -p.AmountCents,
			Source:      domain.SourceWorkflowCharge,
			SourceID:    p.SourceID,
			Description: p.Description,
		}, nil
	})
}

func (r *LedgerRepository) Adjust(p ledger.AdjustParams) (*models.Transaction, error) {
	if p.AmountCents == 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if p.IdempotencyKey == "" {
		return nil, ledger.ErrEmptyKey
	}
	return r.mutate(p.TenantID, p.IdempotencyKey, func(tx *gorm.DB, w *models.Wallet) (*models.Transaction, error) {
		q := tx.Model(&models.Wallet{}).Where("id = ?", w.ID)
		if p.AmountCents < 0 {
			q = q.Where("balance_cents >= ?", -p.AmountCents)
		}
		res := q.Updates(map[string]interface{}{
			"balance_cents": gorm.Expr("balance_cents + ?", p.AmountCents),
			"updated_at":    time.Now(),
		})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			var cur models.Wallet
			if err := tx.First(&cur, w.ID).Error; err != nil {
				return nil, err
			}
			return nil, &ledger.InsufficientBalanceError{
				TenantID:       p.TenantID,
				RequestedCents: -p.AmountCents,
				AvailableCents: cur.BalanceCents,
			}
		}
		return &models.Transaction{
			Type:        domain.TxTypeAdjustment,
			AmountCents: p.AmountCents,
			Source:      domain.SourceAdmin,
			Description: p.Description,
		}, nil
	})
}

// mutate runs the shared mutation protocol: replay lookup, wallet fetch,
// balance update via build, then the transaction append — all in one database
// transaction so balance and history commit together or not at all.
func (r *LedgerRepository) mutate(
	tenantID, key string,
	build func(tx *gorm.DB, w *models.Wallet) (*models.Transaction, error),
) (*models.Transaction, error) {
	var out *models.Transaction
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var existing models.Transaction
		err := tx.Where("idempotency_key = ?", key).First(&existing).Error
		if err == nil {
			out = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		w, err := getOrCreateWallet(tx, tenantID)
		if err != nil {
			return err
		}
		rec, err := build(tx, w)
		if err != nil {
			return err
		}
		// the row-lock from the balance UPDATE is held until commit, so this
		// read-back is consistent with commit order
		var after models.Wallet
		if err := tx.First(&after, w.ID).Error; err != nil {
			return err
		}
		rec.WalletID = w.ID
		rec.TenantID = tenantID
		rec.BalanceAfterCents = after.BalanceCents
		rec.IdempotencyKey = key
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err == nil {
		return out, nil
	}
	// two deliveries raced past the replay lookup: the loser's insert hits the
	// unique key, and the stored transaction is the answer
	if isDuplicateKey(err) {
		var existing models.Transaction
		if err2 := r.db.Where("idempotency_key = ?", key).First(&existing).Error; err2 == nil {
			log.Printf("[ledger] duplicate delivery absorbed: tenant=%s key=%s tx=%d", tenantID, key, existing.ID)
			return &existing, nil
		}
	}
	var insufficient *ledger.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		return nil, insufficient
	}
	return nil, storageErr(err)
}

func (r *LedgerRepository) SetTier(tenantID, tier string) error {
	if !domain.ValidTier(tier) {
		return ledger.ErrUnknownTier
	}
	err := r.db.Transaction(func(tx *gorm.DB) error {
		w, err := getOrCreateWallet(tx, tenantID)
		if err != nil {
			return err
		}
		return tx.Model(&models.Wallet{}).Where("id = ?", w.ID).Update("tier", tier).Error
	})
	if err != nil {
		return storageErr(err)
	}
	return nil
}

func (r *LedgerRepository) Transactions(tenantID string, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var txs []models.Transaction
	err := r.db.Where("tenant_id = ?", tenantID).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&txs).Error
	if err != nil {
		return nil, storageErr(err)
	}
	return txs, nil
}

func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", ledger.ErrStorageUnavailable, err)
}
