package ledger

import (
	"sort"
	"sync"
	"time"

	"oneclaw/internal/domain"
	"oneclaw/internal/models"
)

// MemoryStore implements Store with in-process state. Used by tests and by dev
// mode without a database. One mutex covers all wallets: mutation sections are
// short and contention in-process is negligible.
type MemoryStore struct {
	mu      sync.Mutex
	wallets map[string]*models.Wallet
	txs     []models.Transaction
	byKey   map[string]int // idempotency key -> index into txs
	nextID  uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*models.Wallet),
		byKey:   make(map[string]int),
		nextID:  1,
	}
}

func (s *MemoryStore) getOrCreate(tenantID string) *models.Wallet {
	w, ok := s.wallets[tenantID]
	if !ok {
		now := time.Now()
		w = &models.Wallet{
			ID:        uint(len(s.wallets) + 1),
			TenantID:  tenantID,
			Tier:      domain.TierBase,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.wallets[tenantID] = w
	}
	return w
}

func (s *MemoryStore) GetWallet(tenantID string) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.getOrCreate(tenantID)
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) Credit(p CreditParams) (*models.Transaction, error) {
	if p.AmountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if p.IdempotencyKey == "" {
		return nil, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.byKey[p.IdempotencyKey]; ok {
		cp := s.txs[idx]
		return &cp, nil
	}
	w := s.getOrCreate(p.TenantID)
	w.BalanceCents += p.AmountCents
	w.LifetimeToppedUpCents += p.AmountCents
	w.UpdatedAt = time.Now()
	return s.append(w, models.Transaction{
		Type:        domain.TxTypeCredit,
		AmountCents: p.AmountCents,
		Source:      p.Source,
		SourceID:    p.SourceID,
		Description: p.Description,
	}, p.IdempotencyKey), nil
}

func (s *MemoryStore) Debit(p DebitParams) (*models.Transaction, error) {
	if p.AmountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if p.IdempotencyKey == "" {
		return nil, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.byKey[p.IdempotencyKey]; ok {
		cp := s.txs[idx]
		return &cp, nil
	}
	w := s.getOrCreate(p.TenantID)
	if w.BalanceCents < p.AmountCents {
		return nil, &InsufficientBalanceError{
			TenantID:       p.TenantID,
			RequestedCents: p.AmountCents,
			AvailableCents: w.BalanceCents,
		}
	}
	w.BalanceCents -= p.AmountCents
	w.LifetimeSpentCents += p.AmountCents
	w.UpdatedAt = time.Now()
	return s.append(w, models.Transaction{
		Type:        domain.TxTypeDebit,
		AmountCents: -p.AmountCents,
		Source:      domain.SourceWorkflowCharge,
		SourceID:    p.SourceID,
		Description: p.Description,
	}, p.IdempotencyKey), nil
}

func (s *MemoryStore) Adjust(p AdjustParams) (*models.Transaction, error) {
	if p.AmountCents == 0 {
		return nil, ErrInvalidAmount
	}
	if p.IdempotencyKey == "" {
		return nil, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.byKey[p.IdempotencyKey]; ok {
		cp := s.txs[idx]
		return &cp, nil
	}
	w := s.getOrCreate(p.TenantID)
	if p.AmountCents < 0 && w.BalanceCents < -p.AmountCents {
		return nil, &InsufficientBalanceError{
			TenantID:       p.TenantID,
			RequestedCents: -p.AmountCents,
			AvailableCents: w.BalanceCents,
		}
	}
	w.BalanceCents += p.AmountCents
	w.UpdatedAt = time.Now()
	return s.append(w, models.Transaction{
		Type:        domain.TxTypeAdjustment,
		AmountCents: p.AmountCents,
		Source:      domain.SourceAdmin,
		Description: p.Description,
	}, p.IdempotencyKey), nil
}

// append records the transaction under the wallet's post-mutation balance.
// Caller holds s.mu.
func (s *MemoryStore) append(w *models.Wallet, tx models.Transaction, key string) *models.Transaction {
	tx.ID = s.nextID
	s.nextID++
	tx.WalletID = w.ID
	tx.TenantID = w.TenantID
	tx.BalanceAfterCents = w.BalanceCents
	tx.IdempotencyKey = key
	tx.CreatedAt = time.Now()
	s.txs = append(s.txs, tx)
	s.byKey[key] = len(s.txs) - 1
	cp := tx
	return &cp
}

func (s *MemoryStore) SetTier(tenantID, tier string) error {
	if !domain.ValidTier(tier) {
		return ErrUnknownTier
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.getOrCreate(tenantID)
	w.Tier = tier
	w.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Transactions(tenantID string, limit, offset int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, tx := range s.txs {
		if tx.TenantID == tenantID {
			out = append(out, tx)
		}
	}
	// newest first, matching the SQL store
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
