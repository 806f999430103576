package service

import (
	"fmt"
	"log"

	"oneclaw/internal/models"
	"oneclaw/internal/repository"

	"github.com/google/uuid"
)

// IdentityService maps chat-platform users to tenants. Mappings live in the
// database, so repeated deliveries and multiple instances always resolve the
// same tenant; the wallet itself is created lazily by the ledger on first use.
type IdentityService struct {
	identityRepo *repository.IdentityRepository
}

func NewIdentityService(identityRepo *repository.IdentityRepository) *IdentityService {
	return &IdentityService{identityRepo: identityRepo}
}

// Resolve returns the tenant id for a platform user, minting a new tenant on
// first contact.
func (s *IdentityService) Resolve(provider, providerUserID, username string) (string, error) {
	id, err := s.identityRepo.Get(provider, providerUserID)
	if err != nil {
		return "", fmt.Errorf("identity lookup: %w", err)
	}
	if id != nil {
		return id.TenantID, nil
	}
	rec := &models.PlatformIdentity{
		Provider:       provider,
		ProviderUserID: providerUserID,
		TenantID:       uuid.NewString(),
		Username:       username,
	}
	if err := s.identityRepo.Create(rec); err != nil {
		// creation race: another delivery won, use its mapping
		if existing, err2 := s.identityRepo.Get(provider, providerUserID); err2 == nil && existing != nil {
			return existing.TenantID, nil
		}
		return "", fmt.Errorf("identity create: %w", err)
	}
	log.Printf("[identity] new tenant %s for %s user %s", rec.TenantID, provider, providerUserID)
	return rec.TenantID, nil
}

// Link attaches an additional provider identity (e.g. a Google account) to an
// existing tenant.
func (s *IdentityService) Link(tenantID, provider, providerUserID, username, email string) error {
	existing, err := s.identityRepo.Get(provider, providerUserID)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.TenantID != tenantID {
			return fmt.Errorf("%s account already linked to another tenant", provider)
		}
		return nil
	}
	return s.identityRepo.Create(&models.PlatformIdentity{
		Provider:       provider,
		ProviderUserID: providerUserID,
		TenantID:       tenantID,
		Username:       username,
		Email:          email,
	})
}
