package repository

import (
	"errors"

	"oneclaw/internal/models"

	"gorm.io/gorm"
)

type IdentityRepository struct {
	db *gorm.DB
}

func NewIdentityRepository(db *gorm.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

func (r *IdentityRepository) Get(provider, providerUserID string) (*models.PlatformIdentity, error) {
	var id models.PlatformIdentity
	err := r.db.Where("provider = ? AND provider_user_id = ?", provider, providerUserID).First(&id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (r *IdentityRepository) Create(id *models.PlatformIdentity) error {
	return r.db.Create(id).Error
}

func (r *IdentityRepository) ListByTenant(tenantID string) ([]models.PlatformIdentity, error) {
	var ids []models.PlatformIdentity
	err := r.db.Where("tenant_id = ?", tenantID).Find(&ids).Error
	return ids, err
}
