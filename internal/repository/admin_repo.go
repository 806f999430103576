package repository

import (
	"errors"

	"oneclaw/internal/models"

	"gorm.io/gorm"
)

type AdminRepository struct {
	db *gorm.DB
}

func NewAdminRepository(db *gorm.DB) *AdminRepository {
	return &AdminRepository{db: db}
}

func (r *AdminRepository) GetByEmail(email string) (*models.Admin, error) {
	var a models.Admin
	err := r.db.Where("email = ?", email).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AdminRepository) Create(a *models.Admin) error {
	return r.db.Create(a).Error
}

func (r *AdminRepository) Count() (int64, error) {
	var n int64
	err := r.db.Model(&models.Admin{}).Count(&n).Error
	return n, err
}
