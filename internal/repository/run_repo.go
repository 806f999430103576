package repository

import (
	"oneclaw/internal/models"

	"gorm.io/gorm"
)

type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(run *models.WorkflowRun) error {
	return r.db.Create(run).Error
}

func (r *RunRepository) GetByRunID(tenantID, runID string) (*models.WorkflowRun, error) {
	var run models.WorkflowRun
	err := r.db.Where("tenant_id = ? AND run_id = ?", tenantID, runID).First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *RunRepository) ListByTenant(tenantID string, limit, offset int) ([]models.WorkflowRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var runs []models.WorkflowRun
	err := r.db.Where("tenant_id = ?", tenantID).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&runs).Error
	return runs, err
}
