package models

import "time"

// WorkflowRun records one charge-execute-refund saga. The receipt column keeps
// the executor's raw receipt JSON for auditing and support.
type WorkflowRun struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	RunID       string    `gorm:"size:64;uniqueIndex;not null" json:"run_id"`
	TenantID    string    `gorm:"size:64;not null;index" json:"tenant_id"`
	UnitID      string    `gorm:"size:64;not null" json:"unit_id"`
	Quantity    int64     `gorm:"not null" json:"quantity"`
	RequestID   string    `gorm:"size:128;not null;index" json:"request_id"`
	Status      string    `gorm:"size:20;not null;index" json:"status"` // SUCCEEDED, REFUNDED, REFUND_FAILED
	PriceCents  int64     `gorm:"not null" json:"price_cents"`
	ChargeTxID  uint      `json:"charge_tx_id,omitempty"`
	RefundTxID  uint      `json:"refund_tx_id,omitempty"`
	Receipt     string    `gorm:"type:text" json:"-"`
	ErrorDetail string    `gorm:"size:512" json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (WorkflowRun) TableName() string {
	return "workflow_runs"
}
