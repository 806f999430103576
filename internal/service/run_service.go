package service

import (
	"context"
	"encoding/json"
	"log"

	"oneclaw/internal/metering"
	"oneclaw/internal/models"
	"oneclaw/internal/repository"

	"github.com/google/uuid"
)

type RunInput struct {
	TenantID  string
	UnitID    string
	Quantity  int64
	RequestID string
	Input     json.RawMessage
}

// RunService drives the metering saga and persists a WorkflowRun row for every
// settled saga, so tenants and support can query run history with its charge
// and refund transaction ids.
type RunService struct {
	orch *metering.Orchestrator
	runs *repository.RunRepository
}

func NewRunService(orch *metering.Orchestrator, runs *repository.RunRepository) *RunService {
	return &RunService{orch: orch, runs: runs}
}

func (s *RunService) Run(ctx context.Context, in RunInput) (*metering.RunResult, *models.WorkflowRun, error) {
	runID := uuid.NewString()
	result, err := s.orch.Run(ctx, metering.RunRequest{
		TenantID:  in.TenantID,
		UnitID:    in.UnitID,
		Quantity:  in.Quantity,
		RequestID: in.RequestID,
		RunID:     runID,
		Input:     in.Input,
	})
	if result == nil {
		// pricing or balance rejection: nothing executed, nothing to record
		return nil, nil, err
	}

	run := &models.WorkflowRun{
		RunID:     runID,
		TenantID:  in.TenantID,
		UnitID:    in.UnitID,
		Quantity:  in.Quantity,
		RequestID: in.RequestID,
		Status:    result.Status,
	}
	if result.Priced != nil {
		run.PriceCents = result.Priced.FinalPriceCents
	}
	if result.Charge != nil {
		run.ChargeTxID = result.Charge.ID
	}
	if result.Refund != nil {
		run.RefundTxID = result.Refund.ID
	}
	if result.Receipt != nil {
		if data, mErr := json.Marshal(result.Receipt); mErr == nil {
			run.Receipt = string(data)
		}
	}
	if err != nil {
		run.ErrorDetail = err.Error()
	}
	if s.runs != nil {
		if dbErr := s.runs.Create(run); dbErr != nil {
			log.Printf("[runs] failed to persist run %s: %v", runID, dbErr)
		}
	}
	return result, run, err
}

func (s *RunService) List(tenantID string, limit, offset int) ([]models.WorkflowRun, error) {
	return s.runs.ListByTenant(tenantID, limit, offset)
}

func (s *RunService) Get(tenantID, runID string) (*models.WorkflowRun, error) {
	return s.runs.GetByRunID(tenantID, runID)
}
