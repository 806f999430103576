package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"oneclaw/internal/ledger"
	"oneclaw/internal/metering"
	"oneclaw/internal/middleware"
	"oneclaw/internal/service"

	"github.com/gin-gonic/gin"
)

type RunHandler struct {
	runs service.WorkflowRunner
	svc  *service.RunService
}

func NewRunHandler(svc *service.RunService) *RunHandler {
	return &RunHandler{runs: svc, svc: svc}
}

// Run charges the wallet and executes the workflow. The caller supplies a
// request_id unique per logical request; retrying with the same id collapses
// into the same charge.
func (h *RunHandler) Run(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	var req struct {
		UnitID    string          `json:"unit_id" binding:"required"`
		Quantity  int64           `json:"quantity" binding:"required,min=1"`
		RequestID string          `json:"request_id" binding:"required"`
		Input     json.RawMessage `json:"input"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, run, err := h.runs.Run(c.Request.Context(), service.RunInput{
		TenantID:  tenantID,
		UnitID:    req.UnitID,
		Quantity:  req.Quantity,
		RequestID: req.RequestID,
		Input:     req.Input,
	})
	if err != nil {
		var insufficient *ledger.InsufficientBalanceError
		var execFailed *metering.ExecutionFailedError
		var refundFailed *metering.RefundFailedError
		switch {
		case errors.As(err, &insufficient):
			c.JSON(http.StatusPaymentRequired, gin.H{
				"kind":            "insufficient_balance",
				"tenant_id":       insufficient.TenantID,
				"requested_cents": insufficient.RequestedCents,
				"available_cents": insufficient.AvailableCents,
			})
		case errors.As(err, &refundFailed):
			log.Printf("[api] ALERT: %v", refundFailed)
			c.JSON(http.StatusInternalServerError, gin.H{
				"kind":      "refund_failed",
				"tenant_id": refundFailed.TenantID,
				"run":       run,
			})
		case errors.As(err, &execFailed):
			c.JSON(http.StatusBadGateway, gin.H{
				"kind":          "execution_failed",
				"error":         execFailed.Err.Error(),
				"refunded":      true,
				"run":           run,
				"balance_cents": result.BalanceCents,
			})
		case errors.Is(err, ledger.ErrStorageUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger unavailable, retry later"})
		default:
			status, payload := pricingErrorResponse(err)
			c.JSON(status, payload)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run":           run,
		"charge":        result.Charge,
		"receipt":       rawReceipt(run.Receipt),
		"balance_cents": result.BalanceCents,
	})
}

func rawReceipt(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage("null")
	}
	return json.RawMessage(s)
}

// ListRuns returns the caller's run history.
func (h *RunHandler) ListRuns(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	runs, err := h.svc.List(tenantID, limit, offset)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "runs unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetRun returns one run with its receipt.
func (h *RunHandler) GetRun(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	run, err := h.svc.Get(tenantID, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run, "receipt": rawReceipt(run.Receipt)})
}
