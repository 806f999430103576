package handler

import (
	"crypto/subtle"
	"errors"
	"log"
	"net/http"

	"oneclaw/config"
	"oneclaw/internal/domain"
	"oneclaw/internal/ledger"

	"github.com/gin-gonic/gin"
)

// PaymentWebhookHandler ingests top-up events from the payment processor.
// The processor's own event id is the idempotency key, so redelivering the
// same event never double-credits — the ledger returns the original
// transaction and we acknowledge again.
type PaymentWebhookHandler struct {
	store ledger.Store
	cfg   *config.PaymentConfig
}

func NewPaymentWebhookHandler(store ledger.Store, cfg *config.PaymentConfig) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{store: store, cfg: cfg}
}

type paymentEvent struct {
	EventID     string `json:"event_id" binding:"required"`
	TenantID    string `json:"tenant_id" binding:"required"`
	AmountCents int64  `json:"amount_cents" binding:"required,min=1"`
	Provider    string `json:"provider"`
	Status      string `json:"status"`
}

func (h *PaymentWebhookHandler) Handle(c *gin.Context) {
	if h.cfg.WebhookSecret != "" {
		got := c.GetHeader("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.WebhookSecret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bad signature"})
			return
		}
	}
	var ev paymentEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		log.Printf("[webhook] payment event rejected: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	// failed/expired events carry no money; acknowledge and move on
	if ev.Status != "" && ev.Status != "succeeded" {
		log.Printf("[webhook] ignoring payment event %s with status=%s", ev.EventID, ev.Status)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	tx, err := h.store.Credit(ledger.CreditParams{
		TenantID:       ev.TenantID,
		AmountCents:    ev.AmountCents,
		IdempotencyKey: ev.EventID,
		Source:         domain.SourcePaymentProcessor,
		SourceID:       ev.EventID,
		Description:    "top-up via " + ev.Provider,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrStorageUnavailable) {
			// non-2xx makes the processor redeliver; the idempotency key
			// makes that safe
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "retry later"})
			return
		}
		log.Printf("[webhook] payment event %s rejected by ledger: %v", ev.EventID, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "rejected"})
		return
	}
	log.Printf("[webhook] credited tenant=%s amount=%d event=%s balance=%d",
		ev.TenantID, ev.AmountCents, ev.EventID, tx.BalanceAfterCents)
	c.JSON(http.StatusOK, gin.H{"received": true, "transaction_id": tx.ID})
}
