package handler

import (
	"net/http"
	"strconv"

	"oneclaw/internal/ledger"
	"oneclaw/internal/middleware"

	"github.com/gin-gonic/gin"
)

type WalletHandler struct {
	store ledger.Store
}

func NewWalletHandler(store ledger.Store) *WalletHandler {
	return &WalletHandler{store: store}
}

// GetWallet returns the caller's wallet snapshot, creating it on first touch.
func (h *WalletHandler) GetWallet(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	w, err := h.store.GetWallet(tenantID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "wallet unavailable"})
		return
	}
	c.JSON(http.StatusOK, w)
}

// ListTransactions returns the caller's ledger history, newest first.
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	txs, err := h.store.Transactions(tenantID, limit, offset)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}
