package handler

import (
	"errors"
	"net/http"

	"oneclaw/internal/domain"
	"oneclaw/internal/ledger"
	"oneclaw/internal/middleware"
	"oneclaw/internal/pricing"

	"github.com/gin-gonic/gin"
)

type PricingHandler struct {
	catalog *pricing.Catalog
	store   ledger.Store
}

func NewPricingHandler(catalog *pricing.Catalog, store ledger.Store) *PricingHandler {
	return &PricingHandler{catalog: catalog, store: store}
}

// Quote prices a unit/quantity without side effects. Authenticated callers are
// quoted on their wallet tier; the tier field is only honored for anonymous
// quotes.
func (h *PricingHandler) Quote(c *gin.Context) {
	var req struct {
		UnitID   string `json:"unit_id" binding:"required"`
		Quantity int64  `json:"quantity" binding:"required"`
		Tier     string `json:"tier"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tier := req.Tier
	if tenantID := middleware.GetTenantID(c); tenantID != "" {
		w, err := h.store.GetWallet(tenantID)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "wallet unavailable"})
			return
		}
		tier = w.Tier
	}
	if tier == "" {
		tier = domain.TierBase
	}
	priced, err := h.catalog.Calculate(req.UnitID, req.Quantity, tier)
	if err != nil {
		status, payload := pricingErrorResponse(err)
		c.JSON(status, payload)
		return
	}
	c.JSON(http.StatusOK, priced)
}

// Units lists the catalog for clients building pickers.
func (h *PricingHandler) Units(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"units": h.catalog.Units})
}

func pricingErrorResponse(err error) (int, gin.H) {
	var unknown *pricing.UnknownUnitError
	var invalid *pricing.InvalidQuantityError
	switch {
	case errors.As(err, &unknown):
		return http.StatusBadRequest, gin.H{"kind": "unknown_unit", "unit_id": unknown.UnitID}
	case errors.As(err, &invalid):
		return http.StatusBadRequest, gin.H{"kind": "invalid_quantity", "quantity": invalid.Quantity}
	default:
		return http.StatusBadRequest, gin.H{"error": err.Error()}
	}
}
