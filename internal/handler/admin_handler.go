package handler

import (
	"errors"
	"net/http"

	"oneclaw/config"
	"oneclaw/internal/auth"
	"oneclaw/internal/domain"
	"oneclaw/internal/ledger"
	"oneclaw/internal/repository"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type AdminHandler struct {
	cfg       *config.Config
	adminRepo *repository.AdminRepository
	store     ledger.Store
}

func NewAdminHandler(cfg *config.Config, adminRepo *repository.AdminRepository, store ledger.Store) *AdminHandler {
	return &AdminHandler{cfg: cfg, adminRepo: adminRepo, store: store}
}

// Login handles POST /auth/admin/login.
func (h *AdminHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := h.adminRepo.GetByEmail(req.Email)
	if err != nil || a == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	access, err := auth.GenerateAccessToken(&h.cfg.JWT, "", a.Email, domain.RoleAdmin)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	refresh, err := auth.GenerateRefreshToken(&h.cfg.JWT, a.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": access, "refresh_token": refresh})
}

// Refresh handles POST /auth/admin/refresh.
func (h *AdminHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email, err := auth.ParseRefreshToken(&h.cfg.JWT, req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	a, err := h.adminRepo.GetByEmail(email)
	if err != nil || a == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	access, err := auth.GenerateAccessToken(&h.cfg.JWT, "", a.Email, domain.RoleAdmin)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": access})
}

// GetTenantWallet handles GET /admin/tenants/:id/wallet.
func (h *AdminHandler) GetTenantWallet(c *gin.Context) {
	w, err := h.store.GetWallet(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "wallet unavailable"})
		return
	}
	c.JSON(http.StatusOK, w)
}

// SetTier handles PUT /admin/tenants/:id/tier. Tier changes never touch the
// balance.
func (h *AdminHandler) SetTier(c *gin.Context) {
	var req struct {
		Tier string `json:"tier" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.SetTier(c.Param("id"), req.Tier); err != nil {
		if errors.Is(err, ledger.ErrUnknownTier) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown tier"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tier update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// Adjust handles POST /admin/tenants/:id/adjust — a signed manual correction
// recorded as an ADJUSTMENT transaction. The operation id keeps a retried
// submission from applying twice.
func (h *AdminHandler) Adjust(c *gin.Context) {
	var req struct {
		AmountCents int64  `json:"amount_cents" binding:"required"`
		OperationID string `json:"operation_id" binding:"required"`
		Reason      string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tx, err := h.store.Adjust(ledger.AdjustParams{
		TenantID:       c.Param("id"),
		AmountCents:    req.AmountCents,
		IdempotencyKey: "adjust_" + req.OperationID,
		Description:    req.Reason,
	})
	if err != nil {
		var insufficient *ledger.InsufficientBalanceError
		if errors.As(err, &insufficient) {
			c.JSON(http.StatusConflict, gin.H{
				"kind":            "insufficient_balance",
				"requested_cents": insufficient.RequestedCents,
				"available_cents": insufficient.AvailableCents,
			})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "adjustment failed"})
		return
	}
	c.JSON(http.StatusOK, tx)
}
