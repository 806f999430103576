package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"

	"oneclaw/config"
	"oneclaw/internal/auth"
	"oneclaw/internal/domain"
	"oneclaw/internal/middleware"
	"oneclaw/internal/service"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GoogleOAuthHandler links a Google account to an existing tenant, so the
// same tenant can be reached from the dashboard as well as from chat bots.
type GoogleOAuthHandler struct {
	cfg      *config.Config
	identity *service.IdentityService
}

func NewGoogleOAuthHandler(cfg *config.Config, identity *service.IdentityService) *GoogleOAuthHandler {
	return &GoogleOAuthHandler{cfg: cfg, identity: identity}
}

func (h *GoogleOAuthHandler) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     h.cfg.OAuth.GoogleClientID,
		ClientSecret: h.cfg.OAuth.GoogleClientSecret,
		RedirectURL:  h.cfg.OAuth.GoogleRedirectURL,
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint:     google.Endpoint,
	}
}

// Link starts the flow. The state parameter is a short-lived JWT carrying the
// tenant, verified again in the callback.
func (h *GoogleOAuthHandler) Link(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	state, err := auth.GenerateAccessToken(&h.cfg.JWT, tenantID, "", domain.RoleTenant)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start link"})
		return
	}
	url := h.OAuth2Config().AuthCodeURL(state, oauth2.AccessTypeOnline)
	c.JSON(http.StatusOK, gin.H{"auth_url": url})
}

// tokeninfoResponse is the response from https://oauth2.googleapis.com/tokeninfo?id_token=...
type tokeninfoResponse struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Token accepts a Google ID token (dashboard or mobile sign-in), resolves or
// creates the tenant behind that Google account, and returns an API token.
func (h *GoogleOAuthHandler) Token(c *gin.Context) {
	if h.cfg.OAuth.GoogleClientID == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google OAuth not configured"})
		return
	}
	var req struct {
		IDToken string `json:"id_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id_token required"})
		return
	}
	resp, err := http.Get("https://oauth2.googleapis.com/tokeninfo?id_token=" + url.QueryEscape(req.IDToken))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "token verification failed"})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id_token"})
		return
	}
	var info tokeninfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil || info.Sub == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token payload"})
		return
	}
	tenantID, err := h.identity.Resolve(domain.ProviderGoogle, info.Sub, info.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	access, err := auth.GenerateAccessToken(&h.cfg.JWT, tenantID, info.Email, domain.RoleTenant)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantID, "access_token": access})
}

type googleUserinfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (h *GoogleOAuthHandler) Callback(c *gin.Context) {
	claims, err := auth.ParseAccessToken(&h.cfg.JWT, c.Query("state"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
		return
	}
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}
	tok, err := h.OAuth2Config().Exchange(c.Request.Context(), code)
	if err != nil {
		log.Printf("[oauth] google exchange: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "token exchange failed"})
		return
	}
	client := h.OAuth2Config().Client(c.Request.Context(), tok)
	resp, err := client.Get("https://www.googleapis.com/oauth2/v2/userinfo")
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "userinfo failed"})
		return
	}
	defer resp.Body.Close()
	var info googleUserinfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil || info.ID == "" {
		c.JSON(http.StatusBadGateway, gin.H{"error": "userinfo failed"})
		return
	}
	if err := h.identity.Link(claims.TenantID, domain.ProviderGoogle, info.ID, info.Name, info.Email); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"linked": true, "email": info.Email})
}
