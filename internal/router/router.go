package router

import (
	"time"

	"oneclaw/config"
	"oneclaw/internal/domain"
	"oneclaw/internal/executor"
	"oneclaw/internal/handler"
	"oneclaw/internal/ledger"
	"oneclaw/internal/metering"
	"oneclaw/internal/middleware"
	"oneclaw/internal/pricing"
	"oneclaw/internal/repository"
	"oneclaw/internal/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps bundles everything the HTTP layer and the chat channels share.
type Deps struct {
	Store    ledger.Store
	Catalog  *pricing.Catalog
	Commands *service.CommandService
	Runs     *service.RunService
	Identity *service.IdentityService
}

// Setup wires repositories, services and handlers onto a gin engine.
func Setup(cfg *config.Config, db *gorm.DB, exec executor.Client) (*gin.Engine, *Deps) {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit(middleware.NewInMemoryRateLimiter(100, 60*time.Second)))

	catalog, err := pricing.Load(cfg.Catalog.Path)
	if err != nil {
		panic("pricing catalog: " + err.Error())
	}

	// Repositories
	store := repository.NewLedgerRepository(db)
	runRepo := repository.NewRunRepository(db)
	identityRepo := repository.NewIdentityRepository(db)
	adminRepo := repository.NewAdminRepository(db)

	// Services
	orch := metering.NewOrchestrator(catalog, store, exec, cfg.Executor.Timeout)
	runSvc := service.NewRunService(orch, runRepo)
	identitySvc := service.NewIdentityService(identityRepo)
	cmdSvc := service.NewCommandService(identitySvc, runSvc, store, catalog, cfg.Discord.CommandPrefix)

	// Handlers
	walletHandler := handler.NewWalletHandler(store)
	pricingHandler := handler.NewPricingHandler(catalog, store)
	runHandler := handler.NewRunHandler(runSvc)
	paymentWebhook := handler.NewPaymentWebhookHandler(store, &cfg.Payment)
	telegramWebhook := handler.NewTelegramWebhookHandler(cmdSvc, &cfg.Telegram)
	googleOAuth := handler.NewGoogleOAuthHandler(cfg, identitySvc)
	adminHandler := handler.NewAdminHandler(cfg, adminRepo, store)

	authMw := middleware.AuthRequired(&cfg.JWT)
	adminMw := middleware.RequireRole(domain.RoleAdmin)

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/admin/login", adminHandler.Login)
			authGroup.POST("/admin/refresh", adminHandler.Refresh)
			authGroup.POST("/google", googleOAuth.Token)
			authGroup.GET("/google/link", authMw, googleOAuth.Link)
			authGroup.GET("/google/callback", googleOAuth.Callback)
		}

		api.POST("/pricing/quote", pricingHandler.Quote)
		api.GET("/pricing/units", pricingHandler.Units)

		wallet := api.Group("/wallet", authMw)
		{
			wallet.GET("", walletHandler.GetWallet)
			wallet.GET("/transactions", walletHandler.ListTransactions)
		}

		workflows := api.Group("/workflows", authMw)
		{
			workflows.POST("/run", runHandler.Run)
			workflows.GET("/runs", runHandler.ListRuns)
			workflows.GET("/runs/:id", runHandler.GetRun)
		}

		webhooks := api.Group("/webhooks")
		{
			webhooks.POST("/payments", paymentWebhook.Handle)
			webhooks.POST("/telegram", telegramWebhook.Handle)
		}

		admin := api.Group("/admin", authMw, adminMw)
		{
			admin.GET("/tenants/:id/wallet", adminHandler.GetTenantWallet)
			admin.PUT("/tenants/:id/tier", adminHandler.SetTier)
			admin.POST("/tenants/:id/adjust", adminHandler.Adjust)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r, &Deps{
		Store:    store,
		Catalog:  catalog,
		Commands: cmdSvc,
		Runs:     runSvc,
		Identity: identitySvc,
	}
}
