package domain

// Tenant wallet tiers. Discount percentages live in the pricing catalog.
const (
	TierBase = "base"
	TierMid  = "mid"
	TierTop  = "top"
)

// Tiers lists valid tier values for validation.
var Tiers = []string{TierBase, TierMid, TierTop}

func ValidTier(tier string) bool {
	for _, t := range Tiers {
		if t == tier {
			return true
		}
	}
	return false
}

const (
	TxTypeCredit     = "CREDIT"
	TxTypeDebit      = "DEBIT"
	TxTypeAdjustment = "ADJUSTMENT"
)

const (
	SourcePaymentProcessor = "PAYMENT_PROCESSOR"
	SourceWorkflowCharge   = "WORKFLOW_CHARGE"
	SourceRefund           = "REFUND"
	SourceAdmin            = "ADMIN"
	SourcePromo            = "PROMO"
)

const (
	RoleAdmin  = "ADMIN"
	RoleTenant = "TENANT"
)

// Chat platform providers that can resolve to a tenant.
const (
	ProviderDiscord  = "discord"
	ProviderTelegram = "telegram"
	ProviderGoogle   = "google"
	ProviderHTTP     = "http"
)

const (
	RunStatusSucceeded    = "SUCCEEDED"
	RunStatusRefunded     = "REFUNDED"
	RunStatusRefundFailed = "REFUND_FAILED"
)
