package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"oneclaw/internal/ledger"
	"oneclaw/internal/metering"
	"oneclaw/internal/models"
	"oneclaw/internal/pricing"
)

// TenantResolver maps a platform user to a tenant id.
type TenantResolver interface {
	Resolve(provider, providerUserID, username string) (string, error)
}

// WorkflowRunner runs the metering saga for a tenant request.
type WorkflowRunner interface {
	Run(ctx context.Context, in RunInput) (*metering.RunResult, *models.WorkflowRun, error)
}

// CommandService routes bot commands from any chat platform. Replies are plain
// text suitable for Discord and Telegram alike. The platform message id is
// used as the request id, so a redelivered message never double-charges.
type CommandService struct {
	resolver TenantResolver
	runner   WorkflowRunner
	store    ledger.Store
	catalog  *pricing.Catalog
	prefix   string
}

func NewCommandService(resolver TenantResolver, runner WorkflowRunner, store ledger.Store, catalog *pricing.Catalog, prefix string) *CommandService {
	if prefix == "" {
		prefix = "!"
	}
	return &CommandService{resolver: resolver, runner: runner, store: store, catalog: catalog, prefix: prefix}
}

// IsCommand reports whether text addresses the bot.
func (s *CommandService) IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), s.prefix)
}

// Handle executes one command and returns the reply text. Empty reply means
// nothing to send.
func (s *CommandService) Handle(ctx context.Context, provider, providerUserID, username, messageID, text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, s.prefix) {
		return ""
	}
	fields := strings.Fields(strings.TrimPrefix(text, s.prefix))
	if len(fields) == 0 {
		return ""
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	if cmd == "help" {
		return s.helpText()
	}

	tenantID, err := s.resolver.Resolve(provider, providerUserID, username)
	if err != nil {
		return "Something went wrong resolving your account. Please try again."
	}

	switch cmd {
	case "balance":
		return s.handleBalance(tenantID)
	case "price":
		return s.handlePrice(tenantID, args)
	case "run":
		return s.handleRun(ctx, tenantID, messageID, args)
	default:
		return fmt.Sprintf("Unknown command %s%s. Try %shelp.", s.prefix, cmd, s.prefix)
	}
}

func (s *CommandService) helpText() string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	fmt.Fprintf(&b, "  %sbalance - show your wallet balance\n", s.prefix)
	fmt.Fprintf(&b, "  %sprice <unit> [qty] - quote a workflow\n", s.prefix)
	fmt.Fprintf(&b, "  %srun <unit> [qty] [input...] - run a workflow (charged)\n", s.prefix)
	b.WriteString("Units: ")
	first := true
	for id := range s.catalog.Units {
		if !first {
			b.WriteString(", ")
		}
		b.WriteString(id)
		first = false
	}
	return b.String()
}

func (s *CommandService) handleBalance(tenantID string) string {
	w, err := s.store.GetWallet(tenantID)
	if err != nil {
		return "Could not load your wallet right now. Please try again."
	}
	return fmt.Sprintf("Balance: %s (tier %s, lifetime spent %s, topped up %s)",
		formatCents(w.BalanceCents), w.Tier, formatCents(w.LifetimeSpentCents), formatCents(w.LifetimeToppedUpCents))
}

func (s *CommandService) handlePrice(tenantID string, args []string) string {
	unitID, qty, _, err := parseUnitArgs(args)
	if err != nil {
		return err.Error()
	}
	w, err := s.store.GetWallet(tenantID)
	if err != nil {
		return "Could not load your wallet right now. Please try again."
	}
	priced, err := s.catalog.Calculate(unitID, qty, w.Tier)
	if err != nil {
		return priceErrorText(err)
	}
	return fmt.Sprintf("%s x%d = %s (unit %s, tier discount %d%%, bulk discount %d%%)",
		unitID, qty, formatCents(priced.FinalPriceCents), formatCents(priced.UnitPriceCents),
		priced.TierDiscountPct, priced.BulkDiscountPct)
}

func (s *CommandService) handleRun(ctx context.Context, tenantID, messageID string, args []string) string {
	unitID, qty, rest, err := parseUnitArgs(args)
	if err != nil {
		return err.Error()
	}
	var input json.RawMessage
	if len(rest) > 0 {
		data, _ := json.Marshal(map[string]string{"query": strings.Join(rest, " ")})
		input = data
	}
	result, run, err := s.runner.Run(ctx, RunInput{
		TenantID:  tenantID,
		UnitID:    unitID,
		Quantity:  qty,
		RequestID: messageID,
		Input:     input,
	})
	if err != nil {
		var insufficient *ledger.InsufficientBalanceError
		var execFailed *metering.ExecutionFailedError
		var refundFailed *metering.RefundFailedError
		switch {
		case errors.As(err, &insufficient):
			return fmt.Sprintf("Not enough balance: need %s, you have %s. Top up to continue.",
				formatCents(insufficient.RequestedCents), formatCents(insufficient.AvailableCents))
		case errors.As(err, &refundFailed):
			return "The workflow failed and the automatic refund did not go through. Support has been alerted; your balance will be reconciled."
		case errors.As(err, &execFailed):
			return fmt.Sprintf("Workflow failed, your charge was refunded. Balance: %s", formatCents(result.BalanceCents))
		default:
			return priceErrorText(err)
		}
	}
	return fmt.Sprintf("Done. Run %s finished, charged %s. Balance: %s",
		run.RunID, formatCents(run.PriceCents), formatCents(result.BalanceCents))
}

func parseUnitArgs(args []string) (unitID string, qty int64, rest []string, err error) {
	if len(args) == 0 {
		return "", 0, nil, errors.New("Usage: <unit> [qty]")
	}
	unitID = args[0]
	qty = 1
	rest = args[1:]
	if len(rest) > 0 {
		if n, perr := strconv.ParseInt(rest[0], 10, 64); perr == nil {
			qty = n
			rest = rest[1:]
		}
	}
	return unitID, qty, rest, nil
}

func priceErrorText(err error) string {
	var unknown *pricing.UnknownUnitError
	var invalid *pricing.InvalidQuantityError
	switch {
	case errors.As(err, &unknown):
		return fmt.Sprintf("Unknown unit %q.", unknown.UnitID)
	case errors.As(err, &invalid):
		return "Quantity must be at least 1."
	default:
		return "Something went wrong. Please try again."
	}
}

func formatCents(cents int64) string {
	neg := ""
	if cents < 0 {
		neg = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", neg, cents/100, cents%100)
}
