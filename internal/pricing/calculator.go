package pricing

import (
	"errors"
	"fmt"
	"sort"
)

// PricedOperation is a deterministic quote. It is never persisted; the
// orchestrator uses it to decide how much to debit before executing.
type PricedOperation struct {
	UnitID          string `json:"unit_id"`
	Quantity        int64  `json:"quantity"`
	Tier            string `json:"tier"`
	BasePriceCents  int64  `json:"base_price_cents"`
	UnitPriceCents  int64  `json:"unit_price_cents"`
	TierDiscountPct int64  `json:"tier_discount_pct"`
	BulkDiscountPct int64  `json:"bulk_discount_pct"`
	FinalPriceCents int64  `json:"final_price_cents"`
}

type UnknownUnitError struct {
	UnitID string
}

func (e *UnknownUnitError) Error() string {
	return fmt.Sprintf("unknown pricing unit %q", e.UnitID)
}

type InvalidQuantityError struct {
	Quantity int64
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d: must be >= 1", e.Quantity)
}

var ErrUnknownTier = errors.New("unknown tier")

// Calculate prices quantity units of unitID for a tenant on the given tier.
// Pure integer arithmetic, no clock, no randomness: identical inputs always
// produce the identical final price. The tier discount is applied last and the
// result floored, so rounding never exceeds the computed discount.
func (c *Catalog) Calculate(unitID string, quantity int64, tier string) (*PricedOperation, error) {
	unit, ok := c.Units[unitID]
	if !ok {
		return nil, &UnknownUnitError{UnitID: unitID}
	}
	if quantity < 1 {
		return nil, &InvalidQuantityError{Quantity: quantity}
	}
	discountPct, ok := c.TierDiscountPct[tier]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}

	unitPrice := unit.BasePriceCents
	if b := selectBracket(unit.Brackets, quantity); b != nil {
		unitPrice = b.UnitPriceCents
	}

	subtotal := unitPrice * quantity
	final := subtotal * (100 - discountPct) / 100

	var bulkPct int64
	if unit.BasePriceCents > 0 && unitPrice < unit.BasePriceCents {
		bulkPct = (unit.BasePriceCents - unitPrice) * 100 / unit.BasePriceCents
	}

	return &PricedOperation{
		UnitID:          unitID,
		Quantity:        quantity,
		Tier:            tier,
		BasePriceCents:  unit.BasePriceCents,
		UnitPriceCents:  unitPrice,
		TierDiscountPct: discountPct,
		BulkDiscountPct: bulkPct,
		FinalPriceCents: final,
	}, nil
}

// selectBracket picks the bracket with the largest lower bound <= quantity.
// A quantity past the bracket's upper bound falls in a gap and gets no bulk
// pricing.
func selectBracket(brackets []Bracket, quantity int64) *Bracket {
	if len(brackets) == 0 {
		return nil
	}
	sorted := append([]Bracket(nil), brackets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinQty < sorted[j].MinQty })
	var match *Bracket
	for i := range sorted {
		if sorted[i].MinQty <= quantity {
			match = &sorted[i]
		}
	}
	if match == nil {
		return nil
	}
	if match.MaxQty != 0 && quantity > match.MaxQty {
		return nil
	}
	return match
}
