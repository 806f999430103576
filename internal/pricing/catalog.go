package pricing

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"oneclaw/internal/domain"
)

// Bracket prices a closed quantity range. MaxQty == 0 means the bracket is
// open-ended. Brackets for a unit must not overlap.
type Bracket struct {
	MinQty         int64 `json:"min_qty"`
	MaxQty         int64 `json:"max_qty,omitempty"`
	UnitPriceCents int64 `json:"unit_price_cents"`
}

// Unit is one priceable workflow kind.
type Unit struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	BasePriceCents int64     `json:"base_price_cents"`
	Brackets       []Bracket `json:"brackets,omitempty"`
}

// Catalog is the static price table: priceable units plus tier discounts.
// It is loaded once at startup and treated as read-only afterwards.
type Catalog struct {
	Units           map[string]Unit  `json:"units"`
	TierDiscountPct map[string]int64 `json:"tier_discount_pct"`
}

// Default returns the built-in catalog used when no catalog file is configured.
func Default() *Catalog {
	return &Catalog{
		Units: map[string]Unit{
			"website_audit": {
				ID:             "website_audit",
				Name:           "Website Audit",
				BasePriceCents: 2000,
			},
			"lead_discovery": {
				ID:             "lead_discovery",
				Name:           "Lead Discovery",
				BasePriceCents: 50,
				Brackets: []Bracket{
					{MinQty: 1, MaxQty: 99, UnitPriceCents: 50},
					{MinQty: 100, MaxQty: 499, UnitPriceCents: 40},
					{MinQty: 500, UnitPriceCents: 30},
				},
			},
			"content_brief": {
				ID:             "content_brief",
				Name:           "Content Brief",
				BasePriceCents: 500,
			},
		},
		TierDiscountPct: map[string]int64{
			domain.TierBase: 0,
			domain.TierMid:  10,
			domain.TierTop:  20,
		},
	}
}

// LoadFile reads and validates a catalog from a JSON file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load returns the catalog at path, or the built-in defaults when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// Validate checks unit prices, bracket ordering and tier coverage.
func (c *Catalog) Validate() error {
	if len(c.Units) == 0 {
		return fmt.Errorf("catalog has no units")
	}
	for id, u := range c.Units {
		if u.BasePriceCents < 0 {
			return fmt.Errorf("unit %s: negative base price", id)
		}
		brackets := append([]Bracket(nil), u.Brackets...)
		sort.Slice(brackets, func(i, j int) bool { return brackets[i].MinQty < brackets[j].MinQty })
		for i, b := range brackets {
			if b.MinQty < 1 {
				return fmt.Errorf("unit %s: bracket min_qty must be >= 1", id)
			}
			if b.MaxQty != 0 && b.MaxQty < b.MinQty {
				return fmt.Errorf("unit %s: bracket max_qty < min_qty", id)
			}
			if b.UnitPriceCents < 0 {
				return fmt.Errorf("unit %s: negative bracket price", id)
			}
			if i > 0 {
				prev := brackets[i-1]
				if prev.MaxQty == 0 || b.MinQty <= prev.MaxQty {
					return fmt.Errorf("unit %s: overlapping brackets at min_qty=%d", id, b.MinQty)
				}
			}
		}
	}
	for _, tier := range domain.Tiers {
		pct, ok := c.TierDiscountPct[tier]
		if !ok {
			return fmt.Errorf("catalog missing tier %q", tier)
		}
		if pct < 0 || pct > 100 {
			return fmt.Errorf("tier %s: discount must be 0..100", tier)
		}
	}
	return nil
}
