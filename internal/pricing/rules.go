package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

// Rules maps each family to its cost-to-resale multiplier.
type Rules map[sourcing.Family]float64

// DefaultRules returns the stock markup table.
func DefaultRules() Rules {
	return Rules{
		sourcing.FamilyAmazon:     1.30,
		sourcing.FamilyAliExpress: 1.50,
		sourcing.FamilyEbay:       1.20,
	}
}

// Multiplier returns the markup for f, or 1 when none is configured.
func (r Rules) Multiplier(f sourcing.Family) float64 {
	if m, ok := r[f]; ok && m > 0 {
		return m
	}
	return 1
}

// Resale applies the family markup to cost.
func (r Rules) Resale(f sourcing.Family, cost float64) float64 {
	return ApplyMarkup(cost, r.Multiplier(f))
}

// Describe renders the table for the status snapshot, e.g. "Amazon" -> "+30%".
func (r Rules) Describe() map[string]string {
	out := make(map[string]string, len(r))
	for fam, m := range r {
		pct := decimal.NewFromFloat(m).Sub(decimal.NewFromInt(1)).Mul(hundred).Round(0)
		out[string(fam)] = fmt.Sprintf("+%s%%", pct.String())
	}
	return out
}
