// Package campaign builds the per-currency raised/target view for an
// owner- or repository-scoped fundraising campaign.
package campaign

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/workfund/dowfund/currency"
	"github.com/workfund/dowfund/id"
	"github.com/workfund/dowfund/types"
)

// Scope selects whose payments feed a campaign: everything under an
// owner, or one repository.
type Scope struct {
	OwnerID      id.OwnerID      `json:"owner_id"`
	RepositoryID id.RepositoryID `json:"repository_id,omitempty"` // Nil means owner-wide
}

// Validate checks that the scope names at least an owner.
func (s Scope) Validate() error {
	if s.OwnerID.IsNil() {
		return fmt.Errorf("campaign: scope missing owner")
	}
	return nil
}

// Price is one entry of the published price catalog: what a block of DoW
// credit costs in a given currency. The catalog is maintained by the
// surrounding application; campaigns only surface it.
type Price struct {
	Label    string        `json:"label"`
	Currency currency.Code `json:"currency"`
	Amount   types.Money   `json:"amount"`
	Credit   types.Credit  `json:"credit"`
}

// Campaign is the aggregated fundraising view. Raised and Target carry
// one entry per supported currency, each the full campaign total
// expressed in that currency.
type Campaign struct {
	Raised map[currency.Code]types.Money `json:"raised_amount"`
	Target map[currency.Code]types.Money `json:"target_amount"`
	Prices []Price                       `json:"prices"`
}

// Build aggregates per-source-currency raised totals into every supported
// target currency and converts the USD goal likewise.
//
// For each target currency C: raised[C] = Σ over source currencies S of
// convert(raised[S], S→C). Conversion is exact decimal; the final amount
// per currency is rounded once, half away from zero, to that currency's
// minor unit.
func Build(raised map[currency.Code]types.Money, goal types.Money, conv *currency.Converter, prices []Price) (*Campaign, error) {
	c := &Campaign{
		Raised: make(map[currency.Code]types.Money, len(currency.Supported())),
		Target: make(map[currency.Code]types.Money, len(currency.Supported())),
		Prices: prices,
	}

	goalCurrency, err := currency.Parse(goal.Currency)
	if err != nil {
		return nil, fmt.Errorf("campaign: goal currency: %w", err)
	}

	for _, target := range currency.Supported() {
		total := decimal.Zero
		for source, amount := range raised {
			converted, err := conv.Convert(amount.ToDecimal(), source, target)
			if err != nil {
				return nil, fmt.Errorf("campaign: raised %s→%s: %w", source, target, err)
			}
			total = total.Add(converted)
		}
		c.Raised[target] = types.MoneyFromDecimal(total, target.String())

		converted, err := conv.Convert(goal.ToDecimal(), goalCurrency, target)
		if err != nil {
			return nil, fmt.Errorf("campaign: goal %s→%s: %w", goalCurrency, target, err)
		}
		c.Target[target] = types.MoneyFromDecimal(converted, target.String())
	}

	return c, nil
}
