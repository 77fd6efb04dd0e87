package meter

import (
	"time"

	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/types"
)

// Cost is the outcome of pricing a usage total.
type Cost struct {
	ResourceType string      `json:"resource_type"`
	Usage        int64       `json:"usage"`
	Included     int64       `json:"included"`
	Unlimited    bool        `json:"unlimited,omitempty"`
	Overage      int64       `json:"overage"`
	Amount       types.Money `json:"amount"`
	WithinLimit  bool        `json:"within_limit"`
}

// ValidateWindow rejects windows that end before they start.
func ValidateWindow(start, end time.Time) (Window, error) {
	if end.Before(start) {
		return Window{}, types.E(types.KindInvalidRange, "window end before start")
	}
	return Window{Start: start.UTC(), End: end.UTC()}, nil
}

// Price prices total units of resourceType under p. The plan's overage rate
// wins; fallback applies when the plan has none for the resource.
func Price(total int64, resourceType string, p *plan.Plan, fallback plan.Rate) (Cost, error) {
	if total < 0 {
		return Cost{}, types.E(types.KindInvalidQuantity, "usage total %d is negative", total)
	}
	included, ok := p.Entitlement(resourceType)
	if !ok {
		return Cost{}, types.E(types.KindUnknownResourceType, "%q is not entitled by plan %s", resourceType, p.ID)
	}

	c := Cost{
		ResourceType: resourceType,
		Usage:        total,
		Included:     included.Value,
		Unlimited:    included.Unlimited,
		Amount:       types.Zero(p.Currency()),
		WithinLimit:  true,
	}
	if included.Covers(total) {
		return c, nil
	}

	rate, ok := p.OverageRates[resourceType]
	if !ok {
		// The fallback is configured in minor units and billed in the plan's currency.
		rate = plan.Rate{Price: types.Money{Amount: fallback.Price.Amount, Currency: p.Currency()}, Per: fallback.Per}
	}
	if rate.Price.Currency != p.Currency() {
		return Cost{}, types.E(types.KindCurrencyMismatch, "overage rate for %q in %s, plan in %s", resourceType, rate.Price.Currency, p.Currency())
	}

	c.Overage = total - included.Value
	amount, err := rate.Cost(c.Overage)
	if err != nil {
		return Cost{}, err
	}
	c.Amount = amount
	c.WithinLimit = false
	return c, nil
}
