// Package plan defines billing plans: tier, price, interval, included
// quantities per resource and overage rates.
package plan

import (
	"regexp"
	"time"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

// Tier names a plan family. The built-ins cover the default catalog; any
// other lower-case slug is accepted.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

var tierPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)

// ParseTier validates a tier name.
func ParseTier(s string) (Tier, error) {
	if !tierPattern.MatchString(s) {
		return "", types.E(types.KindInvalidTier, "tier %q", s)
	}
	return Tier(s), nil
}

// Interval is the billing cadence.
type Interval string

const (
	Monthly Interval = "month"
	Yearly  Interval = "year"
)

// ParseInterval rejects anything other than month or year.
func ParseInterval(s string) (Interval, error) {
	switch Interval(s) {
	case Monthly, Yearly:
		return Interval(s), nil
	default:
		return "", types.E(types.KindInvalidInterval, "interval %q", s)
	}
}

// NominalDays is the day count proration divides by: 30 or 365.
func (i Interval) NominalDays() (int64, error) {
	switch i {
	case Monthly:
		return 30, nil
	case Yearly:
		return 365, nil
	default:
		return 0, types.E(types.KindInvalidInterval, "interval %q", string(i))
	}
}

// Next returns the end of a billing period starting at t.
func (i Interval) Next(t time.Time) time.Time {
	if i == Yearly {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

// MonthsPerPeriod is used to normalize prices to a monthly figure.
func (i Interval) MonthsPerPeriod() int64 {
	if i == Yearly {
		return 12
	}
	return 1
}

// Quantity is an included allowance. Unlimited allowances ignore Value.
type Quantity struct {
	Value     int64 `json:"value"`
	Unlimited bool  `json:"unlimited,omitempty"`
}

// Limit returns a finite allowance.
func Limit(n int64) Quantity { return Quantity{Value: n} }

// Unlimited returns an unbounded allowance.
func Unlimited() Quantity { return Quantity{Unlimited: true} }

// Covers reports whether usage fits inside the allowance.
func (q Quantity) Covers(usage int64) bool {
	return q.Unlimited || usage <= q.Value
}

// Rate prices overage: Price per Per units. A zero Per means one unit.
type Rate struct {
	Price types.Money `json:"price"`
	Per   int64       `json:"per,omitempty"`
}

// Units returns the divisor of the rate.
func (r Rate) Units() int64 {
	if r.Per <= 0 {
		return 1
	}
	return r.Per
}

// Cost prices a whole number of units, rounding half-up.
func (r Rate) Cost(units int64) (types.Money, error) {
	return r.Price.MultiplyByRatio(units, r.Units())
}

// Plan is a catalog entry. A plan is immutable once a live subscription
// references it; deactivation is the only change allowed after that.
type Plan struct {
	types.Entity
	ID           id.PlanID           `json:"id"`
	Name         string              `json:"name"`
	Tier         Tier                `json:"tier"`
	Price        types.Money         `json:"price"`
	Interval     Interval            `json:"interval"`
	Entitlements map[string]Quantity `json:"entitlements"`
	OverageRates map[string]Rate     `json:"overage_rates,omitempty"`
	Active       bool                `json:"active"`
}

// Currency is the plan's billing currency.
func (p *Plan) Currency() string { return p.Price.Currency }

// Entitlement returns the allowance for a resource type.
func (p *Plan) Entitlement(resource string) (Quantity, bool) {
	q, ok := p.Entitlements[resource]
	return q, ok
}

// Validate checks the invariants every stored plan must satisfy.
func (p *Plan) Validate() error {
	if _, err := ParseTier(string(p.Tier)); err != nil {
		return err
	}
	if _, err := ParseInterval(string(p.Interval)); err != nil {
		return err
	}
	if _, err := types.Of(p.Price.Amount, p.Price.Currency); err != nil {
		return err
	}
	for res, q := range p.Entitlements {
		if !q.Unlimited && q.Value < 0 {
			return types.E(types.KindNegativeLimit, "entitlement %q is %d", res, q.Value)
		}
	}
	for res, r := range p.OverageRates {
		if r.Price.Amount < 0 {
			return types.E(types.KindInvalidAmount, "overage rate %q is negative", res)
		}
		if r.Price.Currency != p.Price.Currency {
			return types.E(types.KindCurrencyMismatch, "overage rate %q in %s", res, r.Price.Currency)
		}
	}
	return nil
}

// Well-known resource types of the default catalog.
const (
	ResourceAIRequests = "ai_requests"
	ResourceStorageGB  = "storage_gb"
	ResourceDomains    = "domains"
)

// DefaultTiers returns the stock free, pro and enterprise plans.
func DefaultTiers(currency string, now time.Time) []*Plan {
	cent := types.Money{Amount: 1, Currency: currency}
	rates := map[string]Rate{
		ResourceAIRequests: {Price: cent},
		ResourceStorageGB:  {Price: types.Money{Amount: 10, Currency: currency}},
		ResourceDomains:    {Price: types.Money{Amount: 100, Currency: currency}},
	}
	mk := func(name string, tier Tier, price int64, ai, storage, domains Quantity) *Plan {
		return &Plan{
			Entity:   types.NewEntity(now),
			ID:       id.NewPlanID(),
			Name:     name,
			Tier:     tier,
			Price:    types.Money{Amount: price, Currency: currency},
			Interval: Monthly,
			Entitlements: map[string]Quantity{
				ResourceAIRequests: ai,
				ResourceStorageGB:  storage,
				ResourceDomains:    domains,
			},
			OverageRates: rates,
			Active:       true,
		}
	}
	return []*Plan{
		mk("Free", TierFree, 0, Limit(100), Limit(5), Limit(1)),
		mk("Pro", TierPro, 2900, Limit(10000), Limit(50), Limit(5)),
		mk("Enterprise", TierEnterprise, 29900, Unlimited(), Unlimited(), Unlimited()),
	}
}
