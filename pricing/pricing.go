// Package pricing holds the pure charge calculations: proration of a
// period fee and marketplace commission.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/types"
)

// DefaultCommissionRate is the marketplace take on add-on sales.
var DefaultCommissionRate = decimal.RequireFromString("0.15")

const day = 24 * time.Hour

// WholeDays counts complete 24h days in [start, end).
func WholeDays(start, end time.Time) int64 {
	return int64(end.Sub(start) / day)
}

// Prorate charges base for the fraction of the interval covered by
// [start, end): base * wholeDays / nominalDays, rounded half-up. A full
// nominal period returns base unchanged.
func Prorate(base types.Money, start, end time.Time, interval plan.Interval) (types.Money, error) {
	if end.Before(start) {
		return types.Money{}, types.E(types.KindInvalidRange, "period end %s before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	nominal, err := interval.NominalDays()
	if err != nil {
		return types.Money{}, err
	}
	if base.Amount < 0 {
		return types.Money{}, types.E(types.KindInvalidAmount, "base amount %d is negative", base.Amount)
	}
	days := WholeDays(start, end)
	if days == nominal {
		return base, nil
	}
	return base.MultiplyByRatio(days, nominal)
}

// Commission returns rate * sale rounded half-up to the minor unit.
func Commission(sale types.Money, rate decimal.Decimal) (types.Money, error) {
	if sale.Amount < 0 {
		return types.Money{}, types.E(types.KindInvalidAmount, "sale amount %d is negative", sale.Amount)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return types.Money{}, types.E(types.KindInvalidRate, "commission rate %s outside [0, 1]", rate)
	}
	return sale.MultiplyDecimal(rate), nil
}
