// Package metrics computes recurring-revenue figures over a population of
// subscriptions. Everything here is pure.
package metrics

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/types"
)

// StatusChurned is accepted from external sources as a synonym for canceled.
const StatusChurned = "churned"

// Record is one subscription as seen by the aggregator.
type Record struct {
	SubscriptionID string        `json:"subscription_id"`
	Status         string        `json:"status"`
	Price          types.Money   `json:"price"`
	Interval       plan.Interval `json:"interval"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Report is the output of Compute.
type Report struct {
	WindowStart      time.Time       `json:"window_start"`
	WindowEnd        time.Time       `json:"window_end"`
	MRR              types.Money     `json:"mrr"`
	ARPU             types.Money     `json:"arpu"`
	ActiveCount      int64           `json:"active_count"`
	ChurnedCount     int64           `json:"churned_count"`
	ChurnRatePercent decimal.Decimal `json:"churn_rate_percent"`
}

type class int

const (
	classIgnored class = iota
	classActive
	classChurned
)

func classify(status string) (class, error) {
	switch status {
	case "active":
		return classActive, nil
	case "canceled", StatusChurned:
		return classChurned, nil
	case "canceling", "past_due":
		return classIgnored, nil
	default:
		return classIgnored, types.E(types.KindInvalidSubscriptionStatus, "status %q", status)
	}
}

var hundred = decimal.NewFromInt(100)

// Compute aggregates records updated inside [start, end]. Every record is
// classified before any is counted, so one bad status fails the whole call.
// Yearly prices are normalized to a monthly figure; MRR is summed exactly
// and rounded once.
func Compute(records []Record, start, end time.Time, currency string) (Report, error) {
	if end.Before(start) {
		return Report{}, types.E(types.KindInvalidRange, "window end before start")
	}

	classes := make([]class, len(records))
	for i, r := range records {
		c, err := classify(r.Status)
		if err != nil {
			return Report{}, err
		}
		classes[i] = c
	}

	inWindow := func(t time.Time) bool { return !t.Before(start) && !t.After(end) }

	mrr := decimal.Zero
	var active, churned int64
	for i, r := range records {
		if !inWindow(r.UpdatedAt) {
			continue
		}
		switch classes[i] {
		case classActive:
			if r.Price.Currency != currency {
				return Report{}, types.E(types.KindCurrencyMismatch, "subscription %s in %s", r.SubscriptionID, r.Price.Currency)
			}
			months := r.Interval.MonthsPerPeriod()
			mrr = mrr.Add(r.Price.Decimal().Div(decimal.NewFromInt(months)))
			active++
		case classChurned:
			churned++
		}
	}

	total, err := types.FromMajor(mrr, currency)
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		WindowStart:      start.UTC(),
		WindowEnd:        end.UTC(),
		MRR:              total,
		ARPU:             types.Zero(currency),
		ActiveCount:      active,
		ChurnedCount:     churned,
		ChurnRatePercent: decimal.Zero,
	}
	if active > 0 {
		n := decimal.NewFromInt(active)
		rep.ChurnRatePercent = decimal.NewFromInt(churned).Div(n).Mul(hundred).Round(2)
		rep.ARPU, _ = types.FromMajor(mrr.Div(n), currency) //nolint:errcheck // mrr is non-negative
	}
	return rep, nil
}

// CountByStatus tallies records by raw status, for dashboards.
func CountByStatus(records []Record) map[string]int {
	return lo.CountValuesBy(records, func(r Record) string { return r.Status })
}
