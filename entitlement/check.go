package entitlement

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/types"
)

var hundred = decimal.NewFromInt(100)

// Check compares usage against limits for every resource in usage.
// Percentages are capped at 100 and rounded half-up to two places; a zero
// limit with positive usage reads as 100%.
func Check(usage map[string]int64, limits map[string]plan.Quantity) (Report, error) {
	resources := make([]string, 0, len(usage))
	for res := range usage {
		resources = append(resources, res)
	}
	sort.Strings(resources)

	out := make(Report, len(usage))
	for _, res := range resources {
		used := usage[res]
		if used < 0 {
			return nil, types.E(types.KindNegativeUsage, "%s usage is %d", res, used)
		}
		limit, ok := limits[res]
		if !ok {
			return nil, types.E(types.KindUnknownResourceType, "%q has no limit", res)
		}
		if !limit.Unlimited && limit.Value < 0 {
			return nil, types.E(types.KindNegativeLimit, "%s limit is %d", res, limit.Value)
		}
		out[res] = status(res, used, limit)
	}
	return out, nil
}

func status(res string, used int64, limit plan.Quantity) Status {
	s := Status{
		Resource:        res,
		Usage:           used,
		Limit:           limit.Value,
		Unlimited:       limit.Unlimited,
		WithinLimit:     limit.Covers(used),
		UsagePercentage: decimal.Zero,
	}
	switch {
	case limit.Unlimited:
		s.Remaining = -1
	case limit.Value == 0:
		if used > 0 {
			s.UsagePercentage = hundred
		}
	default:
		s.Remaining = max(0, limit.Value-used)
		pct := decimal.NewFromInt(used).Mul(hundred).Div(decimal.NewFromInt(limit.Value))
		s.UsagePercentage = decimal.Min(pct, hundred).Round(2)
	}
	return s
}
