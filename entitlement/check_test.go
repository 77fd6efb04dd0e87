package entitlement_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/entitlement"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/types"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		usage   int64
		limit   plan.Quantity
		within  bool
		percent string
	}{
		{"three quarters", 75, plan.Limit(100), true, "75"},
		{"four of five", 4, plan.Limit(5), true, "80"},
		{"at limit", 1, plan.Limit(1), true, "100"},
		{"over limit caps at 100", 150, plan.Limit(100), false, "100"},
		{"zero limit no usage", 0, plan.Limit(0), true, "0"},
		{"zero limit with usage", 3, plan.Limit(0), false, "100"},
		{"repeating fraction", 1, plan.Limit(3), true, "33.33"},
		{"rounds half up", 2, plan.Limit(3), true, "66.67"},
		{"unlimited", 1_000_000, plan.Unlimited(), true, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, err := entitlement.Check(
				map[string]int64{"ai_requests": tt.usage},
				map[string]plan.Quantity{"ai_requests": tt.limit},
			)
			require.NoError(t, err)
			s := rep["ai_requests"]
			assert.Equal(t, tt.within, s.WithinLimit)
			assert.Equal(t, tt.percent, s.UsagePercentage.String())
		})
	}
}

func TestCheckErrors(t *testing.T) {
	_, err := entitlement.Check(map[string]int64{"a": -1}, map[string]plan.Quantity{"a": plan.Limit(1)})
	assert.ErrorIs(t, err, types.ErrNegativeUsage)

	_, err = entitlement.Check(map[string]int64{"a": 1}, map[string]plan.Quantity{"a": plan.Limit(-1)})
	assert.ErrorIs(t, err, types.ErrNegativeLimit)

	_, err = entitlement.Check(map[string]int64{"a": 1}, nil)
	assert.ErrorIs(t, err, types.ErrUnknownResourceType)
}

func TestCheckEmpty(t *testing.T) {
	rep, err := entitlement.Check(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, rep)
	assert.Empty(t, rep.Exceeded())
}

func TestReportExceeded(t *testing.T) {
	rep, err := entitlement.Check(
		map[string]int64{"ai_requests": 101, "domains": 1},
		map[string]plan.Quantity{"ai_requests": plan.Limit(100), "domains": plan.Limit(1)},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"ai_requests"}, rep.Exceeded())
	assert.Equal(t, int64(0), rep["ai_requests"].Remaining)
}
