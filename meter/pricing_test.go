package meter_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/types"
)

var fallback = plan.Rate{Price: types.USD(1)}

func aiPlan() *plan.Plan {
	return &plan.Plan{
		ID:       id.NewPlanID(),
		Tier:     plan.TierPro,
		Price:    types.USD(9900),
		Interval: plan.Monthly,
		Entitlements: map[string]plan.Quantity{
			"ai_requests": plan.Limit(100),
			"storage_gb":  plan.Limit(5),
			"seats":       plan.Unlimited(),
		},
		OverageRates: map[string]plan.Rate{
			"ai_requests": {Price: types.USD(1)},
			"storage_gb":  {Price: types.USD(25), Per: 2},
		},
		Active: true,
	}
}

func TestPriceUsageScenario(t *testing.T) {
	p := aiPlan()

	over, err := meter.Price(150, "ai_requests", p, fallback)
	require.NoError(t, err)
	assert.Equal(t, int64(50), over.Amount.Amount)
	assert.Equal(t, int64(50), over.Overage)
	assert.False(t, over.WithinLimit)

	under, err := meter.Price(50, "ai_requests", p, fallback)
	require.NoError(t, err)
	assert.True(t, under.Amount.IsZero())
	assert.True(t, under.WithinLimit)

	exact, err := meter.Price(100, "ai_requests", p, fallback)
	require.NoError(t, err)
	assert.True(t, exact.WithinLimit)
}

func TestPriceUsageUnlimited(t *testing.T) {
	c, err := meter.Price(1_000_000, "seats", aiPlan(), fallback)
	require.NoError(t, err)
	assert.True(t, c.WithinLimit)
	assert.True(t, c.Amount.IsZero())
}

func TestPriceUsageRatePerUnitsRoundsHalfUp(t *testing.T) {
	// 3 GB over at 25c per 2 GB is 37.5c.
	c, err := meter.Price(8, "storage_gb", aiPlan(), fallback)
	require.NoError(t, err)
	assert.Equal(t, int64(38), c.Amount.Amount)
}

func TestPriceUsageFallbackRate(t *testing.T) {
	p := aiPlan()
	delete(p.OverageRates, "ai_requests")

	c, err := meter.Price(130, "ai_requests", p, plan.Rate{Price: types.USD(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(60), c.Amount.Amount)
	assert.Equal(t, "usd", c.Amount.Currency)
}

func TestPriceUsageErrors(t *testing.T) {
	_, err := meter.Price(10, "gpu_hours", aiPlan(), fallback)
	assert.ErrorIs(t, err, types.ErrUnknownResourceType)

	_, err = meter.Price(-1, "ai_requests", aiPlan(), fallback)
	assert.ErrorIs(t, err, types.ErrInvalidQuantity)
}

func TestOverageMonotonic(t *testing.T) {
	p := aiPlan()
	prev := int64(-1)
	for usage := int64(100); usage <= 400; usage += 7 {
		c, err := meter.Price(usage, "storage_gb", p, fallback)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, c.Amount.Amount, prev, "usage %d", usage)
		prev = c.Amount.Amount
	}
}

func TestValidateWindow(t *testing.T) {
	now := time.Now()
	_, err := meter.ValidateWindow(now, now.Add(-time.Second))
	assert.ErrorIs(t, err, types.ErrInvalidRange)

	w, err := meter.ValidateWindow(now, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, w.Contains(now))
	assert.False(t, w.Contains(now.Add(time.Hour)))
}
