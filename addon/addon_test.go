package addon_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/addon"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/types"
)

func TestValidatePrice(t *testing.T) {
	tests := []struct {
		name  string
		typ   addon.Type
		price int64
		ok    bool
	}{
		{"model pack above floor", addon.TypeModelPack, 50000, true},
		{"model pack below floor", addon.TypeModelPack, 49899, false},
		{"dashboard pack above floor", addon.TypeDashboardPack, 30000, true},
		{"dashboard pack below floor", addon.TypeDashboardPack, 29899, false},
		{"finetuning at floor", addon.TypeFinetuning, 150000, true},
		{"finetuning below floor", addon.TypeFinetuning, 149999, false},
		{"consulting at floor", addon.TypeConsulting, 25000, true},
		{"custom type has no floor", addon.Type("custom_type"), 1000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &addon.AddOn{Name: tt.name, Type: tt.typ, Price: types.USD(tt.price)}
			err := a.ValidatePrice()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, types.ErrAddOnPriceTooLow)
			}
		})
	}

	neg := &addon.AddOn{Name: "neg", Type: addon.TypeConsulting, Price: types.USD(-1)}
	assert.ErrorIs(t, neg.ValidatePrice(), types.ErrInvalidAmount)
}

func TestMinimumPriceZeroDecimalCurrency(t *testing.T) {
	m, ok := addon.MinimumPrice(addon.TypeConsulting, "jpy")
	require.True(t, ok)
	assert.Equal(t, int64(250), m.Amount)
}

func TestMemoryCatalog(t *testing.T) {
	pack := &addon.AddOn{Name: "Dashboards", Type: addon.TypeDashboardPack, Price: types.USD(29900), Recurring: true, Interval: plan.Monthly, Active: true}
	c, err := addon.NewMemoryCatalog(pack)
	require.NoError(t, err)
	require.False(t, pack.ID.IsNil())

	got, err := c.GetAddOn(context.Background(), pack.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dashboards", got.Name)
	assert.Len(t, c.List(), 1)

	_, err = c.GetAddOn(context.Background(), id.NewAddOnID())
	assert.ErrorIs(t, err, types.ErrAddOnNotFound)

	err = c.Put(&addon.AddOn{Name: "Weekly", Type: "x", Price: types.USD(1), Recurring: true, Interval: "week"})
	assert.ErrorIs(t, err, types.ErrInvalidInterval)
}
