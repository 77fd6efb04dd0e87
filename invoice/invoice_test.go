package invoice_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/types"
)

var now = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func builder(reason invoice.Reason) *invoice.Builder {
	return invoice.NewBuilder("acct_1", id.NewSubscriptionID(), "usd", reason, now, now.AddDate(0, 1, 0), now)
}

func TestBuilderTotals(t *testing.T) {
	inv, err := builder(invoice.ReasonRenewal).
		Charge(invoice.LineItemBase, "Pro plan", "", 1, types.USD(9900)).
		ChargeAmount(invoice.LineItemOverage, "ai_requests overage", "ai_requests", 50, types.USD(50)).
		Charge(invoice.LineItemAddOn, "Dashboard pack", "", 2, types.USD(1000)).
		Build(now)
	require.NoError(t, err)

	assert.Equal(t, int64(11950), inv.Total.Amount)
	assert.Equal(t, inv.Subtotal, inv.Total)
	assert.Equal(t, invoice.StatusOpen, inv.Status)
	assert.Len(t, inv.LineItems, 3)
	assert.Len(t, inv.Lines(invoice.LineItemOverage), 1)
	assert.Equal(t, int64(1), inv.Lines(invoice.LineItemOverage)[0].UnitAmount.Amount)
	for _, li := range inv.LineItems {
		assert.False(t, li.ID.IsNil())
	}
}

func TestBuilderZeroTotalIsPaid(t *testing.T) {
	inv, err := builder(invoice.ReasonFinal).Build(now)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, inv.Status)
	require.NotNil(t, inv.PaidAt)
	assert.True(t, inv.Total.IsZero())
}

func TestBuilderCreditClampsAtZero(t *testing.T) {
	inv, err := builder(invoice.ReasonProration).
		ChargeAmount(invoice.LineItemProration, "Basic for 10 days", "", 1, types.USD(300)).
		Credit("Unused Pro", types.USD(3300)).
		Build(now)
	require.NoError(t, err)
	assert.Equal(t, int64(-3000), inv.Subtotal.Amount)
	assert.True(t, inv.Total.IsZero())
	assert.Equal(t, invoice.StatusPaid, inv.Status)
}

func TestBuilderRejects(t *testing.T) {
	_, err := builder(invoice.ReasonRenewal).Charge(invoice.LineItemBase, "bad", "", 1, types.USD(-1)).Build(now)
	assert.ErrorIs(t, err, types.ErrInvalidLineItem)

	_, err = builder(invoice.ReasonRenewal).Charge(invoice.LineItemBase, " ", "", 1, types.USD(1)).Build(now)
	assert.ErrorIs(t, err, types.ErrInvalidLineItem)

	_, err = builder(invoice.ReasonRenewal).Charge(invoice.LineItemBase, "euro", "", 1, types.EUR(1)).Build(now)
	assert.ErrorIs(t, err, types.ErrCurrencyMismatch)
}

func TestFormat(t *testing.T) {
	items := []invoice.LineItem{
		{Description: "Pro plan", Quantity: 1, UnitAmount: types.USD(9999), Amount: types.USD(9999), Type: invoice.LineItemBase},
		{Description: "Seats", Quantity: 3, UnitAmount: types.USD(500), Amount: types.USD(1500), Type: invoice.LineItemAddOn},
	}
	out, err := invoice.Format(items, "usd")
	require.NoError(t, err)

	require.Len(t, out.Items, 2)
	assert.Equal(t, "USD 99.99", out.Items[0].Amount)
	assert.Equal(t, "USD 5.00", out.Items[1].Amount)
	assert.Equal(t, "USD 15.00", out.Items[1].Subtotal)
	assert.Equal(t, "USD 114.99", out.Total)
}

func TestFormatRejectsInvalidLines(t *testing.T) {
	_, err := invoice.Format([]invoice.LineItem{{Amount: types.USD(1)}}, "usd")
	assert.ErrorIs(t, err, types.ErrInvalidLineItem)

	_, err = invoice.Format([]invoice.LineItem{{Description: "x", Amount: types.USD(-1), Type: invoice.LineItemBase}}, "usd")
	assert.ErrorIs(t, err, types.ErrInvalidLineItem)
}
