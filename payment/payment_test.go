package payment_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/payment"
	"github.com/xraph/tally/types"
)

func TestFakeFlow(t *testing.T) {
	ctx := context.Background()
	f := payment.NewFake()

	auth, err := f.Authorize(ctx, "acct_1", types.USD(1000), "tok_visa")
	require.NoError(t, err)

	ref, err := f.Capture(ctx, auth.ID, types.USD(1000))
	require.NoError(t, err)
	got, ok := f.Captured(ref)
	require.True(t, ok)
	assert.Equal(t, types.USD(1000), got)

	require.NoError(t, f.Refund(ctx, ref, types.USD(400)))
	require.NoError(t, f.Refund(ctx, ref, types.USD(600)))
	assert.ErrorIs(t, f.Refund(ctx, ref, types.USD(1)), payment.ErrDeclined)
	assert.Equal(t, types.USD(1000), f.Refunded(ref))
}

func TestFakeOutcomes(t *testing.T) {
	ctx := context.Background()
	f := payment.NewFake()

	_, err := f.Authorize(ctx, "acct_1", types.USD(1000), payment.TokenDeclined)
	assert.ErrorIs(t, err, payment.ErrDeclined)

	_, err = f.Authorize(ctx, "acct_1", types.USD(1000), payment.TokenUnavailable)
	assert.ErrorIs(t, err, types.ErrInfrastructureFailure)
	assert.Zero(t, f.Authorizations())

	auth, err := f.Authorize(ctx, "acct_1", types.USD(1000), "tok_visa")
	require.NoError(t, err)
	_, err = f.Capture(ctx, auth.ID, types.USD(1001))
	assert.ErrorIs(t, err, payment.ErrDeclined)
	_, err = f.Capture(ctx, "pay_missing", types.USD(1))
	assert.ErrorIs(t, err, payment.ErrDeclined)
}
