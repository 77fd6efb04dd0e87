package plugin_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/subscription"
)

type recorder struct {
	name        string
	created     atomic.Int32
	transitions atomic.Int32
	lastFrom    atomic.Value
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnSubscriptionCreated(context.Context, *subscription.Subscription) error {
	r.created.Add(1)
	return nil
}

func (r *recorder) OnSubscriptionTransitioned(_ context.Context, _ *subscription.Subscription, from subscription.Status) error {
	r.transitions.Add(1)
	r.lastFrom.Store(from)
	return nil
}

type failing struct{}

func (failing) Name() string { return "failing" }

func (failing) OnInvoiceEmitted(context.Context, *invoice.Invoice) error {
	return errors.New("boom")
}

type slow struct{ done atomic.Bool }

func (*slow) Name() string { return "slow" }

func (s *slow) OnShutdown(context.Context) error {
	time.Sleep(200 * time.Millisecond)
	s.done.Store(true)
	return nil
}

func TestRegistryDispatch(t *testing.T) {
	reg := plugin.NewRegistry()
	rec := &recorder{name: "rec"}
	require.NoError(t, reg.Register(rec))
	require.NoError(t, reg.Register(failing{}))

	ctx := context.Background()
	sub := &subscription.Subscription{Status: subscription.StatusCanceling}
	reg.EmitSubscriptionCreated(ctx, sub)
	reg.EmitSubscriptionTransitioned(ctx, sub, subscription.StatusActive)
	reg.EmitInvoiceEmitted(ctx, &invoice.Invoice{}) // error is logged, not returned

	assert.Equal(t, int32(1), rec.created.Load())
	assert.Equal(t, int32(1), rec.transitions.Load())
	assert.Equal(t, subscription.StatusActive, rec.lastFrom.Load())
	assert.Equal(t, 2, reg.Count())
	assert.Same(t, rec, reg.Get("rec"))
	assert.Nil(t, reg.Get("missing"))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(&recorder{name: "x"}))
	assert.Error(t, reg.Register(&recorder{name: "x"}))
	assert.Len(t, reg.List(), 1)
}

func TestRegistryTimeout(t *testing.T) {
	reg := plugin.NewRegistry().WithTimeout(10 * time.Millisecond)
	s := &slow{}
	require.NoError(t, reg.Register(s))

	start := time.Now()
	reg.EmitShutdown(context.Background())
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.False(t, s.done.Load())
}
