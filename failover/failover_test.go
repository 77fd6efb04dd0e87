package failover_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/audit"
	"github.com/xraph/tally/failover"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/store/memory"
	"github.com/xraph/tally/store/storetest"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func pair(opts ...failover.Option) (*failover.Executor, *storetest.Faulty, *storetest.Faulty) {
	primary := storetest.Wrap(memory.New())
	secondary := storetest.Wrap(memory.New())
	opts = append([]failover.Option{
		failover.WithSecondary(secondary),
		failover.WithBaseDelay(time.Millisecond),
	}, opts...)
	return failover.New(primary, opts...), primary, secondary
}

func createPlan(p *plan.Plan) func(context.Context, store.Store) error {
	return func(ctx context.Context, s store.Store) error { return s.CreatePlan(ctx, p) }
}

func TestWriteMirrorsToSecondary(t *testing.T) {
	ex, primary, secondary := pair()
	ctx, trace := failover.Track(context.Background())

	p := plan.DefaultTiers("usd", t0)[0]
	require.NoError(t, ex.Write(ctx, "create_plan", createPlan(p)))

	_, err := primary.Store.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	_, err = secondary.Store.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, audit.RouteProcessed, trace.Route())
}

func TestTransientPrimaryFaultIsRetried(t *testing.T) {
	ex, primary, secondary := pair()
	ctx, trace := failover.Track(context.Background())

	primary.FailNext(2)
	p := plan.DefaultTiers("usd", t0)[0]
	require.NoError(t, ex.Write(ctx, "create_plan", createPlan(p)))

	assert.Equal(t, 3, primary.Calls("CreatePlan"))
	assert.Equal(t, 1, secondary.Calls("CreatePlan"), "mirror only")
	assert.False(t, trace.FailedOver())
}

func TestExhaustedPrimaryFailsOver(t *testing.T) {
	var hooked atomic.Int32
	ex, primary, secondary := pair(failover.WithOnFailover(func(context.Context, string, error) { hooked.Add(1) }))
	ctx, trace := failover.Track(context.Background())

	primary.SetDown(true)
	p := plan.DefaultTiers("usd", t0)[1]
	require.NoError(t, ex.Write(ctx, "create_plan", createPlan(p)))

	assert.Equal(t, failover.DefaultBudget, primary.Calls("CreatePlan"))
	_, err := secondary.Store.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, audit.RouteProcessedWithFailover, trace.Route())
	assert.Equal(t, int32(1), hooked.Load())
}

func TestBusinessErrorsAreNotRetried(t *testing.T) {
	ex, primary, secondary := pair()
	ctx, trace := failover.Track(context.Background())

	_, err := failover.Read(ctx, ex, "get_plan", func(ctx context.Context, s store.Store) (*plan.Plan, error) {
		return s.GetPlan(ctx, id.NewPlanID())
	})
	assert.ErrorIs(t, err, types.ErrPlanNotFound)
	assert.Equal(t, 1, primary.Calls("GetPlan"))
	assert.Zero(t, secondary.Calls("GetPlan"))
	assert.False(t, trace.FailedOver())
}

func TestBothStoresDown(t *testing.T) {
	ex, primary, secondary := pair(failover.WithBudget(2))
	primary.SetDown(true)
	secondary.SetDown(true)

	err := ex.Write(context.Background(), "create_plan", createPlan(plan.DefaultTiers("usd", t0)[0]))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInfrastructureFailure)
	assert.ErrorIs(t, err, storetest.ErrInjected)
	assert.Equal(t, 2, primary.Calls("CreatePlan"))
	assert.Equal(t, 1, secondary.Calls("CreatePlan"))
}

func TestNoSecondary(t *testing.T) {
	primary := storetest.Wrap(memory.New())
	ex := failover.New(primary, failover.WithBaseDelay(time.Millisecond), failover.WithBudget(1))
	primary.SetDown(true)

	err := ex.Write(context.Background(), "create_plan", createPlan(plan.DefaultTiers("usd", t0)[0]))
	assert.ErrorIs(t, err, types.ErrInfrastructureFailure)
	assert.Equal(t, 1, primary.Calls("CreatePlan"))

	rep, err := ex.VerifyDataConsistency(context.Background(), t0)
	require.NoError(t, err)
	assert.True(t, rep.IsConsistent)
}

func TestMirrorFailureDoesNotFailWrite(t *testing.T) {
	ex, _, secondary := pair()
	secondary.SetDown(true)

	require.NoError(t, ex.Write(context.Background(), "create_plan", createPlan(plan.DefaultTiers("usd", t0)[0])))
}

func TestCanceledContextStopsRetrying(t *testing.T) {
	ex, primary, secondary := pair(failover.WithBaseDelay(100 * time.Millisecond))
	primary.SetDown(true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := ex.Write(ctx, "create_plan", createPlan(plan.DefaultTiers("usd", t0)[0]))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, primary.Calls("CreatePlan"))
	assert.Zero(t, secondary.Calls("CreatePlan"))
}

func TestVerifyDataConsistency(t *testing.T) {
	ex, primary, secondary := pair()
	ctx := context.Background()

	for _, p := range plan.DefaultTiers("usd", t0) {
		require.NoError(t, ex.Write(ctx, "create_plan", createPlan(p)))
	}
	rep, err := ex.VerifyDataConsistency(ctx, t0)
	require.NoError(t, err)
	assert.True(t, rep.IsConsistent)

	// A subscription written only to the primary is a divergence.
	sub := newSub("acct_1")
	require.NoError(t, primary.Store.CreateSubscription(ctx, sub))
	rep, err = ex.VerifyDataConsistency(ctx, t0)
	require.NoError(t, err)
	assert.False(t, rep.IsConsistent)
	assert.Equal(t, int64(1), rep.MissingRecords)
	assert.Equal(t, failover.EntityCount{Primary: 1, Secondary: 0}, rep.Breakdown["subscriptions"])

	secondary.SetDown(true)
	_, err = ex.VerifyDataConsistency(ctx, t0)
	assert.ErrorIs(t, err, types.ErrInfrastructureFailure)
}

func TestConsistencyComparesTotals(t *testing.T) {
	ex, primary, secondary := pair()
	ctx := context.Background()

	require.NoError(t, primary.Store.CreateSubscription(ctx, newSub("acct_1")))
	require.NoError(t, secondary.Store.AppendUsage(ctx, &meter.UsageRecord{
		ID:           id.NewUsageID(),
		AccountID:    "acct_1",
		ResourceType: "api_calls",
		Quantity:     10,
		Timestamp:    t0,
		RecordedAt:   t0,
	}))

	rep, err := ex.VerifyDataConsistency(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.PrimaryCount)
	assert.Equal(t, int64(1), rep.SecondaryCount)
	assert.Zero(t, rep.MissingRecords)
	assert.True(t, rep.IsConsistent)
	assert.Equal(t, int64(1), rep.Breakdown["subscriptions"].Missing())
	assert.Equal(t, int64(1), rep.Breakdown["usage"].Missing())
}

func TestFailoverWritesReplayOnRecovery(t *testing.T) {
	ex, primary, secondary := pair()
	ctx := context.Background()

	primary.SetDown(true)
	sub := newSub("acct_1")
	require.NoError(t, ex.Write(ctx, "create_subscription", func(ctx context.Context, s store.Store) error {
		return s.CreateSubscription(ctx, sub)
	}))
	canceled := sub.Clone()
	canceled.Status = subscription.StatusCanceled
	require.NoError(t, ex.Write(ctx, "update_subscription", func(ctx context.Context, s store.Store) error {
		return s.UpdateSubscription(ctx, canceled)
	}))
	assert.Equal(t, 2, ex.Pending())

	// The first primary call after recovery brings the primary up to date
	// before it runs, in the order the secondary took the writes.
	primary.SetDown(false)
	rctx, trace := failover.Track(ctx)
	got, err := failover.Read(rctx, ex, "get_subscription", func(ctx context.Context, s store.Store) (*subscription.Subscription, error) {
		return s.GetSubscription(ctx, sub.ID)
	})
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, got.Status)
	assert.False(t, trace.FailedOver())
	assert.Zero(t, ex.Pending())
	assert.Zero(t, secondary.Calls("GetSubscription"))

	onPrimary, err := primary.Store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, onPrimary.Status)

	rep, err := ex.VerifyDataConsistency(ctx, t0)
	require.NoError(t, err)
	assert.True(t, rep.IsConsistent)
}

func TestReconcileWaitsForPrimary(t *testing.T) {
	ex, primary, _ := pair()
	ctx := context.Background()

	primary.SetDown(true)
	p := plan.DefaultTiers("usd", t0)[0]
	require.NoError(t, ex.Write(ctx, "create_plan", createPlan(p)))

	rep, err := ex.Reconcile(ctx)
	assert.ErrorIs(t, err, types.ErrInfrastructureFailure)
	assert.Equal(t, 1, rep.Pending)
	assert.Equal(t, 1, ex.Pending())

	primary.SetDown(false)
	rep, err = ex.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, failover.ReconcileReport{Replayed: 1}, rep)
	_, err = primary.Store.GetPlan(ctx, p.ID)
	require.NoError(t, err)
}

func TestReconcileDropsRejectedWrites(t *testing.T) {
	ex, primary, _ := pair()
	ctx := context.Background()

	primary.SetDown(true)
	p := plan.DefaultTiers("usd", t0)[0]
	require.NoError(t, ex.Write(ctx, "create_plan", createPlan(p)))
	require.NoError(t, primary.Store.CreatePlan(ctx, p))

	primary.SetDown(false)
	rep, err := ex.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, failover.ReconcileReport{Rejected: 1}, rep)
	assert.Zero(t, ex.Pending())
}

func TestNestedTraceSeesFailover(t *testing.T) {
	ex, primary, _ := pair()
	outer, outerTrace := failover.Track(context.Background())
	inner, innerTrace := failover.Track(outer)
	_, siblingTrace := failover.Track(outer)

	primary.SetDown(true)
	require.NoError(t, ex.Write(inner, "create_plan", createPlan(plan.DefaultTiers("usd", t0)[0])))

	assert.True(t, innerTrace.FailedOver())
	assert.True(t, outerTrace.FailedOver())
	assert.False(t, siblingTrace.FailedOver())
}

func newSub(account string) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:             types.NewEntity(t0),
		ID:                 id.NewSubscriptionID(),
		AccountID:          account,
		PlanID:             id.NewPlanID(),
		Status:             subscription.StatusActive,
		CurrentPeriodStart: t0,
		CurrentPeriodEnd:   t0.AddDate(0, 1, 0),
	}
}
