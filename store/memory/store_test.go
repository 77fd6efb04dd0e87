package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/addon"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/store/memory"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newSub(account string, status subscription.Status) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:             types.NewEntity(t0),
		ID:                 id.NewSubscriptionID(),
		AccountID:          account,
		PlanID:             id.NewPlanID(),
		Status:             status,
		CurrentPeriodStart: t0,
		CurrentPeriodEnd:   t0.AddDate(0, 1, 0),
	}
}

func TestPlansAreCopied(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	p := plan.DefaultTiers("usd", t0)[1]
	require.NoError(t, s.CreatePlan(ctx, p))

	p.Entitlements[plan.ResourceAIRequests] = plan.Limit(1)
	got, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), got.Entitlements[plan.ResourceAIRequests].Value)

	assert.ErrorIs(t, s.CreatePlan(ctx, p), types.ErrAlreadyExists)
	_, err = s.GetPlan(ctx, id.NewPlanID())
	assert.ErrorIs(t, err, types.ErrPlanNotFound)
	assert.ErrorIs(t, s.DeletePlan(ctx, id.NewPlanID()), types.ErrPlanNotFound)
}

func TestListPlansFilters(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	tiers := plan.DefaultTiers("usd", t0)
	tiers[2].Active = false
	for _, p := range tiers {
		require.NoError(t, s.CreatePlan(ctx, p))
	}

	active, err := s.ListPlans(ctx, plan.ListOpts{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	pro, err := s.ListPlans(ctx, plan.ListOpts{Tier: plan.TierPro})
	require.NoError(t, err)
	require.Len(t, pro, 1)
	assert.Equal(t, "Pro", pro[0].Name)

	limited, err := s.ListPlans(ctx, plan.ListOpts{Limit: 1, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestOneLiveSubscriptionPerAccount(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	first := newSub("acct_1", subscription.StatusActive)
	require.NoError(t, s.CreateSubscription(ctx, first))
	assert.ErrorIs(t, s.CreateSubscription(ctx, newSub("acct_1", subscription.StatusActive)), types.ErrDuplicateActiveSubscription)
	require.NoError(t, s.CreateSubscription(ctx, newSub("acct_2", subscription.StatusActive)))

	live, err := s.GetLiveSubscription(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, live.ID)

	first.Status = subscription.StatusCanceled
	require.NoError(t, s.UpdateSubscription(ctx, first))
	_, err = s.GetLiveSubscription(ctx, "acct_1")
	assert.ErrorIs(t, err, types.ErrSubscriptionNotFound)

	require.NoError(t, s.CreateSubscription(ctx, newSub("acct_1", subscription.StatusActive)))
}

func TestListSubscriptionsUpdatedWindow(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	for i, acct := range []string{"a", "b", "c"} {
		sub := newSub(acct, subscription.StatusActive)
		sub.UpdatedAt = t0.AddDate(0, 0, i)
		require.NoError(t, s.CreateSubscription(ctx, sub))
	}

	got, err := s.ListSubscriptions(ctx, subscription.ListOpts{UpdatedAfter: t0.AddDate(0, 0, 1), UpdatedBefore: t0.AddDate(0, 0, 2)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].AccountID)
}

func TestUsageSumsUseHalfOpenWindow(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	w := meter.Window{Start: t0, End: t0.AddDate(0, 1, 0)}

	at := []time.Time{t0.Add(-time.Second), t0, t0.AddDate(0, 0, 10), w.End}
	for _, ts := range at {
		require.NoError(t, s.AppendUsage(ctx, &meter.UsageRecord{ID: id.NewUsageID(), AccountID: "acct", ResourceType: "ai_requests", Quantity: 10, Timestamp: ts, RecordedAt: ts}))
	}
	require.NoError(t, s.AppendUsageBatch(ctx, []*meter.UsageRecord{
		{ID: id.NewUsageID(), AccountID: "acct", ResourceType: "storage_gb", Quantity: 3, Timestamp: t0, RecordedAt: t0},
		{ID: id.NewUsageID(), AccountID: "other", ResourceType: "ai_requests", Quantity: 99, Timestamp: t0, RecordedAt: t0},
	}))

	total, err := s.SumUsage(ctx, "acct", "ai_requests", w)
	require.NoError(t, err)
	assert.Equal(t, int64(20), total)

	byRes, err := s.SumUsageByResource(ctx, "acct", w)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"ai_requests": 20, "storage_gb": 3}, byRes)

	recs, err := s.QueryUsage(ctx, "acct", meter.QueryOpts{ResourceType: "ai_requests", Start: w.Start, End: w.End})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	n, err := s.CountUsageSince(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestInvoiceFinalStatesAreTerminal(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	inv := &invoice.Invoice{Entity: types.NewEntity(t0), ID: id.NewInvoiceID(), AccountID: "acct", Status: invoice.StatusOpen, Currency: "usd"}
	require.NoError(t, s.CreateInvoice(ctx, inv))

	require.NoError(t, s.MarkInvoicePaid(ctx, inv.ID, t0, "pi_1"))
	assert.ErrorIs(t, s.MarkInvoicePaid(ctx, inv.ID, t0, "pi_2"), types.ErrInvoiceFinalized)
	assert.ErrorIs(t, s.MarkInvoiceVoided(ctx, inv.ID, t0, "oops"), types.ErrInvoiceFinalized)

	got, err := s.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, got.Status)
	assert.Equal(t, "pi_1", got.PaymentRef)

	assert.ErrorIs(t, s.MarkInvoicePaid(ctx, id.NewInvoiceID(), t0, ""), types.ErrInvoiceNotFound)
}

func TestUpdateUserAddOn(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	u := &addon.UserAddOn{
		Entity:      types.NewEntity(t0),
		ID:          id.NewUserAddOnID(),
		AccountID:   "acct",
		AddOnID:     id.NewAddOnID(),
		Price:       types.USD(49900),
		Status:      addon.StatusActive,
		PurchasedAt: t0,
	}
	require.NoError(t, s.CreateUserAddOn(ctx, u))

	u.Status = addon.StatusCanceled
	require.NoError(t, s.UpdateUserAddOn(ctx, u))
	owned, err := s.ListUserAddOns(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, addon.StatusCanceled, owned[0].Status)

	missing := *u
	missing.ID = id.NewUserAddOnID()
	assert.ErrorIs(t, s.UpdateUserAddOn(ctx, &missing), types.ErrAddOnNotFound)
}
