package observability_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/audit"
	"github.com/xraph/tally/failover"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/observability"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
)

func TestMetricsExtensionCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))
	ctx := context.Background()

	sub := &subscription.Subscription{Status: subscription.StatusActive}
	require.NoError(t, m.OnSubscriptionCreated(ctx, sub))

	sub.Status = subscription.StatusPastDue
	require.NoError(t, m.OnSubscriptionTransitioned(ctx, sub, subscription.StatusActive))
	sub.Status = subscription.StatusActive
	require.NoError(t, m.OnSubscriptionTransitioned(ctx, sub, subscription.StatusPastDue))
	require.NoError(t, m.OnSubscriptionTransitioned(ctx, sub, subscription.StatusActive))

	require.NoError(t, m.OnUsageRecorded(ctx, []*meter.UsageRecord{{Quantity: 3}, {Quantity: 4}}))
	require.NoError(t, m.OnInvoiceEmitted(ctx, &invoice.Invoice{Total: types.USD(2900)}))
	require.NoError(t, m.OnAuditAppended(ctx, &audit.Record{Status: audit.StatusFailed}))
	require.NoError(t, m.OnFailover(ctx, "create_subscription", nil))
	require.NoError(t, m.OnConsistencyChecked(ctx, &failover.ConsistencyReport{MissingRecords: 2}))

	assert.InDelta(t, 1, testutil.ToFloat64(m.SubscriptionCreated.(prometheus.Counter)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SubscriptionPastDue.(prometheus.Counter)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SubscriptionRecovered.(prometheus.Counter)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PeriodsClosed.(prometheus.Counter)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.UsageRecords.(prometheus.Counter)), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(m.UsageQuantity.(prometheus.Counter)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.AuditFailed.(prometheus.Counter)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Failovers.(prometheus.Counter)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.ConsistencyMissing.(prometheus.Gauge)), 0)
}

func TestPrometheusFactoryReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := observability.NewPrometheusFactory(reg)

	a := f.Counter("tally.audit.appended")
	b := f.Counter("tally.audit.appended")
	a.Inc()
	b.Inc()
	assert.InDelta(t, 2, testutil.ToFloat64(a.(prometheus.Counter)), 0)

	// A second factory over the same registry adopts the existing collector.
	c := observability.NewPrometheusFactory(reg).Counter("tally.audit.appended")
	assert.InDelta(t, 2, testutil.ToFloat64(c.(prometheus.Counter)), 0)

	n, err := testutil.GatherAndCount(reg, "tally_audit_appended")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
