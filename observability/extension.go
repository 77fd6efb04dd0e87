// Package observability provides a metrics plugin for tally that records
// lifecycle event counts through a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/tally/audit"
	"github.com/xraph/tally/failover"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/subscription"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                     = (*MetricsExtension)(nil)
	_ plugin.OnPlanCreated              = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCreated      = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionTransitioned = (*MetricsExtension)(nil)
	_ plugin.OnUsageRecorded            = (*MetricsExtension)(nil)
	_ plugin.OnUsageFlushed             = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceEmitted           = (*MetricsExtension)(nil)
	_ plugin.OnInvoicePaid              = (*MetricsExtension)(nil)
	_ plugin.OnAuditAppended            = (*MetricsExtension)(nil)
	_ plugin.OnFailover                 = (*MetricsExtension)(nil)
	_ plugin.OnConsistencyChecked       = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// Gauge interface for metric gauges.
type Gauge interface {
	Set(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
	Gauge(name string) Gauge
}

// MetricsExtension records system-wide billing metrics.
type MetricsExtension struct {
	PlanCreated Counter

	SubscriptionCreated   Counter
	SubscriptionCanceling Counter
	SubscriptionCanceled  Counter
	SubscriptionPastDue   Counter
	SubscriptionRecovered Counter
	PeriodsClosed         Counter

	UsageRecords      Counter
	UsageQuantity     Counter
	UsageFlushLatency Histogram

	InvoiceEmitted Counter
	InvoicePaid    Counter
	InvoiceTotal   Histogram

	AuditAppended Counter
	AuditFailed   Counter

	Failovers          Counter
	ConsistencyMissing Gauge
}

// NewMetricsExtension creates a MetricsExtension with the provided factory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		PlanCreated: factory.Counter("tally.plan.created"),

		SubscriptionCreated:   factory.Counter("tally.subscription.created"),
		SubscriptionCanceling: factory.Counter("tally.subscription.canceling"),
		SubscriptionCanceled:  factory.Counter("tally.subscription.canceled"),
		SubscriptionPastDue:   factory.Counter("tally.subscription.past_due"),
		SubscriptionRecovered: factory.Counter("tally.subscription.recovered"),
		PeriodsClosed:         factory.Counter("tally.subscription.periods_closed"),

		UsageRecords:      factory.Counter("tally.usage.records"),
		UsageQuantity:     factory.Counter("tally.usage.quantity"),
		UsageFlushLatency: factory.Histogram("tally.usage.flush.latency_ms"),

		InvoiceEmitted: factory.Counter("tally.invoice.emitted"),
		InvoicePaid:    factory.Counter("tally.invoice.paid"),
		InvoiceTotal:   factory.Histogram("tally.invoice.total_minor"),

		AuditAppended: factory.Counter("tally.audit.appended"),
		AuditFailed:   factory.Counter("tally.audit.failed_operations"),

		Failovers:          factory.Counter("tally.store.failovers"),
		ConsistencyMissing: factory.Gauge("tally.store.consistency.missing"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func (m *MetricsExtension) OnPlanCreated(context.Context, *plan.Plan) error {
	m.PlanCreated.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

func (m *MetricsExtension) OnSubscriptionCreated(context.Context, *subscription.Subscription) error {
	m.SubscriptionCreated.Inc()
	return nil
}

func (m *MetricsExtension) OnSubscriptionTransitioned(_ context.Context, sub *subscription.Subscription, from subscription.Status) error {
	switch {
	case sub.Status == from:
		m.PeriodsClosed.Inc()
	case sub.Status == subscription.StatusCanceling:
		m.SubscriptionCanceling.Inc()
	case sub.Status == subscription.StatusCanceled:
		m.SubscriptionCanceled.Inc()
	case sub.Status == subscription.StatusPastDue:
		m.SubscriptionPastDue.Inc()
	case from == subscription.StatusPastDue && sub.Status == subscription.StatusActive:
		m.SubscriptionRecovered.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

func (m *MetricsExtension) OnUsageRecorded(_ context.Context, records []*meter.UsageRecord) error {
	var qty int64
	for _, r := range records {
		qty += r.Quantity
	}
	m.UsageRecords.Add(float64(len(records)))
	m.UsageQuantity.Add(float64(qty))
	return nil
}

func (m *MetricsExtension) OnUsageFlushed(_ context.Context, _ int, elapsed time.Duration) error {
	m.UsageFlushLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

func (m *MetricsExtension) OnInvoiceEmitted(_ context.Context, inv *invoice.Invoice) error {
	m.InvoiceEmitted.Inc()
	m.InvoiceTotal.Observe(float64(inv.Total.Amount))
	return nil
}

func (m *MetricsExtension) OnInvoicePaid(context.Context, *invoice.Invoice) error {
	m.InvoicePaid.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Audit and failover hooks
// ──────────────────────────────────────────────────

func (m *MetricsExtension) OnAuditAppended(_ context.Context, rec *audit.Record) error {
	m.AuditAppended.Inc()
	if rec.Status == audit.StatusFailed {
		m.AuditFailed.Inc()
	}
	return nil
}

func (m *MetricsExtension) OnFailover(context.Context, string, error) error {
	m.Failovers.Inc()
	return nil
}

func (m *MetricsExtension) OnConsistencyChecked(_ context.Context, rep *failover.ConsistencyReport) error {
	m.ConsistencyMissing.Set(float64(rep.MissingRecords))
	return nil
}
