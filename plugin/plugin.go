// Package plugin provides lifecycle hooks into the tally engine.
// A plugin implements Plugin plus any subset of the hook interfaces below.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/tally/audit"
	"github.com/xraph/tally/failover"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/subscription"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. engine is the *tally.Engine.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Catalog hooks
// ──────────────────────────────────────────────────

// OnPlanCreated is called after a plan is stored.
type OnPlanCreated interface {
	Plugin
	OnPlanCreated(ctx context.Context, p *plan.Plan) error
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated is called after a subscription is activated.
type OnSubscriptionCreated interface {
	Plugin
	OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error
}

// OnSubscriptionTransitioned is called after any status change or period
// roll. from is the status before the transition.
type OnSubscriptionTransitioned interface {
	Plugin
	OnSubscriptionTransitioned(ctx context.Context, sub *subscription.Subscription, from subscription.Status) error
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnUsageRecorded is called after usage records are stored.
type OnUsageRecorded interface {
	Plugin
	OnUsageRecorded(ctx context.Context, records []*meter.UsageRecord) error
}

// OnUsageFlushed is called after the background buffer flushes a batch.
type OnUsageFlushed interface {
	Plugin
	OnUsageFlushed(ctx context.Context, count int, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoiceEmitted is called after an invoice is stored.
type OnInvoiceEmitted interface {
	Plugin
	OnInvoiceEmitted(ctx context.Context, inv *invoice.Invoice) error
}

// OnInvoicePaid is called after an invoice is marked paid.
type OnInvoicePaid interface {
	Plugin
	OnInvoicePaid(ctx context.Context, inv *invoice.Invoice) error
}

// ──────────────────────────────────────────────────
// Audit and failover hooks
// ──────────────────────────────────────────────────

// OnAuditAppended is called after an audit record is durable.
type OnAuditAppended interface {
	Plugin
	OnAuditAppended(ctx context.Context, rec *audit.Record) error
}

// OnFailover is called when the secondary store served an operation.
type OnFailover interface {
	Plugin
	OnFailover(ctx context.Context, op string, cause error) error
}

// OnConsistencyChecked is called after a primary/secondary comparison.
type OnConsistencyChecked interface {
	Plugin
	OnConsistencyChecked(ctx context.Context, report *failover.ConsistencyReport) error
}
