package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/tally/audit"
	"github.com/xraph/tally/failover"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/subscription"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook lists are resolved once at registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                     []OnInit
	onShutdown                 []OnShutdown
	onPlanCreated              []OnPlanCreated
	onSubscriptionCreated      []OnSubscriptionCreated
	onSubscriptionTransitioned []OnSubscriptionTransitioned
	onUsageRecorded            []OnUsageRecorded
	onUsageFlushed             []OnUsageFlushed
	onInvoiceEmitted           []OnInvoiceEmitted
	onInvoicePaid              []OnInvoicePaid
	onAuditAppended            []OnAuditAppended
	onFailover                 []OnFailover
	onConsistencyChecked       []OnConsistencyChecked
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its hooks.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}
	r.plugins = append(r.plugins, p)

	var hooks []string
	add := func(ok bool, name string) bool {
		if ok {
			hooks = append(hooks, name)
		}
		return ok
	}
	if v, ok := p.(OnInit); add(ok, "OnInit") {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); add(ok, "OnShutdown") {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnPlanCreated); add(ok, "OnPlanCreated") {
		r.onPlanCreated = append(r.onPlanCreated, v)
	}
	if v, ok := p.(OnSubscriptionCreated); add(ok, "OnSubscriptionCreated") {
		r.onSubscriptionCreated = append(r.onSubscriptionCreated, v)
	}
	if v, ok := p.(OnSubscriptionTransitioned); add(ok, "OnSubscriptionTransitioned") {
		r.onSubscriptionTransitioned = append(r.onSubscriptionTransitioned, v)
	}
	if v, ok := p.(OnUsageRecorded); add(ok, "OnUsageRecorded") {
		r.onUsageRecorded = append(r.onUsageRecorded, v)
	}
	if v, ok := p.(OnUsageFlushed); add(ok, "OnUsageFlushed") {
		r.onUsageFlushed = append(r.onUsageFlushed, v)
	}
	if v, ok := p.(OnInvoiceEmitted); add(ok, "OnInvoiceEmitted") {
		r.onInvoiceEmitted = append(r.onInvoiceEmitted, v)
	}
	if v, ok := p.(OnInvoicePaid); add(ok, "OnInvoicePaid") {
		r.onInvoicePaid = append(r.onInvoicePaid, v)
	}
	if v, ok := p.(OnAuditAppended); add(ok, "OnAuditAppended") {
		r.onAuditAppended = append(r.onAuditAppended, v)
	}
	if v, ok := p.(OnFailover); add(ok, "OnFailover") {
		r.onFailover = append(r.onFailover, v)
	}
	if v, ok := p.(OnConsistencyChecked); add(ok, "OnConsistencyChecked") {
		r.onConsistencyChecked = append(r.onConsistencyChecked, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"hooks", hooks,
	)
	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission
// ──────────────────────────────────────────────────

// emit runs call for every plugin in list. Hook failures are logged and
// never reach the billing operation that fired them.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, list func(*Registry) []T, call func(T) error) {
	r.mu.RLock()
	plugins := list(r)
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return call(p) }); err != nil {
			r.logger.Warn("plugin hook failed",
				"hook", hook,
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, "OnInit", func(r *Registry) []OnInit { return r.onInit },
		func(p OnInit) error { return p.OnInit(ctx, engine) })
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", func(r *Registry) []OnShutdown { return r.onShutdown },
		func(p OnShutdown) error { return p.OnShutdown(ctx) })
}

func (r *Registry) EmitPlanCreated(ctx context.Context, pl *plan.Plan) {
	emit(ctx, r, "OnPlanCreated", func(r *Registry) []OnPlanCreated { return r.onPlanCreated },
		func(p OnPlanCreated) error { return p.OnPlanCreated(ctx, pl) })
}

func (r *Registry) EmitSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) {
	emit(ctx, r, "OnSubscriptionCreated", func(r *Registry) []OnSubscriptionCreated { return r.onSubscriptionCreated },
		func(p OnSubscriptionCreated) error { return p.OnSubscriptionCreated(ctx, sub) })
}

func (r *Registry) EmitSubscriptionTransitioned(ctx context.Context, sub *subscription.Subscription, from subscription.Status) {
	emit(ctx, r, "OnSubscriptionTransitioned", func(r *Registry) []OnSubscriptionTransitioned { return r.onSubscriptionTransitioned },
		func(p OnSubscriptionTransitioned) error { return p.OnSubscriptionTransitioned(ctx, sub, from) })
}

func (r *Registry) EmitUsageRecorded(ctx context.Context, records []*meter.UsageRecord) {
	emit(ctx, r, "OnUsageRecorded", func(r *Registry) []OnUsageRecorded { return r.onUsageRecorded },
		func(p OnUsageRecorded) error { return p.OnUsageRecorded(ctx, records) })
}

func (r *Registry) EmitUsageFlushed(ctx context.Context, count int, elapsed time.Duration) {
	emit(ctx, r, "OnUsageFlushed", func(r *Registry) []OnUsageFlushed { return r.onUsageFlushed },
		func(p OnUsageFlushed) error { return p.OnUsageFlushed(ctx, count, elapsed) })
}

func (r *Registry) EmitInvoiceEmitted(ctx context.Context, inv *invoice.Invoice) {
	emit(ctx, r, "OnInvoiceEmitted", func(r *Registry) []OnInvoiceEmitted { return r.onInvoiceEmitted },
		func(p OnInvoiceEmitted) error { return p.OnInvoiceEmitted(ctx, inv) })
}

func (r *Registry) EmitInvoicePaid(ctx context.Context, inv *invoice.Invoice) {
	emit(ctx, r, "OnInvoicePaid", func(r *Registry) []OnInvoicePaid { return r.onInvoicePaid },
		func(p OnInvoicePaid) error { return p.OnInvoicePaid(ctx, inv) })
}

func (r *Registry) EmitAuditAppended(ctx context.Context, rec *audit.Record) {
	emit(ctx, r, "OnAuditAppended", func(r *Registry) []OnAuditAppended { return r.onAuditAppended },
		func(p OnAuditAppended) error { return p.OnAuditAppended(ctx, rec) })
}

func (r *Registry) EmitFailover(ctx context.Context, op string, cause error) {
	emit(ctx, r, "OnFailover", func(r *Registry) []OnFailover { return r.onFailover },
		func(p OnFailover) error { return p.OnFailover(ctx, op, cause) })
}

func (r *Registry) EmitConsistencyChecked(ctx context.Context, report *failover.ConsistencyReport) {
	emit(ctx, r, "OnConsistencyChecked", func(r *Registry) []OnConsistencyChecked { return r.onConsistencyChecked },
		func(p OnConsistencyChecked) error { return p.OnConsistencyChecked(ctx, report) })
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
