package tally

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xraph/tally/addon"
	"github.com/xraph/tally/audit"
	"github.com/xraph/tally/failover"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/lock"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/payment"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/pricing"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/types"
)

// Defaults applied by New.
const (
	DefaultCurrency           = "usd"
	DefaultUsageBatchSize     = 100
	DefaultUsageFlushInterval = 5 * time.Second
	DefaultUsageBufferSize    = 10000
)

// Engine is the billing engine. Every mutating call is serialized per
// subscription or account, runs against the primary store with failover to
// the secondary, and leaves one audit record behind.
type Engine struct {
	store    store.Store
	exec     *failover.Executor
	auditor  *audit.Auditor
	plugins  *plugin.Registry
	logger   *slog.Logger
	validate *validator.Validate

	catalog  plan.Catalog
	addOns   addon.Catalog
	payments payment.Authorizer
	locker   lock.Locker
	clock    types.Clock

	// Billing configuration
	currency       string
	fallbackRate   plan.Rate
	commissionRate decimal.Decimal

	// Failover and audit configuration
	secondary      store.Store
	retryBudget    int
	retryBaseDelay time.Duration
	auditKey       []byte
	migrate        bool

	// Background usage buffer
	usageBuffer        chan *meter.UsageRecord
	stopChan           chan struct{}
	wg                 sync.WaitGroup
	usageBatchSize     int
	usageFlushInterval time.Duration
	stopOnce           sync.Once
}

// New creates an Engine over the primary store.
func New(primary store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:              primary,
		plugins:            plugin.NewRegistry(),
		logger:             slog.Default(),
		validate:           newValidator(),
		locker:             lock.NewKeyed(),
		clock:              types.SystemClock,
		currency:           DefaultCurrency,
		fallbackRate:       plan.Rate{Price: types.Money{Amount: 1}},
		commissionRate:     pricing.DefaultCommissionRate,
		retryBudget:        failover.DefaultBudget,
		retryBaseDelay:     failover.DefaultBaseDelay,
		migrate:            true,
		stopChan:           make(chan struct{}),
		usageBatchSize:     DefaultUsageBatchSize,
		usageFlushInterval: DefaultUsageFlushInterval,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.usageBuffer = make(chan *meter.UsageRecord, max(DefaultUsageBufferSize, e.usageBatchSize))

	fopts := []failover.Option{
		failover.WithBudget(e.retryBudget),
		failover.WithBaseDelay(e.retryBaseDelay),
		failover.WithLogger(e.logger),
		failover.WithOnFailover(func(ctx context.Context, op string, cause error) {
			e.plugins.EmitFailover(ctx, op, cause)
		}),
	}
	if e.secondary != nil {
		fopts = append(fopts, failover.WithSecondary(e.secondary))
	}
	e.exec = failover.New(primary, fopts...)

	e.auditor = audit.NewAuditor(auditSink{exec: e.exec},
		audit.WithKey(e.auditKey),
		audit.WithClock(e.clock),
		audit.WithLogger(e.logger),
		audit.WithOnAppend(func(ctx context.Context, rec *audit.Record) {
			e.plugins.EmitAuditAppended(ctx, rec)
		}),
	)
	return e
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithSecondary sets the failover store.
func WithSecondary(s store.Store) Option {
	return func(e *Engine) { e.secondary = s }
}

// WithCatalog overrides plan lookup. By default plans are read from the
// record store.
func WithCatalog(c plan.Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithAddOnCatalog sets the add-on definitions available for purchase.
func WithAddOnCatalog(c addon.Catalog) Option {
	return func(e *Engine) { e.addOns = c }
}

// WithPayments sets the payment collaborator. Without one only free plans
// can be subscribed to.
func WithPayments(p payment.Authorizer) Option {
	return func(e *Engine) { e.payments = p }
}

// WithLocker replaces the in-process locker, e.g. with lock.NewRedis for
// deployments running several engine instances.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithRetryBudget sets how many primary attempts are made before failover.
func WithRetryBudget(attempts int, baseDelay time.Duration) Option {
	return func(e *Engine) {
		e.retryBudget = attempts
		if baseDelay > 0 {
			e.retryBaseDelay = baseDelay
		}
	}
}

// WithFallbackOverageRate prices overage for resources whose plan has no
// rate, in minor units of the plan's currency per unit.
func WithFallbackOverageRate(minorPerUnit int64) Option {
	return func(e *Engine) { e.fallbackRate = plan.Rate{Price: types.Money{Amount: minorPerUnit}} }
}

// WithCommissionRate sets the marketplace take on add-on sales.
func WithCommissionRate(rate decimal.Decimal) Option {
	return func(e *Engine) { e.commissionRate = rate }
}

// WithAuditKey switches audit hashes to HMAC-SHA256 under key.
func WithAuditKey(key []byte) Option {
	return func(e *Engine) { e.auditKey = append([]byte(nil), key...) }
}

// WithClock sets the time source.
func WithClock(c types.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithCurrency sets the reporting currency.
func WithCurrency(currency string) Option {
	return func(e *Engine) { e.currency = types.Zero(currency).Currency }
}

// WithUsageBuffer configures the background usage buffer.
func WithUsageBuffer(batchSize int, flushInterval time.Duration) Option {
	return func(e *Engine) {
		if batchSize > 0 {
			e.usageBatchSize = batchSize
		}
		if flushInterval > 0 {
			e.usageFlushInterval = flushInterval
		}
	}
}

// WithAutoMigrate controls whether Start migrates the stores. On by default.
func WithAutoMigrate(enabled bool) Option {
	return func(e *Engine) { e.migrate = enabled }
}

// Start migrates the stores and begins background workers.
func (e *Engine) Start(ctx context.Context) error {
	if e.migrate {
		if err := e.migrateStores(ctx); err != nil {
			return err
		}
	}
	if err := e.auditor.Load(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	e.wg.Add(1)
	go e.usageFlushWorker(ctx)

	e.logger.Info("tally started",
		"batch_size", e.usageBatchSize,
		"flush_interval", e.usageFlushInterval,
		"retry_budget", e.retryBudget,
		"failover", e.secondary != nil,
	)
	return nil
}

func (e *Engine) migrateStores(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return types.Wrap(types.KindInfrastructureFailure, "migrate", err)
	}
	if e.secondary != nil {
		if err := e.secondary.Migrate(ctx); err != nil {
			e.logger.Warn("secondary store migration failed", "error", err)
		}
	}
	return nil
}

// Stop flushes buffered usage and closes the stores. It is safe to call
// more than once.
func (e *Engine) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		close(e.stopChan)
		e.wg.Wait()

		e.plugins.EmitShutdown(context.Background())

		err = e.store.Close()
		if e.secondary != nil {
			err = errors.Join(err, e.secondary.Close())
		}
	})
	return err
}

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Store returns the primary store.
func (e *Engine) Store() store.Store { return e.store }

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// Track attaches a failover trace to ctx. After an operation runs under the
// returned context, the trace reports whether the secondary store served any
// part of it.
func Track(ctx context.Context) (context.Context, *failover.Trace) {
	return failover.Track(ctx)
}

// process is the audited, failover-tracked envelope of every mutation.
func process[T any](ctx context.Context, e *Engine, name, accountID string, params any, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, trace := failover.Track(ctx)
	return audit.Process(ctx, e.auditor, audit.Op{
		Name:      name,
		AccountID: accountID,
		Params:    params,
		Route:     trace.Route,
	}, fn)
}

// withLock runs fn while holding key.
func withLock[T any](ctx context.Context, e *Engine, key string, fn func() (T, error)) (T, error) {
	var zero T
	unlock, err := e.locker.Lock(ctx, key)
	if err != nil {
		return zero, types.Wrap(types.KindInfrastructureFailure, "lock "+key, err)
	}
	defer unlock()
	return fn()
}

func (e *Engine) now() time.Time { return e.clock.Now().UTC() }

func (e *Engine) getPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	if e.catalog != nil {
		return e.catalog.GetPlan(ctx, planID)
	}
	return failover.Read(ctx, e.exec, "get_plan", func(ctx context.Context, s store.Store) (*plan.Plan, error) {
		return s.GetPlan(ctx, planID)
	})
}

// charge authorizes and captures amount, returning the payment reference.
// Zero amounts are not sent to the gateway.
func (e *Engine) charge(ctx context.Context, accountID string, amount types.Money, token string) (string, error) {
	if amount.IsZero() {
		return "", nil
	}
	if e.payments == nil {
		return "", types.E(types.KindInvalidRequest, "no payment authorizer configured for a %s charge", amount)
	}
	auth, err := e.payments.Authorize(ctx, accountID, amount, token)
	if err != nil {
		return "", err
	}
	return e.payments.Capture(ctx, auth.ID, amount)
}

// refund returns a captured charge after a later step failed. Failures are
// logged for manual follow-up; the original error is what the caller sees.
func (e *Engine) refund(ctx context.Context, paymentRef string, amount types.Money, cause error) {
	if paymentRef == "" || e.payments == nil {
		return
	}
	if err := e.payments.Refund(context.WithoutCancel(ctx), paymentRef, amount); err != nil {
		e.logger.Error("refund after failed operation did not go through",
			"payment_ref", paymentRef,
			"amount", amount.String(),
			"cause", cause,
			"error", err,
		)
	}
}

// auditSink routes audit appends through the failover executor so the
// audit log follows the same primary/secondary path as the records it
// describes.
type auditSink struct {
	exec *failover.Executor
}

func (a auditSink) AppendAudit(ctx context.Context, rec *audit.Record) error {
	return a.exec.Write(ctx, "append_audit", func(ctx context.Context, s store.Store) error {
		return s.AppendAudit(ctx, rec)
	})
}

func (a auditSink) LastAudit(ctx context.Context) (*audit.Record, error) {
	return failover.Read(ctx, a.exec, "last_audit", func(ctx context.Context, s store.Store) (*audit.Record, error) {
		return s.LastAudit(ctx)
	})
}

func (a auditSink) ListAudit(ctx context.Context, opts audit.ListOpts) ([]*audit.Record, error) {
	return failover.Read(ctx, a.exec, "list_audit", func(ctx context.Context, s store.Store) ([]*audit.Record, error) {
		return s.ListAudit(ctx, opts)
	})
}

func (a auditSink) CountAuditSince(ctx context.Context, since time.Time) (int64, error) {
	return failover.Read(ctx, a.exec, "count_audit", func(ctx context.Context, s store.Store) (int64, error) {
		return s.CountAuditSince(ctx, since)
	})
}
