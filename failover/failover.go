// Package failover routes store calls to a primary backend with bounded
// retry and falls back to a secondary once the budget is spent. Writes the
// secondary took in place of the primary are journaled and replayed onto
// the primary, in order, before it serves anything else.
package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/tally/audit"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/types"
)

// DefaultBudget is the number of primary attempts before failing over.
const DefaultBudget = 3

// DefaultBaseDelay is the first backoff interval between primary attempts.
const DefaultBaseDelay = 50 * time.Millisecond

// Executor runs store calls against a primary and, when configured, a
// secondary. It is safe for concurrent use.
type Executor struct {
	primary   store.Store
	secondary store.Store
	budget    uint
	baseDelay time.Duration
	logger    *slog.Logger

	onFailover func(ctx context.Context, op string, cause error)

	journalMu sync.Mutex
	journal   []pendingWrite
	pending   atomic.Int64
}

// pendingWrite is a mutation the secondary accepted while the primary was
// unreachable.
type pendingWrite struct {
	op string
	fn func(context.Context, store.Store) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithSecondary sets the fallback store.
func WithSecondary(s store.Store) Option {
	return func(e *Executor) { e.secondary = s }
}

// WithBudget sets the number of primary attempts. Values below one are
// treated as one.
func WithBudget(n int) Option {
	return func(e *Executor) { e.budget = uint(max(n, 1)) }
}

// WithBaseDelay sets the initial backoff interval.
func WithBaseDelay(d time.Duration) Option {
	return func(e *Executor) { e.baseDelay = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithOnFailover registers a callback run each time an operation is served
// by the secondary.
func WithOnFailover(fn func(ctx context.Context, op string, cause error)) Option {
	return func(e *Executor) { e.onFailover = fn }
}

// New returns an Executor over primary.
func New(primary store.Store, opts ...Option) *Executor {
	e := &Executor{
		primary:   primary,
		budget:    DefaultBudget,
		baseDelay: DefaultBaseDelay,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Primary returns the primary store.
func (e *Executor) Primary() store.Store { return e.primary }

// Secondary returns the fallback store, or nil.
func (e *Executor) Secondary() store.Store { return e.secondary }

// ──────────────────────────────────────────────────
// Route tracking
// ──────────────────────────────────────────────────

// Trace records whether any call made under a context fell back to the
// secondary. Traces nest: a failover seen by an inner trace is also seen by
// every trace enclosing it.
type Trace struct {
	failedOver atomic.Bool
	parent     *Trace
}

// Route reports the audit route for everything tracked so far.
func (t *Trace) Route() string {
	if t.failedOver.Load() {
		return audit.RouteProcessedWithFailover
	}
	return audit.RouteProcessed
}

// FailedOver reports whether the secondary served any call.
func (t *Trace) FailedOver() bool { return t.failedOver.Load() }

type traceKey struct{}

// Track attaches a fresh Trace to ctx, nested under any Trace ctx already
// carries.
func Track(ctx context.Context) (context.Context, *Trace) {
	t := &Trace{}
	t.parent, _ = ctx.Value(traceKey{}).(*Trace)
	return context.WithValue(ctx, traceKey{}, t), t
}

func mark(ctx context.Context) {
	t, _ := ctx.Value(traceKey{}).(*Trace)
	for ; t != nil; t = t.parent {
		t.failedOver.Store(true)
	}
}

// ──────────────────────────────────────────────────
// Execution
// ──────────────────────────────────────────────────

// Read runs fn against the primary with retry, then once against the
// secondary. Reads are never mirrored. Pending failover writes are replayed
// onto the primary before fn runs there.
func Read[T any](ctx context.Context, e *Executor, op string, fn func(context.Context, store.Store) (T, error)) (T, error) {
	return run(ctx, e, op, fn, false)
}

// Write is Read for mutations. After a primary success the same call is
// replayed on the secondary so it stays warm; that replay never fails the
// operation.
func (e *Executor) Write(ctx context.Context, op string, fn func(context.Context, store.Store) error) error {
	_, err := run(ctx, e, op, func(ctx context.Context, s store.Store) (struct{}, error) {
		return struct{}{}, fn(ctx, s)
	}, true)
	return err
}

func run[T any](ctx context.Context, e *Executor, op string, fn func(context.Context, store.Store) (T, error), mirror bool) (T, error) {
	var zero T

	v, err := retryPrimary(ctx, e, op, fn)
	if err == nil {
		if mirror && e.secondary != nil {
			e.mirror(ctx, op, func(ctx context.Context, s store.Store) error {
				_, mErr := fn(ctx, s)
				return mErr
			})
		}
		return v, nil
	}
	if !types.IsRetryable(err) {
		return zero, err
	}
	if cerr := ctx.Err(); cerr != nil {
		return zero, fmt.Errorf("%s: %w", op, cerr)
	}
	if e.secondary == nil {
		return zero, types.Wrap(types.KindInfrastructureFailure, op, err)
	}

	e.logger.Warn("primary store exhausted, failing over",
		"op", op,
		"attempts", e.budget,
		"error", err,
	)
	v, secErr := fn(ctx, e.secondary)
	if secErr != nil && types.IsInfrastructure(secErr) {
		e.logger.Error("secondary store failed",
			"op", op,
			"error", secErr,
		)
		return zero, types.Wrap(types.KindInfrastructureFailure, op, errors.Join(err, secErr))
	}
	if mirror && secErr == nil {
		e.enqueue(op, func(ctx context.Context, s store.Store) error {
			_, rErr := fn(ctx, s)
			return rErr
		})
	}
	mark(ctx)
	if e.onFailover != nil {
		e.onFailover(ctx, op, err)
	}
	// A business verdict from the secondary stands.
	return v, secErr
}

func retryPrimary[T any](ctx context.Context, e *Executor, op string, fn func(context.Context, store.Store) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.baseDelay

	return backoff.Retry(ctx, func() (T, error) {
		if _, err := e.replay(ctx); err != nil {
			var zero T
			if !types.IsRetryable(err) {
				return zero, backoff.Permanent(err)
			}
			return zero, err
		}
		v, err := fn(ctx, e.primary)
		if err != nil && !types.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(e.budget),
		backoff.WithNotify(func(err error, wait time.Duration) {
			e.logger.Debug("primary store call failed, retrying",
				"op", op,
				"wait", wait,
				"error", err,
			)
		}),
	)
}

func (e *Executor) mirror(ctx context.Context, op string, fn func(context.Context, store.Store) error) {
	if err := fn(ctx, e.secondary); err != nil {
		e.logger.Warn("secondary mirror write failed",
			"op", op,
			"error", err,
		)
	}
}

// ──────────────────────────────────────────────────
// Reconciliation
// ──────────────────────────────────────────────────

// ReconcileReport summarizes one replay of pending failover writes.
type ReconcileReport struct {
	// Replayed writes now also live on the primary.
	Replayed int `json:"replayed"`
	// Rejected writes got a business error from the primary and were
	// dropped from the journal.
	Rejected int `json:"rejected"`
	// Pending writes are still waiting for the primary.
	Pending int `json:"pending"`
}

// Pending reports how many failover writes have not reached the primary.
func (e *Executor) Pending() int { return int(e.pending.Load()) }

// Reconcile replays pending failover writes onto the primary in the order
// the secondary took them. It stops at the first infrastructure failure and
// leaves the rest queued; any later primary call resumes the replay.
func (e *Executor) Reconcile(ctx context.Context) (ReconcileReport, error) {
	rep, err := e.replay(ctx)
	if err != nil {
		return rep, types.Wrap(types.KindInfrastructureFailure, "reconcile", err)
	}
	return rep, nil
}

func (e *Executor) enqueue(op string, fn func(context.Context, store.Store) error) {
	e.journalMu.Lock()
	e.journal = append(e.journal, pendingWrite{op: op, fn: fn})
	e.pending.Add(1)
	e.journalMu.Unlock()
}

// replay drains the journal onto the primary. Callers racing a replay wait
// for it, so nothing reaches the primary ahead of an older failover write.
func (e *Executor) replay(ctx context.Context) (rep ReconcileReport, err error) {
	if e.pending.Load() == 0 {
		return rep, nil
	}

	e.journalMu.Lock()
	defer e.journalMu.Unlock()
	defer func() { rep.Pending = len(e.journal) }()

	for len(e.journal) > 0 {
		w := e.journal[0]
		if wErr := w.fn(ctx, e.primary); wErr != nil {
			if types.IsInfrastructure(wErr) || ctx.Err() != nil {
				return rep, fmt.Errorf("replay %s: %w", w.op, wErr)
			}
			e.logger.Error("primary rejected failover write, dropping it",
				"op", w.op,
				"error", wErr,
			)
			rep.Rejected++
		} else {
			rep.Replayed++
		}
		e.journal[0] = pendingWrite{}
		e.journal = e.journal[1:]
		e.pending.Add(-1)
	}
	e.logger.Info("failover writes reconciled onto primary",
		"replayed", rep.Replayed,
		"rejected", rep.Rejected,
	)
	return rep, nil
}

// ──────────────────────────────────────────────────
// Consistency
// ──────────────────────────────────────────────────

// EntityCount compares one entity's record count across stores.
type EntityCount struct {
	Primary   int64 `json:"primary"`
	Secondary int64 `json:"secondary"`
}

// Missing is the absolute count difference.
func (c EntityCount) Missing() int64 {
	if c.Primary > c.Secondary {
		return c.Primary - c.Secondary
	}
	return c.Secondary - c.Primary
}

// ConsistencyReport is the outcome of VerifyDataConsistency. MissingRecords
// compares the totals only, so per-entity differences that cancel out read
// as consistent; Breakdown keeps them visible.
type ConsistencyReport struct {
	IsConsistent   bool                   `json:"is_consistent"`
	MissingRecords int64                  `json:"missing_records"`
	PrimaryCount   int64                  `json:"primary_count"`
	SecondaryCount int64                  `json:"secondary_count"`
	Since          time.Time              `json:"since"`
	Breakdown      map[string]EntityCount `json:"breakdown"`
}

type counter struct {
	entity string
	count  func(store.Store, context.Context, time.Time) (int64, error)
}

var counters = []counter{
	{"subscriptions", store.Store.CountSubscriptionsSince},
	{"usage", store.Store.CountUsageSince},
	{"invoices", store.Store.CountInvoicesSince},
	{"user_addons", store.Store.CountUserAddOnsSince},
	{"audit", store.Store.CountAuditSince},
}

// VerifyDataConsistency compares per-entity record counts created since the
// given time across both stores. Without a secondary the report is trivially
// consistent.
func (e *Executor) VerifyDataConsistency(ctx context.Context, since time.Time) (*ConsistencyReport, error) {
	rep := &ConsistencyReport{Since: since, Breakdown: make(map[string]EntityCount, len(counters))}
	if e.secondary == nil {
		rep.IsConsistent = true
		return rep, nil
	}

	results := make([]EntityCount, len(counters))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range counters {
		g.Go(func() error {
			p, err := c.count(e.primary, gctx, since)
			if err != nil {
				return fmt.Errorf("count primary %s: %w", c.entity, err)
			}
			s, err := c.count(e.secondary, gctx, since)
			if err != nil {
				return fmt.Errorf("count secondary %s: %w", c.entity, err)
			}
			results[i] = EntityCount{Primary: p, Secondary: s}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, types.Wrap(types.KindInfrastructureFailure, "verify_data_consistency", err)
	}

	for i, c := range counters {
		r := results[i]
		rep.Breakdown[c.entity] = r
		rep.PrimaryCount += r.Primary
		rep.SecondaryCount += r.Secondary
	}
	rep.MissingRecords = EntityCount{Primary: rep.PrimaryCount, Secondary: rep.SecondaryCount}.Missing()
	rep.IsConsistent = rep.MissingRecords == 0
	e.logger.Info("data consistency verified",
		"consistent", rep.IsConsistent,
		"missing", rep.MissingRecords,
		"primary", rep.PrimaryCount,
		"secondary", rep.SecondaryCount,
	)
	return rep, nil
}
