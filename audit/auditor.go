package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

const tracerName = "github.com/xraph/tally/audit"

// Auditor appends records to a single linear chain.
type Auditor struct {
	sink     Store
	key      []byte
	clock    types.Clock
	logger   *slog.Logger
	tracer   trace.Tracer
	onAppend func(ctx context.Context, rec *Record)

	mu     sync.Mutex
	head   *Record
	loaded bool
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithKey switches record hashes to HMAC-SHA256 under key.
func WithKey(key []byte) Option {
	return func(a *Auditor) { a.key = append([]byte(nil), key...) }
}

// WithClock sets the time source.
func WithClock(c types.Clock) Option {
	return func(a *Auditor) { a.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Auditor) { a.logger = l }
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(a *Auditor) { a.tracer = t }
}

// WithOnAppend registers a callback run after each durable append.
func WithOnAppend(fn func(ctx context.Context, rec *Record)) Option {
	return func(a *Auditor) { a.onAppend = fn }
}

// NewAuditor returns an Auditor writing to sink.
func NewAuditor(sink Store, opts ...Option) *Auditor {
	a := &Auditor{
		sink:   sink,
		clock:  types.SystemClock,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key returns the HMAC key, if any.
func (a *Auditor) Key() []byte { return a.key }

// Load reads the chain head from the sink. Process calls it lazily.
func (a *Auditor) Load(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loadLocked(ctx)
}

func (a *Auditor) loadLocked(ctx context.Context) error {
	if a.loaded {
		return nil
	}
	head, err := a.sink.LastAudit(ctx)
	if err != nil {
		return types.Wrap(types.KindInfrastructureFailure, "audit.load", err)
	}
	a.head, a.loaded = head, true
	return nil
}

// Op describes the operation being audited.
type Op struct {
	Name      string
	AccountID string
	Params    any
	// Route reports how the operation reached storage. Evaluated after the
	// operation returns; nil means RouteProcessed.
	Route func() string
}

// Process runs fn and records the attempt and its outcome. The record is
// durable before Process returns. If the record cannot be written the
// caller gets an infrastructure failure even when fn succeeded.
func Process[T any](ctx context.Context, a *Auditor, op Op, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := a.tracer.Start(ctx, "tally."+op.Name, trace.WithAttributes(
		attribute.String("tally.operation", op.Name),
		attribute.String("tally.account_id", op.AccountID),
	))
	defer span.End()

	var zero T
	rec, err := a.begin(op)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}

	result, opErr := fn(ctx)
	a.complete(rec, op, result, opErr)

	if err := a.append(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit append failed")
		a.logger.Error("audit append failed",
			"op", op.Name,
			"account_id", op.AccountID,
			"operation_error", opErr,
			"error", err,
		)
		return zero, err
	}

	span.SetAttributes(
		attribute.Int64("tally.audit.sequence", rec.Sequence),
		attribute.String("tally.route", rec.Route),
	)
	if opErr != nil {
		span.RecordError(opErr)
		span.SetStatus(codes.Error, opErr.Error())
		return zero, opErr
	}
	return result, nil
}

func (a *Auditor) begin(op Op) (*Record, error) {
	params, err := Canonical(op.Params)
	if err != nil {
		return nil, types.E(types.KindInvalidRequest, "audit params for %s: %v", op.Name, err)
	}
	rec := &Record{
		ID:        id.NewAuditID(),
		Operation: op.Name,
		AccountID: op.AccountID,
		Params:    params,
		Timestamp: stamp(a.clock.Now()),
	}
	rec.IntentHash = rec.ComputeIntentHash()
	return rec, nil
}

func (a *Auditor) complete(rec *Record, op Op, result any, opErr error) {
	rec.Route = RouteProcessed
	if op.Route != nil {
		rec.Route = op.Route()
	}
	rec.CompletedAt = stamp(a.clock.Now())
	if opErr != nil {
		rec.Status = StatusFailed
		rec.ErrorKind = string(types.KindOf(opErr))
		rec.Error = opErr.Error()
		rec.Result = json.RawMessage("null")
		return
	}
	rec.Status = StatusSucceeded
	raw, err := Canonical(result)
	if err != nil {
		raw, _ = Canonical(fmt.Sprintf("unserializable result: %v", err)) //nolint:errcheck // a string always encodes
	}
	rec.Result = raw
}

// append links rec onto the chain head and persists it. The head only
// advances once the sink has accepted the record.
func (a *Auditor) append(ctx context.Context, rec *Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.loadLocked(ctx); err != nil {
		return err
	}
	rec.Sequence = 1
	if a.head != nil {
		rec.Sequence = a.head.Sequence + 1
		rec.PrevHash = a.head.Hash
	}
	rec.Hash = rec.ComputeHash(a.key)

	if err := a.sink.AppendAudit(ctx, rec); err != nil {
		if types.IsInfrastructure(err) {
			return types.Wrap(types.KindInfrastructureFailure, "audit.append", err)
		}
		return err
	}
	a.head = rec.Clone()

	if a.onAppend != nil {
		a.onAppend(ctx, rec.Clone())
	}
	return nil
}
