// Package audithook forwards tally audit records and store-health events to
// an external audit trail backend.
//
// It defines a local Recorder interface so the package does not import any
// backend directly. Callers inject a RecorderFunc adapter at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/tally/audit"
	"github.com/xraph/tally/failover"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/subscription"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                     = (*Extension)(nil)
	_ plugin.OnAuditAppended            = (*Extension)(nil)
	_ plugin.OnSubscriptionTransitioned = (*Extension)(nil)
	_ plugin.OnInvoicePaid              = (*Extension)(nil)
	_ plugin.OnFailover                 = (*Extension)(nil)
	_ plugin.OnConsistencyChecked       = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is the backend-neutral event shape.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension forwards tally events to a Recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// OnAuditAppended forwards every chained record with its sequence and hash
// so the external trail can be cross-checked against the chain.
func (e *Extension) OnAuditAppended(ctx context.Context, rec *audit.Record) error {
	action, severity, outcome := ActionOperationSucceeded, SeverityInfo, OutcomeSuccess
	var err error
	if rec.Status == audit.StatusFailed {
		action, severity, outcome = ActionOperationFailed, SeverityWarning, OutcomeFailure
		err = fmt.Errorf("%s: %s", rec.ErrorKind, rec.Error)
	}
	return e.record(ctx, action, severity, outcome,
		ResourceOperation, rec.ID.String(), CategoryBilling, err,
		"operation", rec.Operation,
		"account_id", rec.AccountID,
		"sequence", rec.Sequence,
		"route", rec.Route,
		"hash", rec.Hash,
	)
}

func (e *Extension) OnSubscriptionTransitioned(ctx context.Context, sub *subscription.Subscription, from subscription.Status) error {
	return e.record(ctx, ActionSubscriptionTransitioned, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"account_id", sub.AccountID,
		"from", string(from),
		"to", string(sub.Status),
	)
}

func (e *Extension) OnInvoicePaid(ctx context.Context, inv *invoice.Invoice) error {
	return e.record(ctx, ActionInvoicePaid, SeverityInfo, OutcomeSuccess,
		ResourceInvoice, inv.ID.String(), CategoryPayment, nil,
		"account_id", inv.AccountID,
		"total", inv.Total.String(),
		"payment_ref", inv.PaymentRef,
	)
}

func (e *Extension) OnFailover(ctx context.Context, op string, cause error) error {
	return e.record(ctx, ActionStoreFailover, SeverityWarning, OutcomeSuccess,
		ResourceStore, "", CategoryIntegrity, cause,
		"op", op,
	)
}

func (e *Extension) OnConsistencyChecked(ctx context.Context, rep *failover.ConsistencyReport) error {
	action, severity, outcome := ActionStoreConsistent, SeverityInfo, OutcomeSuccess
	if !rep.IsConsistent {
		action, severity, outcome = ActionStoreInconsistent, SeverityCritical, OutcomeFailure
	}
	return e.record(ctx, action, severity, outcome,
		ResourceStore, "", CategoryIntegrity, nil,
		"missing_records", rep.MissingRecords,
		"primary_count", rep.PrimaryCount,
		"secondary_count", rep.SecondaryCount,
	)
}

// record builds and sends an event if the action is enabled. Recorder
// failures are logged, never returned.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
