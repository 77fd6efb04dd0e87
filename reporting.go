package tally

import (
	"context"
	"time"

	"github.com/xraph/tally/audit"
	"github.com/xraph/tally/failover"
	"github.com/xraph/tally/metrics"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
)

// ComputeMetrics reports MRR, churn and ARPU over subscriptions updated in
// [start, end], in the engine currency.
func (e *Engine) ComputeMetrics(ctx context.Context, start, end time.Time) (metrics.Report, error) {
	if end.Before(start) {
		return metrics.Report{}, types.E(types.KindInvalidRange, "window end before start")
	}
	subs, err := e.ListSubscriptions(ctx, subscription.ListOpts{UpdatedAfter: start})
	if err != nil {
		return metrics.Report{}, err
	}

	plans := make(map[string]*plan.Plan)
	records := make([]metrics.Record, 0, len(subs))
	for _, sub := range subs {
		p, ok := plans[sub.PlanID.String()]
		if !ok {
			p, err = e.getPlan(ctx, sub.PlanID)
			if err != nil {
				return metrics.Report{}, err
			}
			plans[sub.PlanID.String()] = p
		}
		records = append(records, metrics.Record{
			SubscriptionID: sub.ID.String(),
			Status:         string(sub.Status),
			Price:          p.Price,
			Interval:       p.Interval,
			UpdatedAt:      sub.UpdatedAt,
		})
	}
	return metrics.Compute(records, start, end, e.currency)
}

// VerifyAuditTrail checks records against the engine's audit key.
func (e *Engine) VerifyAuditTrail(records []*audit.Record) audit.Verification {
	return audit.Verify(records, e.auditor.Key())
}

// AuditTrail reads audit records.
func (e *Engine) AuditTrail(ctx context.Context, opts audit.ListOpts) ([]*audit.Record, error) {
	return auditSink{exec: e.exec}.ListAudit(ctx, opts)
}

// VerifyAuditLog reads the whole stored audit log and verifies it.
func (e *Engine) VerifyAuditLog(ctx context.Context) (audit.Verification, error) {
	records, err := e.AuditTrail(ctx, audit.ListOpts{})
	if err != nil {
		return audit.Verification{}, err
	}
	return e.VerifyAuditTrail(records), nil
}

// VerifyDataConsistency compares per-entity record counts written since
// the given time on the primary and secondary stores.
func (e *Engine) VerifyDataConsistency(ctx context.Context, since time.Time) (*failover.ConsistencyReport, error) {
	report, err := e.exec.VerifyDataConsistency(ctx, since)
	if err != nil {
		return nil, err
	}
	e.plugins.EmitConsistencyChecked(ctx, report)
	if !report.IsConsistent {
		e.logger.Warn("primary and secondary stores diverge",
			"missing_records", report.MissingRecords,
			"since", since,
		)
	}
	return report, nil
}

// Reconcile replays onto the primary the writes the secondary took while
// the primary was unreachable. Any successful primary call does the same,
// so this only forces it.
func (e *Engine) Reconcile(ctx context.Context) (failover.ReconcileReport, error) {
	return e.exec.Reconcile(ctx)
}
