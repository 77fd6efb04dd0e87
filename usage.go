package tally

import (
	"context"
	"time"

	"github.com/xraph/tally/entitlement"
	"github.com/xraph/tally/failover"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/types"
)

// UsageEvent is one usage observation submitted by a caller. A zero
// Timestamp means now.
type UsageEvent struct {
	AccountID    string    `json:"account_id" validate:"required,max=255"`
	ResourceType string    `json:"resource_type" validate:"required,max=64"`
	Quantity     int64     `json:"quantity" validate:"gte=0"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e *Engine) usageRecord(ev UsageEvent, now time.Time) (*meter.UsageRecord, error) {
	if err := e.check(ev); err != nil {
		return nil, err
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return &meter.UsageRecord{
		ID:           id.NewUsageID(),
		AccountID:    ev.AccountID,
		ResourceType: ev.ResourceType,
		Quantity:     ev.Quantity,
		Timestamp:    ts.UTC(),
		RecordedAt:   now,
	}, nil
}

// RecordUsage appends one usage record. Usage appends never take a lock.
func (e *Engine) RecordUsage(ctx context.Context, ev UsageEvent) (*meter.UsageRecord, error) {
	return process(ctx, e, "record_usage", ev.AccountID, ev, func(ctx context.Context) (*meter.UsageRecord, error) {
		rec, err := e.usageRecord(ev, e.now())
		if err != nil {
			return nil, err
		}
		if err := e.exec.Write(ctx, "append_usage", func(ctx context.Context, s store.Store) error {
			return s.AppendUsage(ctx, rec)
		}); err != nil {
			return nil, err
		}
		e.plugins.EmitUsageRecorded(ctx, []*meter.UsageRecord{rec})
		return rec, nil
	})
}

// RecordUsageBatch appends several records under one audit record. Either
// every event is valid and the batch is written, or nothing is.
func (e *Engine) RecordUsageBatch(ctx context.Context, events []UsageEvent) ([]*meter.UsageRecord, error) {
	type batchResult struct {
		Count int `json:"count"`
	}
	params := struct {
		Events []UsageEvent `json:"events"`
	}{events}

	var recs []*meter.UsageRecord
	_, err := process(ctx, e, "record_usage_batch", "", params, func(ctx context.Context) (batchResult, error) {
		if len(events) == 0 {
			return batchResult{}, types.E(types.KindInvalidRequest, "empty usage batch")
		}
		now := e.now()
		recs = make([]*meter.UsageRecord, 0, len(events))
		for _, ev := range events {
			rec, err := e.usageRecord(ev, now)
			if err != nil {
				return batchResult{}, err
			}
			recs = append(recs, rec)
		}
		if err := e.exec.Write(ctx, "append_usage_batch", func(ctx context.Context, s store.Store) error {
			return s.AppendUsageBatch(ctx, recs)
		}); err != nil {
			return batchResult{}, err
		}
		e.plugins.EmitUsageRecorded(ctx, recs)
		return batchResult{Count: len(recs)}, nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// EnqueueUsage validates ev and hands it to the background buffer without
// blocking. Buffered usage is written in batches by the flush worker and
// audited per batch.
func (e *Engine) EnqueueUsage(ev UsageEvent) error {
	rec, err := e.usageRecord(ev, e.now())
	if err != nil {
		return err
	}
	select {
	case e.usageBuffer <- rec:
		return nil
	default:
		return types.Wrap(types.KindInfrastructureFailure, "enqueue_usage", ErrUsageBufferFull)
	}
}

// usageFlushWorker flushes buffered usage to the store.
func (e *Engine) usageFlushWorker(ctx context.Context) {
	defer e.wg.Done()

	batch := make([]*meter.UsageRecord, 0, e.usageBatchSize)
	ticker := time.NewTicker(e.usageFlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			e.flushUsageBatch(ctx, batch)
			batch = make([]*meter.UsageRecord, 0, e.usageBatchSize)
		}
	}

	for {
		select {
		case <-e.stopChan:
			// Drain whatever was queued before Stop.
			for {
				select {
				case rec := <-e.usageBuffer:
					batch = append(batch, rec)
					if len(batch) >= e.usageBatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}

		case rec := <-e.usageBuffer:
			batch = append(batch, rec)
			if len(batch) >= e.usageBatchSize {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}

func (e *Engine) flushUsageBatch(ctx context.Context, batch []*meter.UsageRecord) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	params := struct {
		Count int `json:"count"`
	}{len(batch)}
	_, err := process(ctx, e, "flush_usage", "", params, func(ctx context.Context) (int, error) {
		return len(batch), e.exec.Write(ctx, "append_usage_batch", func(ctx context.Context, s store.Store) error {
			return s.AppendUsageBatch(ctx, batch)
		})
	})
	if err != nil {
		e.logger.Error("failed to flush usage batch",
			"error", err,
			"batch_size", len(batch),
		)
		return
	}

	elapsed := time.Since(start)
	e.plugins.EmitUsageRecorded(ctx, batch)
	e.plugins.EmitUsageFlushed(ctx, len(batch), elapsed)

	e.logger.Debug("flushed usage batch",
		"batch_size", len(batch),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// UsageSummary totals an account's usage per resource over [start, end).
func (e *Engine) UsageSummary(ctx context.Context, accountID string, start, end time.Time) (map[string]int64, error) {
	w, err := meter.ValidateWindow(start, end)
	if err != nil {
		return nil, err
	}
	return failover.Read(ctx, e.exec, "sum_usage_by_resource", func(ctx context.Context, s store.Store) (map[string]int64, error) {
		return s.SumUsageByResource(ctx, accountID, w)
	})
}

// PriceUsage sums an account's usage of one resource over [start, end) and
// prices it against p.
func (e *Engine) PriceUsage(ctx context.Context, accountID, resourceType string, start, end time.Time, p *plan.Plan) (meter.Cost, error) {
	w, err := meter.ValidateWindow(start, end)
	if err != nil {
		return meter.Cost{}, err
	}
	if _, ok := p.Entitlement(resourceType); !ok {
		return meter.Cost{}, types.E(types.KindUnknownResourceType, "%q is not entitled by plan %s", resourceType, p.ID)
	}
	total, err := failover.Read(ctx, e.exec, "sum_usage", func(ctx context.Context, s store.Store) (int64, error) {
		return s.SumUsage(ctx, accountID, resourceType, w)
	})
	if err != nil {
		return meter.Cost{}, err
	}
	return meter.Price(total, resourceType, p, e.fallbackRate)
}

// CheckResourceLimits compares usage with limits. It is a reporting helper
// and changes nothing.
func (e *Engine) CheckResourceLimits(usage map[string]int64, limits map[string]plan.Quantity) (entitlement.Report, error) {
	return entitlement.Check(usage, limits)
}

// CheckAccountLimits reports the account's usage in its current period
// against its plan's entitlements.
func (e *Engine) CheckAccountLimits(ctx context.Context, accountID string) (entitlement.Report, error) {
	sub, err := e.GetLiveSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	p, err := e.getPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	used, err := e.UsageSummary(ctx, accountID, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	if err != nil {
		return nil, err
	}
	// Only entitled resources are reported; unmetered usage has no limit.
	usage := make(map[string]int64, len(p.Entitlements))
	for res := range p.Entitlements {
		usage[res] = used[res]
	}
	return entitlement.Check(usage, p.Entitlements)
}
