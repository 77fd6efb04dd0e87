package tally

import (
	"context"

	"github.com/xraph/tally/failover"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
)

type planParams struct {
	PlanID string `json:"plan_id"`
	Name   string `json:"name,omitempty"`
	Tier   string `json:"tier,omitempty"`
}

func paramsOf(p *plan.Plan) planParams {
	return planParams{PlanID: p.ID.String(), Name: p.Name, Tier: string(p.Tier)}
}

// CreatePlan validates and stores a new active plan.
func (e *Engine) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if p.ID.IsNil() {
		p.ID = id.NewPlanID()
	}
	_, err := process(ctx, e, "create_plan", "", paramsOf(p), func(ctx context.Context) (*plan.Plan, error) {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		p.Entity = types.NewEntity(e.now())
		p.Active = true
		if err := e.exec.Write(ctx, "create_plan", func(ctx context.Context, s store.Store) error {
			return s.CreatePlan(ctx, p)
		}); err != nil {
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return err
	}

	e.plugins.EmitPlanCreated(ctx, p)
	return nil
}

// SeedDefaultPlans stores the stock free, pro and enterprise tiers in the
// engine currency and returns them.
func (e *Engine) SeedDefaultPlans(ctx context.Context) ([]*plan.Plan, error) {
	plans := plan.DefaultTiers(e.currency, e.now())
	for _, p := range plans {
		if err := e.CreatePlan(ctx, p); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

// GetPlan retrieves a plan by ID.
func (e *Engine) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	return e.getPlan(ctx, planID)
}

// ListPlans lists stored plans.
func (e *Engine) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	return failover.Read(ctx, e.exec, "list_plans", func(ctx context.Context, s store.Store) ([]*plan.Plan, error) {
		return s.ListPlans(ctx, opts)
	})
}

// UpdatePlan replaces a plan's terms. Plans referenced by a live
// subscription are immutable and fail with PlanInUse.
func (e *Engine) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	_, err := process(ctx, e, "update_plan", "", paramsOf(p), func(ctx context.Context) (*plan.Plan, error) {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		current, err := e.getPlan(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if err := e.ensureUnreferenced(ctx, p.ID, true); err != nil {
			return nil, err
		}
		p.Entity = current.Entity
		p.Touch(e.now())
		if err := e.exec.Write(ctx, "update_plan", func(ctx context.Context, s store.Store) error {
			return s.UpdatePlan(ctx, p)
		}); err != nil {
			return nil, err
		}
		return p, nil
	})
	return err
}

// DeactivatePlan hides a plan from new subscriptions. Existing
// subscriptions keep billing against it.
func (e *Engine) DeactivatePlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	return process(ctx, e, "deactivate_plan", "", planParams{PlanID: planID.String()}, func(ctx context.Context) (*plan.Plan, error) {
		p, err := e.getPlan(ctx, planID)
		if err != nil {
			return nil, err
		}
		if !p.Active {
			return p, nil
		}
		p.Active = false
		p.Touch(e.now())
		if err := e.exec.Write(ctx, "update_plan", func(ctx context.Context, s store.Store) error {
			return s.UpdatePlan(ctx, p)
		}); err != nil {
			return nil, err
		}
		return p, nil
	})
}

// DeletePlan removes a plan that no subscription, live or terminated, has
// ever referenced.
func (e *Engine) DeletePlan(ctx context.Context, planID id.PlanID) error {
	_, err := process(ctx, e, "delete_plan", "", planParams{PlanID: planID.String()}, func(ctx context.Context) (struct{}, error) {
		if err := e.ensureUnreferenced(ctx, planID, false); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, e.exec.Write(ctx, "delete_plan", func(ctx context.Context, s store.Store) error {
			return s.DeletePlan(ctx, planID)
		})
	})
	return err
}

// ensureUnreferenced fails with PlanInUse when a subscription points at the
// plan. With liveOnly, canceled subscriptions are ignored.
func (e *Engine) ensureUnreferenced(ctx context.Context, planID id.PlanID, liveOnly bool) error {
	subs, err := e.ListSubscriptions(ctx, subscription.ListOpts{PlanID: planID})
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if !liveOnly || sub.Status.Live() {
			return types.E(types.KindPlanInUse, "plan %s is referenced by subscription %s", planID, sub.ID)
		}
	}
	return nil
}
