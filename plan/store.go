package plan

import (
	"context"

	"github.com/xraph/tally/id"
)

// Catalog is the read-only lookup the billing engine consumes.
type Catalog interface {
	GetPlan(ctx context.Context, planID id.PlanID) (*Plan, error)
}

// Store is the catalog admin surface.
type Store interface {
	Catalog
	CreatePlan(ctx context.Context, p *Plan) error
	ListPlans(ctx context.Context, opts ListOpts) ([]*Plan, error)
	UpdatePlan(ctx context.Context, p *Plan) error
	DeletePlan(ctx context.Context, planID id.PlanID) error
}

type ListOpts struct {
	ActiveOnly bool
	Tier       Tier
	Limit      int
	Offset     int
}
