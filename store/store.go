// Package store defines the aggregate persistence interface every backend
// implements.
package store

import (
	"context"

	"github.com/xraph/tally/addon"
	"github.com/xraph/tally/audit"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/subscription"
)

// Store is the unified storage interface for all tally entities.
type Store interface {
	plan.Store
	subscription.Store
	meter.Store
	invoice.Store
	addon.Store
	audit.Store

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
