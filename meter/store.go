package meter

import (
	"context"
	"time"
)

// Store persists usage. Appends never conflict with each other.
type Store interface {
	AppendUsage(ctx context.Context, rec *UsageRecord) error
	AppendUsageBatch(ctx context.Context, recs []*UsageRecord) error
	SumUsage(ctx context.Context, accountID, resourceType string, w Window) (int64, error)
	SumUsageByResource(ctx context.Context, accountID string, w Window) (map[string]int64, error)
	QueryUsage(ctx context.Context, accountID string, opts QueryOpts) ([]*UsageRecord, error)
	CountUsageSince(ctx context.Context, since time.Time) (int64, error)
}

type QueryOpts struct {
	ResourceType string
	Start        time.Time
	End          time.Time
	Limit        int
	Offset       int
}
