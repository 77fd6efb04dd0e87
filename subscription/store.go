package subscription

import (
	"context"
	"time"

	"github.com/xraph/tally/id"
)

type Store interface {
	CreateSubscription(ctx context.Context, s *Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	// GetLiveSubscription returns the account's non-canceled subscription.
	GetLiveSubscription(ctx context.Context, accountID string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, opts ListOpts) ([]*Subscription, error)
	UpdateSubscription(ctx context.Context, s *Subscription) error
	CountSubscriptionsSince(ctx context.Context, since time.Time) (int64, error)
}

type ListOpts struct {
	AccountID    string
	PlanID       id.PlanID
	Status       Status
	UpdatedAfter time.Time
	// UpdatedBefore is exclusive.
	UpdatedBefore time.Time
	Limit         int
	Offset        int
}
