// Package subscription models an account's subscription to a plan and the
// transitions it may take.
package subscription

import (
	"time"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCanceling Status = "canceling"
	StatusCanceled  Status = "canceled"
	StatusPastDue   Status = "past_due"
)

// Live reports whether the status counts toward the one-per-account rule.
func (s Status) Live() bool {
	return s == StatusActive || s == StatusCanceling || s == StatusPastDue
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.Live() || s == StatusCanceled
}

type Subscription struct {
	types.Entity
	ID                 id.SubscriptionID `json:"id"`
	AccountID          string            `json:"account_id"`
	PlanID             id.PlanID         `json:"plan_id"`
	Status             Status            `json:"status"`
	CurrentPeriodStart time.Time         `json:"current_period_start"`
	CurrentPeriodEnd   time.Time         `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CanceledAt         *time.Time        `json:"canceled_at,omitempty"`
	PaymentRef         string            `json:"payment_ref,omitempty"`
	Version            int64             `json:"version"`
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (s *Subscription) Clone() *Subscription {
	c := *s
	if s.CanceledAt != nil {
		t := *s.CanceledAt
		c.CanceledAt = &t
	}
	return &c
}
