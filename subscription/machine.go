package subscription

import (
	"time"

	"github.com/xraph/tally/types"
)

// Event is an input to the state machine.
type Event string

const (
	EventCancel         Event = "cancel"
	EventCancelAtEnd    Event = "cancel_at_period_end"
	EventPaymentFailed  Event = "payment_failed"
	EventPaymentSuccess Event = "payment_succeeded"
	EventClosePeriod    Event = "close_period"
)

// Outcome tells the caller what a transition did.
type Outcome string

const (
	// OutcomeNoop means the subscription is unchanged.
	OutcomeNoop Outcome = "noop"
	// OutcomeChanged means fields changed and the record must be written.
	OutcomeChanged Outcome = "changed"
	// OutcomeRenewed means the period rolled over and a regular invoice is due.
	OutcomeRenewed Outcome = "renewed"
	// OutcomeEnded means a period close terminated the subscription and a
	// final invoice is due.
	OutcomeEnded Outcome = "ended"
)

// Transition is the result of Apply. Next is a copy; the input is untouched.
type Transition struct {
	From    Status
	To      Status
	Outcome Outcome
	Next    *Subscription
	// ClosedStart and ClosedEnd bound the period that was closed.
	ClosedStart time.Time
	ClosedEnd   time.Time
}

// NextPeriod computes the end of a period that starts at the given time.
type NextPeriod func(start time.Time) time.Time

// Apply runs ev against s at now. canceled absorbs every event: a repeated
// cancel is a no-op and anything else is an invalid transition. Payment
// events leave a canceling subscription on its termination schedule.
func Apply(s *Subscription, ev Event, now time.Time, next NextPeriod) (Transition, error) {
	if !s.Status.Valid() {
		return Transition{}, types.E(types.KindInvalidSubscriptionStatus, "status %q", s.Status)
	}
	now = now.UTC()
	t := Transition{From: s.Status, To: s.Status, Outcome: OutcomeNoop, Next: s.Clone()}
	n := t.Next

	switch ev {
	case EventCancel, EventCancelAtEnd:
		switch s.Status {
		case StatusCanceled:
			return t, nil
		case StatusCanceling:
			if ev == EventCancelAtEnd {
				return t, nil
			}
		}
		if ev == EventCancelAtEnd {
			n.Status = StatusCanceling
			n.CancelAtPeriodEnd = true
		} else {
			n.Status = StatusCanceled
			n.CancelAtPeriodEnd = false
			n.CanceledAt = &now
		}

	case EventPaymentFailed:
		switch s.Status {
		case StatusCanceled:
			return t, invalid(s, ev)
		case StatusCanceling, StatusPastDue:
			return t, nil
		}
		n.Status = StatusPastDue

	case EventPaymentSuccess:
		switch s.Status {
		case StatusCanceled:
			return t, invalid(s, ev)
		case StatusCanceling, StatusActive:
			return t, nil
		}
		n.Status = StatusActive

	case EventClosePeriod:
		if s.Status == StatusCanceled {
			return t, invalid(s, ev)
		}
		if now.Before(s.CurrentPeriodEnd) {
			return t, types.E(types.KindPeriodNotEnded, "subscription %s period ends %s", s.ID, s.CurrentPeriodEnd.Format(time.RFC3339))
		}
		t.ClosedStart, t.ClosedEnd = s.CurrentPeriodStart, s.CurrentPeriodEnd
		if s.Status == StatusCanceling {
			n.Status = StatusCanceled
			n.CanceledAt = &now
			t.To, t.Outcome = n.Status, OutcomeEnded
			n.Version++
			n.Touch(now)
			return t, nil
		}
		n.CurrentPeriodStart = s.CurrentPeriodEnd
		n.CurrentPeriodEnd = next(s.CurrentPeriodEnd)
		t.Outcome = OutcomeRenewed
		n.Version++
		n.Touch(now)
		return t, nil

	default:
		return t, types.E(types.KindInvalidTransition, "unknown event %q", ev)
	}

	t.To, t.Outcome = n.Status, OutcomeChanged
	n.Version++
	n.Touch(now)
	return t, nil
}

func invalid(s *Subscription, ev Event) error {
	return types.E(types.KindInvalidTransition, "%s on %s subscription %s", ev, s.Status, s.ID)
}
