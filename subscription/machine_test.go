package subscription_test

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
)

var (
	start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end   = start.AddDate(0, 1, 0)
)

func monthly(t time.Time) time.Time { return t.AddDate(0, 1, 0) }

func newSub(status subscription.Status) *subscription.Subscription {
	return &subscription.Subscription{
		ID:                 id.NewSubscriptionID(),
		AccountID:          "acct_1",
		PlanID:             id.NewPlanID(),
		Status:             status,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
	}
}

func TestApplyTable(t *testing.T) {
	mid := start.AddDate(0, 0, 10)
	tests := []struct {
		name    string
		from    subscription.Status
		ev      subscription.Event
		now     time.Time
		to      subscription.Status
		outcome subscription.Outcome
		err     error
	}{
		{"cancel now", subscription.StatusActive, subscription.EventCancel, mid, subscription.StatusCanceled, subscription.OutcomeChanged, nil},
		{"cancel at end", subscription.StatusActive, subscription.EventCancelAtEnd, mid, subscription.StatusCanceling, subscription.OutcomeChanged, nil},
		{"past due cancel at end", subscription.StatusPastDue, subscription.EventCancelAtEnd, mid, subscription.StatusCanceling, subscription.OutcomeChanged, nil},
		{"canceling cancel now", subscription.StatusCanceling, subscription.EventCancel, mid, subscription.StatusCanceled, subscription.OutcomeChanged, nil},
		{"canceling cancel at end again", subscription.StatusCanceling, subscription.EventCancelAtEnd, mid, subscription.StatusCanceling, subscription.OutcomeNoop, nil},
		{"canceled cancel is noop", subscription.StatusCanceled, subscription.EventCancel, mid, subscription.StatusCanceled, subscription.OutcomeNoop, nil},
		{"payment failed", subscription.StatusActive, subscription.EventPaymentFailed, mid, subscription.StatusPastDue, subscription.OutcomeChanged, nil},
		{"payment failed twice", subscription.StatusPastDue, subscription.EventPaymentFailed, mid, subscription.StatusPastDue, subscription.OutcomeNoop, nil},
		{"payment recovered", subscription.StatusPastDue, subscription.EventPaymentSuccess, mid, subscription.StatusActive, subscription.OutcomeChanged, nil},
		{"canceling ignores failure", subscription.StatusCanceling, subscription.EventPaymentFailed, mid, subscription.StatusCanceling, subscription.OutcomeNoop, nil},
		{"canceling ignores success", subscription.StatusCanceling, subscription.EventPaymentSuccess, mid, subscription.StatusCanceling, subscription.OutcomeNoop, nil},
		{"canceled rejects payment", subscription.StatusCanceled, subscription.EventPaymentSuccess, mid, subscription.StatusCanceled, subscription.OutcomeNoop, types.ErrInvalidTransition},
		{"close before end", subscription.StatusActive, subscription.EventClosePeriod, mid, subscription.StatusActive, subscription.OutcomeNoop, types.ErrPeriodNotEnded},
		{"close renews", subscription.StatusActive, subscription.EventClosePeriod, end, subscription.StatusActive, subscription.OutcomeRenewed, nil},
		{"close renews past due", subscription.StatusPastDue, subscription.EventClosePeriod, end, subscription.StatusPastDue, subscription.OutcomeRenewed, nil},
		{"close ends canceling", subscription.StatusCanceling, subscription.EventClosePeriod, end.Add(time.Hour), subscription.StatusCanceled, subscription.OutcomeEnded, nil},
		{"close canceled", subscription.StatusCanceled, subscription.EventClosePeriod, end, subscription.StatusCanceled, subscription.OutcomeNoop, types.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSub(tt.from)
			tr, err := subscription.Apply(s, tt.ev, tt.now, monthly)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, tr.Next.Status)
			assert.Equal(t, tt.outcome, tr.Outcome)
			assert.Equal(t, tt.from, s.Status, "input must not be mutated")
		})
	}
}

func TestApplyRenewalAdvancesPeriod(t *testing.T) {
	s := newSub(subscription.StatusActive)
	tr, err := subscription.Apply(s, subscription.EventClosePeriod, end, monthly)
	require.NoError(t, err)
	assert.Equal(t, end, tr.Next.CurrentPeriodStart)
	assert.Equal(t, end.AddDate(0, 1, 0), tr.Next.CurrentPeriodEnd)
	assert.Equal(t, start, tr.ClosedStart)
	assert.Equal(t, end, tr.ClosedEnd)
	assert.Equal(t, s.Version+1, tr.Next.Version)
}

func TestApplyUnknownStatus(t *testing.T) {
	s := newSub("paused")
	_, err := subscription.Apply(s, subscription.EventCancel, start, monthly)
	assert.ErrorIs(t, err, types.ErrInvalidSubscriptionStatus)
}

// Random event sequences never leave canceled and never produce an
// unknown status.
func TestApplyCanceledIsAbsorbing(t *testing.T) {
	events := []subscription.Event{
		subscription.EventCancel,
		subscription.EventCancelAtEnd,
		subscription.EventPaymentFailed,
		subscription.EventPaymentSuccess,
		subscription.EventClosePeriod,
	}
	rng := rand.New(rand.NewPCG(1, 2))

	for run := 0; run < 500; run++ {
		s := newSub(subscription.StatusActive)
		now := start
		seenCanceled := false
		for step := 0; step < 20; step++ {
			ev := events[rng.IntN(len(events))]
			if ev == subscription.EventClosePeriod {
				now = s.CurrentPeriodEnd
			}
			tr, err := subscription.Apply(s, ev, now, monthly)
			if err != nil {
				continue
			}
			s = tr.Next
			require.True(t, s.Status.Valid())
			if seenCanceled {
				require.Equal(t, subscription.StatusCanceled, s.Status, "run %d step %d left canceled via %s", run, step, ev)
			}
			seenCanceled = s.Status == subscription.StatusCanceled
		}
	}
}
