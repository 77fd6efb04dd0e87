package tally_test

import (
	"context"
	"log"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/tally"
	"github.com/xraph/tally/payment"
	"github.com/xraph/tally/store/memory"
	"github.com/xraph/tally/types"
)

// TestDocumentationExamples verifies that the examples in the package
// documentation run.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		// Memory stores for the demo; use postgres in production.
		t1 := tally.New(memory.New(),
			tally.WithSecondary(memory.New()),
			tally.WithPayments(payment.NewFake()),
			tally.WithLogger(slog.Default()),
			tally.WithUsageBuffer(100, 5*time.Second),
		)

		ctx := context.Background()
		if err := t1.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer t1.Stop() //nolint:errcheck // memory stores close cleanly

		plans, err := t1.SeedDefaultPlans(ctx)
		if err != nil {
			t.Fatal(err)
		}

		sub, err := t1.CreateSubscription(ctx, tally.CreateSubscriptionRequest{
			AccountID:    "acct_42",
			PlanID:       plans[1].ID,
			PaymentToken: "pm_card_visa",
		})
		if err != nil {
			t.Fatal(err)
		}

		if _, err := t1.RecordUsage(ctx, tally.UsageEvent{
			AccountID:    "acct_42",
			ResourceType: "ai_requests",
			Quantity:     1,
		}); err != nil {
			t.Fatal(err)
		}

		inv, err := t1.CloseBillingPeriod(ctx, sub.ID, sub.CurrentPeriodEnd)
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("Invoice emitted: %s\n", inv.Total.String())

		v, err := t1.VerifyAuditLog(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !v.IsValid {
			t.Fatalf("audit log invalid: %+v", v)
		}
	})

	t.Run("MoneyExamples", func(t *testing.T) {
		_ = types.USD(4900)   // $49.00
		_ = types.EUR(9900)   // €99.00
		_ = types.Zero("usd") // $0.00

		m1 := types.USD(100)
		m2 := types.USD(200)
		if sum, err := m1.Add(m2); err != nil || sum.Amount != 300 {
			t.Fatalf("add: %v %v", sum, err)
		}
		if _, err := m1.Add(types.EUR(1)); err == nil {
			t.Fatal("expected currency mismatch")
		}
		third, err := m1.MultiplyByRatio(1, 3)
		if err != nil || third.Amount != 33 {
			t.Fatalf("ratio: %v %v", third, err)
		}

		_ = m1.String()      // "$1.00"
		_ = m1.FormatMajor() // "1.00"
	})
}
