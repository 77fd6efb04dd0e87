// Package tally provides a metered-billing and subscription-accounting engine
// for Go applications.
//
// Tally is designed as a library, not a service. Import it into your Go
// application and give it a record store. It provides:
//
//   - Exact integer minor-unit money with half-up rounding
//   - Subscription lifecycle (active, canceling, past_due, canceled) with
//     per-subscription serialization
//   - Usage metering priced against plan allowances and overage rates
//   - Proration invoices for mid-period plan changes
//   - MRR, churn and ARPU reporting
//   - A hash-chained audit record for every mutating operation
//   - Primary/secondary stores with bounded retry and automatic failover
//
// # Quick Start
//
// Create an engine over a primary store, optionally with a secondary:
//
//	import (
//	    "github.com/xraph/tally"
//	    "github.com/xraph/tally/payment/stripe"
//	    "github.com/xraph/tally/store/memory"
//	    "github.com/xraph/tally/store/postgres"
//	)
//
//	payments, err := stripe.New(stripe.Config{SecretKey: key}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	t := tally.New(postgres.New(db),
//	    tally.WithSecondary(memory.New()),
//	    tally.WithPayments(payments),
//	)
//	if err := t.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer t.Stop()
//
// # Core Concepts
//
// Plans carry a price, a billing interval, included quantities per resource
// and overage rates:
//
//	plans, err := t.SeedDefaultPlans(ctx) // free, pro, enterprise
//
// Subscriptions are created on a successful charge:
//
//	sub, err := t.CreateSubscription(ctx, tally.CreateSubscriptionRequest{
//	    AccountID:    "acct_42",
//	    PlanID:       plans[1].ID,
//	    PaymentToken: "pm_card_visa",
//	})
//
// Usage is appended and billed when the period closes:
//
//	_, err = t.RecordUsage(ctx, tally.UsageEvent{
//	    AccountID:    "acct_42",
//	    ResourceType: "ai_requests",
//	    Quantity:     1,
//	})
//	inv, err := t.CloseBillingPeriod(ctx, sub.ID, time.Now())
//
// # Errors
//
// Every failure is a *types.Error of a closed set of kinds, grouped into
// validation, business and infrastructure classes. Use errors.Is with the
// sentinels re-exported here:
//
//	if errors.Is(err, tally.ErrDuplicateActiveSubscription) { ... }
//
// Only infrastructure failures are retried and failed over. Integrity
// findings (audit tampering, store divergence) are returned as reports, not
// errors.
//
// # Audit
//
// Each mutating call writes one audit record, success or failure, before
// it returns. Records form a linear chain: each hash covers the record's
// fields and the previous hash. VerifyAuditTrail recomputes the hashes and
// reports tampered records and broken links.
//
// All monetary values are integer minor units plus an ISO 4217 code, and
// all timestamps are UTC.
package tally
