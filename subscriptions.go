package tally

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xraph/tally/addon"
	"github.com/xraph/tally/failover"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/lock"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/pricing"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
)

// CreateSubscriptionRequest subscribes an account to a plan. PaymentToken
// identifies the payer's instrument; it may be empty for free plans.
type CreateSubscriptionRequest struct {
	AccountID    string    `json:"account_id" validate:"required,max=255"`
	PlanID       id.PlanID `json:"plan_id"`
	PaymentToken string    `json:"payment_token,omitempty" validate:"max=255"`
}

// CreateSubscription charges the plan price and activates a subscription
// with a paid initial invoice. A declined charge stores nothing.
func (e *Engine) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*subscription.Subscription, error) {
	params := struct {
		PlanID string `json:"plan_id"`
	}{PlanID: req.PlanID.String()}

	return process(ctx, e, "create_subscription", req.AccountID, params, func(ctx context.Context) (*subscription.Subscription, error) {
		if err := e.check(req); err != nil {
			return nil, err
		}
		if req.PlanID.IsNil() {
			return nil, types.E(types.KindInvalidRequest, "plan_id is required")
		}
		return withLock(ctx, e, lock.AccountKey(req.AccountID), func() (*subscription.Subscription, error) {
			return e.createSubscription(ctx, req)
		})
	})
}

func (e *Engine) createSubscription(ctx context.Context, req CreateSubscriptionRequest) (*subscription.Subscription, error) {
	live, err := e.liveSubscription(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if live != nil {
		return nil, types.E(types.KindDuplicateActiveSubscription, "account %s already has subscription %s (%s)", req.AccountID, live.ID, live.Status)
	}

	p, err := e.getPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, types.E(types.KindPlanInactive, "plan %s", p.ID)
	}

	paymentRef, err := e.charge(ctx, req.AccountID, p.Price, req.PaymentToken)
	if err != nil {
		return nil, err
	}

	now := e.now()
	sub := &subscription.Subscription{
		Entity:             types.NewEntity(now),
		ID:                 id.NewSubscriptionID(),
		AccountID:          req.AccountID,
		PlanID:             p.ID,
		Status:             subscription.StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   p.Interval.Next(now),
		PaymentRef:         paymentRef,
		Version:            1,
	}

	inv, err := invoice.NewBuilder(sub.AccountID, sub.ID, p.Currency(), invoice.ReasonInitial, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, now).
		Charge(invoice.LineItemBase, p.Name+" subscription", "", 1, p.Price).
		Build(now)
	if err != nil {
		e.refund(ctx, paymentRef, p.Price, err)
		return nil, err
	}
	markPaid(inv, now, paymentRef)

	if err := e.exec.Write(ctx, "create_subscription", func(ctx context.Context, s store.Store) error {
		return s.CreateSubscription(ctx, sub)
	}); err != nil {
		e.refund(ctx, paymentRef, p.Price, err)
		return nil, err
	}
	if err := e.writeInvoice(ctx, inv); err != nil {
		e.refund(ctx, paymentRef, p.Price, err)
		e.abandonSubscription(ctx, sub, err)
		return nil, err
	}

	e.plugins.EmitSubscriptionCreated(ctx, sub)
	e.plugins.EmitInvoicePaid(ctx, inv)

	e.logger.Info("subscription created",
		"subscription_id", sub.ID.String(),
		"account_id", sub.AccountID,
		"plan_id", p.ID.String(),
	)
	return sub, nil
}

// abandonSubscription cancels a subscription whose initial invoice could not
// be stored, so the account is free to subscribe again.
func (e *Engine) abandonSubscription(ctx context.Context, sub *subscription.Subscription, cause error) {
	t, err := subscription.Apply(sub, subscription.EventCancel, e.now(), nil)
	if err == nil {
		err = e.exec.Write(context.WithoutCancel(ctx), "update_subscription", func(ctx context.Context, s store.Store) error {
			return s.UpdateSubscription(ctx, t.Next)
		})
	}
	if err != nil {
		e.logger.Error("could not cancel subscription left without an invoice",
			"subscription_id", sub.ID.String(),
			"account_id", sub.AccountID,
			"cause", cause,
			"error", err,
		)
	}
}

// CancelSubscription cancels now, or at the end of the current period when
// atPeriodEnd is set. Canceling a canceled subscription returns it unchanged.
func (e *Engine) CancelSubscription(ctx context.Context, subID id.SubscriptionID, atPeriodEnd bool) (*subscription.Subscription, error) {
	ev := subscription.EventCancel
	if atPeriodEnd {
		ev = subscription.EventCancelAtEnd
	}
	params := struct {
		SubscriptionID string `json:"subscription_id"`
		AtPeriodEnd    bool   `json:"at_period_end"`
	}{subID.String(), atPeriodEnd}
	return e.apply(ctx, "cancel_subscription", subID, ev, params)
}

// RecordPaymentFailure moves an active subscription to past_due.
func (e *Engine) RecordPaymentFailure(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return e.apply(ctx, "record_payment_failure", subID, subscription.EventPaymentFailed, subParams(subID))
}

// RecordPaymentSuccess moves a past_due subscription back to active. A
// canceling subscription stays on its termination schedule.
func (e *Engine) RecordPaymentSuccess(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return e.apply(ctx, "record_payment_success", subID, subscription.EventPaymentSuccess, subParams(subID))
}

func subParams(subID id.SubscriptionID) any {
	return struct {
		SubscriptionID string `json:"subscription_id"`
	}{subID.String()}
}

// apply runs a status event under the subscription lock.
func (e *Engine) apply(ctx context.Context, name string, subID id.SubscriptionID, ev subscription.Event, params any) (*subscription.Subscription, error) {
	return process(ctx, e, name, e.accountOf(ctx, subID), params, func(ctx context.Context) (*subscription.Subscription, error) {
		return withLock(ctx, e, lock.SubscriptionKey(subID.String()), func() (*subscription.Subscription, error) {
			sub, _, err := e.transition(ctx, subID, ev, nil)
			return sub, err
		})
	})
}

// transition applies ev and persists the result. The caller holds the
// subscription lock.
func (e *Engine) transition(ctx context.Context, subID id.SubscriptionID, ev subscription.Event, next subscription.NextPeriod) (*subscription.Subscription, subscription.Transition, error) {
	sub, err := e.GetSubscription(ctx, subID)
	if err != nil {
		return nil, subscription.Transition{}, err
	}
	t, err := subscription.Apply(sub, ev, e.now(), next)
	if err != nil {
		return nil, t, err
	}
	if t.Outcome == subscription.OutcomeNoop {
		return t.Next, t, nil
	}
	if err := e.exec.Write(ctx, "update_subscription", func(ctx context.Context, s store.Store) error {
		return s.UpdateSubscription(ctx, t.Next)
	}); err != nil {
		return nil, t, err
	}

	e.plugins.EmitSubscriptionTransitioned(ctx, t.Next, t.From)
	e.logger.Debug("subscription transitioned",
		"subscription_id", subID.String(),
		"event", string(ev),
		"from", string(t.From),
		"to", string(t.To),
	)
	return t.Next, t, nil
}

// CloseBillingPeriod closes the current period of a subscription whose end
// has passed. A canceling subscription is terminated with a final invoice
// for the closed period's overage. Any other subscription rolls into its
// next period and receives an invoice for the new base fee, the closed
// period's overage and recurring add-ons. A zero now means the engine clock.
func (e *Engine) CloseBillingPeriod(ctx context.Context, subID id.SubscriptionID, now time.Time) (*invoice.Invoice, error) {
	if now.IsZero() {
		now = e.now()
	}
	now = now.UTC()
	params := struct {
		SubscriptionID string    `json:"subscription_id"`
		Now            time.Time `json:"now"`
	}{subID.String(), now}

	return process(ctx, e, "close_billing_period", e.accountOf(ctx, subID), params, func(ctx context.Context) (*invoice.Invoice, error) {
		return withLock(ctx, e, lock.SubscriptionKey(subID.String()), func() (*invoice.Invoice, error) {
			return e.closeBillingPeriod(ctx, subID, now)
		})
	})
}

func (e *Engine) closeBillingPeriod(ctx context.Context, subID id.SubscriptionID, now time.Time) (*invoice.Invoice, error) {
	sub, err := e.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	p, err := e.getPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	// Apply is pure, so the close is validated before any usage is read.
	t, err := subscription.Apply(sub, subscription.EventClosePeriod, now, p.Interval.Next)
	if err != nil {
		return nil, err
	}
	closed, err := meter.ValidateWindow(t.ClosedStart, t.ClosedEnd)
	if err != nil {
		return nil, err
	}

	var b *invoice.Builder
	switch t.Outcome {
	case subscription.OutcomeEnded:
		b = invoice.NewBuilder(sub.AccountID, sub.ID, p.Currency(), invoice.ReasonFinal, closed.Start, closed.End, now)
	default:
		b = invoice.NewBuilder(sub.AccountID, sub.ID, p.Currency(), invoice.ReasonRenewal, t.Next.CurrentPeriodStart, t.Next.CurrentPeriodEnd, now).
			Charge(invoice.LineItemBase, p.Name+" subscription", "", 1, p.Price)
	}
	if err := e.addOverage(ctx, b, sub.AccountID, p, closed); err != nil {
		return nil, err
	}
	if t.Outcome == subscription.OutcomeRenewed {
		if err := e.addRecurringAddOns(ctx, b, sub.AccountID, p.Currency(), now); err != nil {
			return nil, err
		}
	}
	inv, err := b.Build(now)
	if err != nil {
		return nil, err
	}

	if err := e.exec.Write(ctx, "update_subscription", func(ctx context.Context, s store.Store) error {
		return s.UpdateSubscription(ctx, t.Next)
	}); err != nil {
		return nil, err
	}
	e.plugins.EmitSubscriptionTransitioned(ctx, t.Next, t.From)

	if err := e.writeInvoice(ctx, inv); err != nil {
		return nil, err
	}

	e.logger.Info("billing period closed",
		"subscription_id", sub.ID.String(),
		"account_id", sub.AccountID,
		"outcome", string(t.Outcome),
		"invoice_id", inv.ID.String(),
		"total", inv.Total.String(),
	)
	return inv, nil
}

// addOverage appends one line per entitled resource used beyond its
// allowance during w.
func (e *Engine) addOverage(ctx context.Context, b *invoice.Builder, accountID string, p *plan.Plan, w meter.Window) error {
	usage, err := e.UsageSummary(ctx, accountID, w.Start, w.End)
	if err != nil {
		return err
	}
	resources := make([]string, 0, len(p.Entitlements))
	for res := range p.Entitlements {
		resources = append(resources, res)
	}
	sort.Strings(resources)

	for _, res := range resources {
		cost, err := meter.Price(usage[res], res, p, e.fallbackRate)
		if err != nil {
			return err
		}
		if cost.WithinLimit {
			continue
		}
		b.ChargeAmount(invoice.LineItemOverage, fmt.Sprintf("%s overage", res), res, cost.Overage, cost.Amount)
	}
	return nil
}

func (e *Engine) addRecurringAddOns(ctx context.Context, b *invoice.Builder, accountID, currency string, now time.Time) error {
	owned, err := e.ListAddOns(ctx, accountID)
	if err != nil {
		return err
	}
	for _, u := range owned {
		if !u.Recurring || !u.ActiveAt(now) {
			continue
		}
		if u.Price.Currency != currency {
			return types.E(types.KindCurrencyMismatch, "add-on %s in %s, plan in %s", u.ID, u.Price.Currency, currency)
		}
		b.Charge(invoice.LineItemAddOn, e.addOnName(ctx, u.AddOnID), "", 1, u.Price)
	}
	return nil
}

func (e *Engine) addOnName(ctx context.Context, addOnID id.AddOnID) string {
	if e.addOns != nil {
		if def, err := e.addOns.GetAddOn(ctx, addOnID); err == nil {
			return def.Name
		}
	}
	return "Add-on " + addOnID.String()
}

// ChangePlanRequest moves a subscription to another plan mid-period.
type ChangePlanRequest struct {
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	PlanID         id.PlanID         `json:"plan_id"`
}

// ChangePlan switches an active subscription to another plan of the same
// currency and emits a proration invoice: the new plan's fee for the rest
// of the period less the unused part of the old fee. A net credit is not
// carried forward; the invoice total floors at zero.
func (e *Engine) ChangePlan(ctx context.Context, req ChangePlanRequest) (*invoice.Invoice, error) {
	params := struct {
		SubscriptionID string `json:"subscription_id"`
		PlanID         string `json:"plan_id"`
	}{req.SubscriptionID.String(), req.PlanID.String()}

	return process(ctx, e, "change_plan", e.accountOf(ctx, req.SubscriptionID), params, func(ctx context.Context) (*invoice.Invoice, error) {
		if req.SubscriptionID.IsNil() || req.PlanID.IsNil() {
			return nil, types.E(types.KindInvalidRequest, "subscription_id and plan_id are required")
		}
		return withLock(ctx, e, lock.SubscriptionKey(req.SubscriptionID.String()), func() (*invoice.Invoice, error) {
			return e.changePlan(ctx, req)
		})
	})
}

func (e *Engine) changePlan(ctx context.Context, req ChangePlanRequest) (*invoice.Invoice, error) {
	sub, err := e.GetSubscription(ctx, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != subscription.StatusActive {
		return nil, types.E(types.KindInvalidTransition, "change plan on %s subscription %s", sub.Status, sub.ID)
	}
	if sub.PlanID.String() == req.PlanID.String() {
		return nil, types.E(types.KindInvalidTransition, "subscription %s is already on plan %s", sub.ID, sub.PlanID)
	}
	from, err := e.getPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	to, err := e.getPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !to.Active {
		return nil, types.E(types.KindPlanInactive, "plan %s", to.ID)
	}
	if from.Currency() != to.Currency() {
		return nil, types.E(types.KindCurrencyMismatch, "plan %s in %s, subscription billed in %s", to.ID, to.Currency(), from.Currency())
	}

	now := e.now()
	end := sub.CurrentPeriodEnd
	if end.Before(now) {
		return nil, types.E(types.KindInvalidTransition, "subscription %s period ended %s; close it first", sub.ID, end.Format(time.RFC3339))
	}
	charge, err := pricing.Prorate(to.Price, now, end, to.Interval)
	if err != nil {
		return nil, err
	}
	unused, err := pricing.Prorate(from.Price, now, end, from.Interval)
	if err != nil {
		return nil, err
	}

	b := invoice.NewBuilder(sub.AccountID, sub.ID, to.Currency(), invoice.ReasonProration, now, end, now).
		ChargeAmount(invoice.LineItemProration, to.Name+" (remaining period)", "", 1, charge)
	if unused.IsPositive() {
		b.Credit(from.Name+" (unused time)", unused)
	}
	inv, err := b.Build(now)
	if err != nil {
		return nil, err
	}

	prevStatus := sub.Status
	next := sub.Clone()
	next.PlanID = to.ID
	next.Version++
	next.Touch(now)
	if err := e.exec.Write(ctx, "update_subscription", func(ctx context.Context, s store.Store) error {
		return s.UpdateSubscription(ctx, next)
	}); err != nil {
		return nil, err
	}
	e.plugins.EmitSubscriptionTransitioned(ctx, next, prevStatus)

	if err := e.writeInvoice(ctx, inv); err != nil {
		return nil, err
	}
	e.logger.Info("subscription plan changed",
		"subscription_id", sub.ID.String(),
		"from_plan", from.ID.String(),
		"to_plan", to.ID.String(),
		"total", inv.Total.String(),
	)
	return inv, nil
}

// GetSubscription reads a subscription.
func (e *Engine) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return failover.Read(ctx, e.exec, "get_subscription", func(ctx context.Context, s store.Store) (*subscription.Subscription, error) {
		return s.GetSubscription(ctx, subID)
	})
}

// GetLiveSubscription returns the account's non-canceled subscription.
func (e *Engine) GetLiveSubscription(ctx context.Context, accountID string) (*subscription.Subscription, error) {
	return failover.Read(ctx, e.exec, "get_live_subscription", func(ctx context.Context, s store.Store) (*subscription.Subscription, error) {
		return s.GetLiveSubscription(ctx, accountID)
	})
}

// ListSubscriptions lists subscriptions matching opts.
func (e *Engine) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	return failover.Read(ctx, e.exec, "list_subscriptions", func(ctx context.Context, s store.Store) ([]*subscription.Subscription, error) {
		return s.ListSubscriptions(ctx, opts)
	})
}

// accountOf resolves the owning account for the audit record. A failed
// lookup leaves it empty; the operation itself reports the error.
func (e *Engine) accountOf(ctx context.Context, subID id.SubscriptionID) string {
	if subID.IsNil() {
		return ""
	}
	sub, err := e.GetSubscription(ctx, subID)
	if err != nil {
		return ""
	}
	return sub.AccountID
}

// liveSubscription is GetLiveSubscription with "none" as a nil result.
func (e *Engine) liveSubscription(ctx context.Context, accountID string) (*subscription.Subscription, error) {
	sub, err := e.GetLiveSubscription(ctx, accountID)
	if types.KindOf(err) == types.KindSubscriptionNotFound {
		return nil, nil
	}
	return sub, err
}

// ──────────────────────────────────────────────────
// Invoices
// ──────────────────────────────────────────────────

// PayInvoice charges an open invoice. A decline moves the subscription to
// past_due and returns PaymentAuthorizationDenied; a successful charge
// marks the invoice paid and clears past_due.
func (e *Engine) PayInvoice(ctx context.Context, invID id.InvoiceID, paymentToken string) (*invoice.Invoice, error) {
	params := struct {
		InvoiceID string `json:"invoice_id"`
	}{invID.String()}

	return process(ctx, e, "pay_invoice", e.invoiceAccount(ctx, invID), params, func(ctx context.Context) (*invoice.Invoice, error) {
		inv, err := e.GetInvoice(ctx, invID)
		if err != nil {
			return nil, err
		}
		return withLock(ctx, e, invoiceLockKey(inv), func() (*invoice.Invoice, error) {
			return e.payInvoice(ctx, invID, paymentToken)
		})
	})
}

func (e *Engine) payInvoice(ctx context.Context, invID id.InvoiceID, paymentToken string) (*invoice.Invoice, error) {
	inv, err := e.GetInvoice(ctx, invID)
	if err != nil {
		return nil, err
	}
	if inv.Status.Final() {
		return nil, types.E(types.KindInvoiceFinalized, "invoice %s is %s", inv.ID, inv.Status)
	}

	paymentRef, err := e.charge(ctx, inv.AccountID, inv.Total, paymentToken)
	if err != nil {
		if types.KindOf(err) == types.KindPaymentAuthorizationDenied && !inv.SubscriptionID.IsNil() {
			if _, _, terr := e.transition(ctx, inv.SubscriptionID, subscription.EventPaymentFailed, nil); terr != nil {
				e.logger.Warn("could not mark subscription past due",
					"subscription_id", inv.SubscriptionID.String(),
					"error", terr,
				)
			}
		}
		return nil, err
	}

	now := e.now()
	if err := e.exec.Write(ctx, "mark_invoice_paid", func(ctx context.Context, s store.Store) error {
		return s.MarkInvoicePaid(ctx, inv.ID, now, paymentRef)
	}); err != nil {
		e.refund(ctx, paymentRef, inv.Total, err)
		return nil, err
	}
	markPaid(inv, now, paymentRef)
	e.plugins.EmitInvoicePaid(ctx, inv)

	if !inv.SubscriptionID.IsNil() {
		if _, _, err := e.transition(ctx, inv.SubscriptionID, subscription.EventPaymentSuccess, nil); err != nil && types.KindOf(err) != types.KindInvalidTransition {
			return nil, err
		}
	}
	return inv, nil
}

// VoidInvoice voids an open invoice.
func (e *Engine) VoidInvoice(ctx context.Context, invID id.InvoiceID, reason string) (*invoice.Invoice, error) {
	params := struct {
		InvoiceID string `json:"invoice_id"`
		Reason    string `json:"reason"`
	}{invID.String(), reason}

	return process(ctx, e, "void_invoice", e.invoiceAccount(ctx, invID), params, func(ctx context.Context) (*invoice.Invoice, error) {
		inv, err := e.GetInvoice(ctx, invID)
		if err != nil {
			return nil, err
		}
		return withLock(ctx, e, invoiceLockKey(inv), func() (*invoice.Invoice, error) {
			now := e.now()
			if err := e.exec.Write(ctx, "void_invoice", func(ctx context.Context, s store.Store) error {
				return s.MarkInvoiceVoided(ctx, invID, now, reason)
			}); err != nil {
				return nil, err
			}
			return e.GetInvoice(ctx, invID)
		})
	})
}

// invoiceLockKey serializes invoice changes with the transitions of the
// subscription they bill.
func invoiceLockKey(inv *invoice.Invoice) string {
	if inv.SubscriptionID.IsNil() {
		return lock.AccountKey(inv.AccountID)
	}
	return lock.SubscriptionKey(inv.SubscriptionID.String())
}

// GetInvoice reads an invoice.
func (e *Engine) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	return failover.Read(ctx, e.exec, "get_invoice", func(ctx context.Context, s store.Store) (*invoice.Invoice, error) {
		return s.GetInvoice(ctx, invID)
	})
}

// ListInvoices lists invoices matching opts.
func (e *Engine) ListInvoices(ctx context.Context, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	return failover.Read(ctx, e.exec, "list_invoices", func(ctx context.Context, s store.Store) ([]*invoice.Invoice, error) {
		return s.ListInvoices(ctx, opts)
	})
}

func (e *Engine) invoiceAccount(ctx context.Context, invID id.InvoiceID) string {
	inv, err := e.GetInvoice(ctx, invID)
	if err != nil {
		return ""
	}
	return inv.AccountID
}

func (e *Engine) writeInvoice(ctx context.Context, inv *invoice.Invoice) error {
	if err := e.exec.Write(ctx, "create_invoice", func(ctx context.Context, s store.Store) error {
		return s.CreateInvoice(ctx, inv)
	}); err != nil {
		return err
	}
	e.plugins.EmitInvoiceEmitted(ctx, inv)
	return nil
}

func markPaid(inv *invoice.Invoice, at time.Time, paymentRef string) {
	inv.Status = invoice.StatusPaid
	inv.PaidAt = &at
	if paymentRef != "" {
		inv.PaymentRef = paymentRef
	}
	inv.Touch(at)
}

// ──────────────────────────────────────────────────
// Add-ons
// ──────────────────────────────────────────────────

// PurchaseAddOnRequest buys an add-on for an account.
type PurchaseAddOnRequest struct {
	AccountID    string     `json:"account_id" validate:"required,max=255"`
	AddOnID      id.AddOnID `json:"addon_id"`
	PaymentToken string     `json:"payment_token,omitempty" validate:"max=255"`
}

// PurchaseAddOn charges the add-on price, records the purchase with the
// marketplace commission and emits a paid invoice for it.
func (e *Engine) PurchaseAddOn(ctx context.Context, req PurchaseAddOnRequest) (*addon.UserAddOn, error) {
	params := struct {
		AddOnID string `json:"addon_id"`
	}{req.AddOnID.String()}

	return process(ctx, e, "purchase_addon", req.AccountID, params, func(ctx context.Context) (*addon.UserAddOn, error) {
		if err := e.check(req); err != nil {
			return nil, err
		}
		if req.AddOnID.IsNil() {
			return nil, types.E(types.KindInvalidRequest, "addon_id is required")
		}
		return withLock(ctx, e, lock.AccountKey(req.AccountID), func() (*addon.UserAddOn, error) {
			return e.purchaseAddOn(ctx, req)
		})
	})
}

func (e *Engine) purchaseAddOn(ctx context.Context, req PurchaseAddOnRequest) (*addon.UserAddOn, error) {
	if e.addOns == nil {
		return nil, types.E(types.KindAddOnNotFound, "%s: no add-on catalog configured", req.AddOnID)
	}
	def, err := e.addOns.GetAddOn(ctx, req.AddOnID)
	if err != nil {
		return nil, err
	}
	if !def.Active {
		return nil, types.E(types.KindAddOnNotFound, "add-on %s is not available", def.ID)
	}
	if err := def.ValidatePrice(); err != nil {
		return nil, err
	}
	commission, err := pricing.Commission(def.Price, e.commissionRate)
	if err != nil {
		return nil, err
	}

	// The purchase is attached to the live subscription when there is one.
	var subID id.SubscriptionID
	live, err := e.liveSubscription(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if live != nil {
		subID = live.ID
	}

	paymentRef, err := e.charge(ctx, req.AccountID, def.Price, req.PaymentToken)
	if err != nil {
		return nil, err
	}

	now := e.now()
	u := &addon.UserAddOn{
		Entity:      types.NewEntity(now),
		ID:          id.NewUserAddOnID(),
		AccountID:   req.AccountID,
		AddOnID:     def.ID,
		Price:       def.Price,
		Commission:  commission,
		Recurring:   def.Recurring,
		PaymentRef:  paymentRef,
		Status:      addon.StatusActive,
		PurchasedAt: now,
	}

	periodEnd := now
	if def.Recurring {
		periodEnd = def.Interval.Next(now)
	}
	inv, err := invoice.NewBuilder(req.AccountID, subID, def.Price.Currency, invoice.ReasonAddOn, now, periodEnd, now).
		Charge(invoice.LineItemAddOn, def.Name, "", 1, def.Price).
		Build(now)
	if err != nil {
		e.refund(ctx, paymentRef, def.Price, err)
		return nil, err
	}
	markPaid(inv, now, paymentRef)

	if err := e.exec.Write(ctx, "create_user_addon", func(ctx context.Context, s store.Store) error {
		return s.CreateUserAddOn(ctx, u)
	}); err != nil {
		e.refund(ctx, paymentRef, def.Price, err)
		return nil, err
	}
	if err := e.writeInvoice(ctx, inv); err != nil {
		e.refund(ctx, paymentRef, def.Price, err)
		e.abandonAddOn(ctx, u, err)
		return nil, err
	}
	e.plugins.EmitInvoicePaid(ctx, inv)

	e.logger.Info("add-on purchased",
		"account_id", req.AccountID,
		"addon_id", def.ID.String(),
		"price", def.Price.String(),
		"commission", commission.String(),
	)
	return u, nil
}

// abandonAddOn cancels a purchase whose invoice could not be stored.
func (e *Engine) abandonAddOn(ctx context.Context, u *addon.UserAddOn, cause error) {
	canceled := *u
	canceled.Status = addon.StatusCanceled
	canceled.Touch(e.now())
	if err := e.exec.Write(context.WithoutCancel(ctx), "update_user_addon", func(ctx context.Context, s store.Store) error {
		return s.UpdateUserAddOn(ctx, &canceled)
	}); err != nil {
		e.logger.Error("could not cancel add-on purchase left without an invoice",
			"user_addon_id", u.ID.String(),
			"account_id", u.AccountID,
			"cause", cause,
			"error", err,
		)
	}
}

// ListAddOns lists an account's add-on purchases.
func (e *Engine) ListAddOns(ctx context.Context, accountID string) ([]*addon.UserAddOn, error) {
	return failover.Read(ctx, e.exec, "list_user_addons", func(ctx context.Context, s store.Store) ([]*addon.UserAddOn, error) {
		return s.ListUserAddOns(ctx, accountID)
	})
}
