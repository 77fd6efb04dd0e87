// Package memory is an in-process store.Store. It is the default for tests
// and for the secondary side of a failover pair in development.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/xraph/tally/addon"
	"github.com/xraph/tally/audit"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	plans         map[string]*plan.Plan
	subscriptions map[string]*subscription.Subscription
	usage         []*meter.UsageRecord
	invoices      map[string]*invoice.Invoice
	userAddOns    map[string]*addon.UserAddOn
	auditLog      []*audit.Record
}

func New() *Store {
	return &Store{
		plans:         make(map[string]*plan.Plan),
		subscriptions: make(map[string]*subscription.Subscription),
		usage:         make([]*meter.UsageRecord, 0),
		invoices:      make(map[string]*invoice.Invoice),
		userAddOns:    make(map[string]*addon.UserAddOn),
	}
}

// ──────────────────────────────────────────────────
// Plans
// ──────────────────────────────────────────────────

func (s *Store) CreatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; exists {
		return types.E(types.KindAlreadyExists, "plan %s", p.ID)
	}
	s.plans[p.ID.String()] = clonePlan(p)
	return nil
}

func (s *Store) GetPlan(_ context.Context, planID id.PlanID) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.plans[planID.String()]; ok {
		return clonePlan(p), nil
	}
	return nil, types.E(types.KindPlanNotFound, "%s", planID)
}

func (s *Store) ListPlans(_ context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		if opts.ActiveOnly && !p.Active {
			continue
		}
		if opts.Tier != "" && p.Tier != opts.Tier {
			continue
		}
		result = append(result, clonePlan(p))
	}
	sort.Slice(result, func(i, j int) bool {
		return byCreated(result[i].CreatedAt, result[j].CreatedAt, result[i].ID.String(), result[j].ID.String())
	})
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; !exists {
		return types.E(types.KindPlanNotFound, "%s", p.ID)
	}
	s.plans[p.ID.String()] = clonePlan(p)
	return nil
}

func (s *Store) DeletePlan(_ context.Context, planID id.PlanID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[planID.String()]; !exists {
		return types.E(types.KindPlanNotFound, "%s", planID)
	}
	delete(s.plans, planID.String())
	return nil
}

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

// CreateSubscription enforces one live subscription per account, the same
// rule the SQL backends hold with a partial unique index.
func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID.String()]; exists {
		return types.E(types.KindAlreadyExists, "subscription %s", sub.ID)
	}
	if sub.Status.Live() && s.liveLocked(sub.AccountID, sub.ID) != nil {
		return types.E(types.KindDuplicateActiveSubscription, "account %s", sub.AccountID)
	}
	s.subscriptions[sub.ID.String()] = sub.Clone()
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[subID.String()]; ok {
		return sub.Clone(), nil
	}
	return nil, types.E(types.KindSubscriptionNotFound, "%s", subID)
}

func (s *Store) GetLiveSubscription(_ context.Context, accountID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub := s.liveLocked(accountID, id.Nil); sub != nil {
		return sub.Clone(), nil
	}
	return nil, types.E(types.KindSubscriptionNotFound, "no live subscription for account %s", accountID)
}

func (s *Store) liveLocked(accountID string, except id.SubscriptionID) *subscription.Subscription {
	for _, sub := range s.subscriptions {
		if sub.AccountID == accountID && sub.Status.Live() && sub.ID.String() != except.String() {
			return sub
		}
	}
	return nil
}

func (s *Store) ListSubscriptions(_ context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		switch {
		case opts.AccountID != "" && sub.AccountID != opts.AccountID,
			!opts.PlanID.IsNil() && sub.PlanID.String() != opts.PlanID.String(),
			opts.Status != "" && sub.Status != opts.Status,
			!opts.UpdatedAfter.IsZero() && sub.UpdatedAt.Before(opts.UpdatedAfter),
			!opts.UpdatedBefore.IsZero() && !sub.UpdatedAt.Before(opts.UpdatedBefore):
			continue
		}
		result = append(result, sub.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return byCreated(result[i].CreatedAt, result[j].CreatedAt, result[i].ID.String(), result[j].ID.String())
	})
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID.String()]; !exists {
		return types.E(types.KindSubscriptionNotFound, "%s", sub.ID)
	}
	if sub.Status.Live() && s.liveLocked(sub.AccountID, sub.ID) != nil {
		return types.E(types.KindDuplicateActiveSubscription, "account %s", sub.AccountID)
	}
	s.subscriptions[sub.ID.String()] = sub.Clone()
	return nil
}

func (s *Store) CountSubscriptionsSince(_ context.Context, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, sub := range s.subscriptions {
		if !sub.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Usage
// ──────────────────────────────────────────────────

func (s *Store) AppendUsage(_ context.Context, rec *meter.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.usage = append(s.usage, &cp)
	return nil
}

func (s *Store) AppendUsageBatch(_ context.Context, recs []*meter.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range recs {
		cp := *rec
		s.usage = append(s.usage, &cp)
	}
	return nil
}

func (s *Store) SumUsage(_ context.Context, accountID, resourceType string, w meter.Window) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, rec := range s.usage {
		if rec.AccountID == accountID && rec.ResourceType == resourceType && w.Contains(rec.Timestamp) {
			total += rec.Quantity
		}
	}
	return total, nil
}

func (s *Store) SumUsageByResource(_ context.Context, accountID string, w meter.Window) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]int64)
	for _, rec := range s.usage {
		if rec.AccountID == accountID && w.Contains(rec.Timestamp) {
			totals[rec.ResourceType] += rec.Quantity
		}
	}
	return totals, nil
}

func (s *Store) QueryUsage(_ context.Context, accountID string, opts meter.QueryOpts) ([]*meter.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*meter.UsageRecord, 0)
	for _, rec := range s.usage {
		switch {
		case rec.AccountID != accountID,
			opts.ResourceType != "" && rec.ResourceType != opts.ResourceType,
			!opts.Start.IsZero() && rec.Timestamp.Before(opts.Start),
			!opts.End.IsZero() && !rec.Timestamp.Before(opts.End):
			continue
		}
		cp := *rec
		result = append(result, &cp)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) CountUsageSince(_ context.Context, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, rec := range s.usage {
		if !rec.RecordedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Invoices
// ──────────────────────────────────────────────────

func (s *Store) CreateInvoice(_ context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoices[inv.ID.String()]; exists {
		return types.E(types.KindAlreadyExists, "invoice %s", inv.ID)
	}
	s.invoices[inv.ID.String()] = cloneInvoice(inv)
	return nil
}

func (s *Store) GetInvoice(_ context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if inv, ok := s.invoices[invID.String()]; ok {
		return cloneInvoice(inv), nil
	}
	return nil, types.E(types.KindInvoiceNotFound, "%s", invID)
}

func (s *Store) ListInvoices(_ context.Context, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*invoice.Invoice, 0)
	for _, inv := range s.invoices {
		switch {
		case opts.AccountID != "" && inv.AccountID != opts.AccountID,
			!opts.SubscriptionID.IsNil() && inv.SubscriptionID.String() != opts.SubscriptionID.String(),
			opts.Status != "" && inv.Status != opts.Status:
			continue
		}
		result = append(result, cloneInvoice(inv))
	}
	sort.Slice(result, func(i, j int) bool {
		return byCreated(result[i].CreatedAt, result[j].CreatedAt, result[i].ID.String(), result[j].ID.String())
	})
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) MarkInvoicePaid(_ context.Context, invID id.InvoiceID, paidAt time.Time, paymentRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invID.String()]
	if !ok {
		return types.E(types.KindInvoiceNotFound, "%s", invID)
	}
	if inv.Status.Final() {
		return types.E(types.KindInvoiceFinalized, "invoice %s is %s", invID, inv.Status)
	}
	inv.Status = invoice.StatusPaid
	inv.PaidAt = &paidAt
	inv.PaymentRef = paymentRef
	inv.Touch(paidAt)
	return nil
}

func (s *Store) MarkInvoiceVoided(_ context.Context, invID id.InvoiceID, voidedAt time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invID.String()]
	if !ok {
		return types.E(types.KindInvoiceNotFound, "%s", invID)
	}
	if inv.Status.Final() {
		return types.E(types.KindInvoiceFinalized, "invoice %s is %s", invID, inv.Status)
	}
	inv.Status = invoice.StatusVoid
	inv.VoidedAt = &voidedAt
	inv.VoidReason = reason
	inv.Touch(voidedAt)
	return nil
}

func (s *Store) CountInvoicesSince(_ context.Context, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, inv := range s.invoices {
		if !inv.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Add-on purchases
// ──────────────────────────────────────────────────

func (s *Store) CreateUserAddOn(_ context.Context, u *addon.UserAddOn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.userAddOns[u.ID.String()]; exists {
		return types.E(types.KindAlreadyExists, "user add-on %s", u.ID)
	}
	s.userAddOns[u.ID.String()] = cloneUserAddOn(u)
	return nil
}

func (s *Store) UpdateUserAddOn(_ context.Context, u *addon.UserAddOn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.userAddOns[u.ID.String()]; !exists {
		return types.E(types.KindAddOnNotFound, "user add-on %s", u.ID)
	}
	s.userAddOns[u.ID.String()] = cloneUserAddOn(u)
	return nil
}

func (s *Store) ListUserAddOns(_ context.Context, accountID string) ([]*addon.UserAddOn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*addon.UserAddOn, 0)
	for _, u := range s.userAddOns {
		if u.AccountID == accountID {
			result = append(result, cloneUserAddOn(u))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return byCreated(result[i].PurchasedAt, result[j].PurchasedAt, result[i].ID.String(), result[j].ID.String())
	})
	return result, nil
}

func (s *Store) CountUserAddOnsSince(_ context.Context, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, u := range s.userAddOns {
		if !u.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Audit log
// ──────────────────────────────────────────────────

func (s *Store) AppendAudit(_ context.Context, rec *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.auditLog); n > 0 && s.auditLog[n-1].Sequence >= rec.Sequence {
		return types.E(types.KindAlreadyExists, "audit sequence %d", rec.Sequence)
	}
	s.auditLog = append(s.auditLog, rec.Clone())
	return nil
}

func (s *Store) LastAudit(_ context.Context) (*audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.auditLog) == 0 {
		return nil, nil
	}
	return s.auditLog[len(s.auditLog)-1].Clone(), nil
}

func (s *Store) ListAudit(_ context.Context, opts audit.ListOpts) ([]*audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*audit.Record, 0)
	for _, rec := range s.auditLog {
		switch {
		case opts.AccountID != "" && rec.AccountID != opts.AccountID,
			rec.Sequence <= opts.AfterSequence,
			!opts.Since.IsZero() && rec.Timestamp.Before(opts.Since):
			continue
		}
		result = append(result, rec.Clone())
	}
	return page(result, 0, opts.Limit), nil
}

func (s *Store) CountAuditSince(_ context.Context, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, rec := range s.auditLog {
		if !rec.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	return nil // Always available
}

func (s *Store) Close() error {
	return nil // Nothing to close
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func byCreated(a, b time.Time, aID, bID string) bool {
	if a.Equal(b) {
		return aID < bID
	}
	return a.Before(b)
}

func page[T any](items []T, offset, limit int) []T {
	start := min(max(offset, 0), len(items))
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return items[start:end]
}

func clonePlan(p *plan.Plan) *plan.Plan {
	c := *p
	c.Entitlements = maps.Clone(p.Entitlements)
	c.OverageRates = maps.Clone(p.OverageRates)
	return &c
}

func cloneInvoice(inv *invoice.Invoice) *invoice.Invoice {
	c := *inv
	c.LineItems = append([]invoice.LineItem(nil), inv.LineItems...)
	if inv.PaidAt != nil {
		t := *inv.PaidAt
		c.PaidAt = &t
	}
	if inv.VoidedAt != nil {
		t := *inv.VoidedAt
		c.VoidedAt = &t
	}
	return &c
}

func cloneUserAddOn(u *addon.UserAddOn) *addon.UserAddOn {
	c := *u
	if u.ExpiresAt != nil {
		t := *u.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}
