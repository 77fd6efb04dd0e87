// Package storetest provides a fault-injecting store.Store for tests of
// code that has to survive backend outages.
package storetest

import (
	"context"
	"errors"
	"fmt"
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
)

// ErrInjected is returned by every faulted call. It carries no error kind,
// so it classifies as an infrastructure failure.
var ErrInjected = errors.New("storetest: injected fault")

var _ store.Store = (*Faulty)(nil)

// Faulty wraps a store and fails calls on demand.
type Faulty struct {
	store.Store

	mu       sync.Mutex
	down     bool
	failNext int
	failOn   map[string]int
	calls    map[string]int
}

// Wrap returns a Faulty over s that initially passes every call through.
func Wrap(s store.Store) *Faulty {
	return &Faulty{Store: s, failOn: make(map[string]int), calls: make(map[string]int)}
}

// SetDown makes every call fail until cleared.
func (f *Faulty) SetDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

// FailNext makes the next n calls fail.
func (f *Faulty) FailNext(n int) {
	f.mu.Lock()
	f.failNext = n
	f.mu.Unlock()
}

// FailOn makes the next n calls to op fail, leaving other calls alone.
func (f *Faulty) FailOn(op string, n int) {
	f.mu.Lock()
	f.failOn[op] = n
	f.mu.Unlock()
}

// Calls reports how many times op was invoked, faulted or not.
func (f *Faulty) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Faulty) check(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.down {
		return fmt.Errorf("%s: %w", op, ErrInjected)
	}
	if f.failNext > 0 {
		f.failNext--
		return fmt.Errorf("%s: %w", op, ErrInjected)
	}
	if f.failOn[op] > 0 {
		f.failOn[op]--
		return fmt.Errorf("%s: %w", op, ErrInjected)
	}
	return nil
}

func (f *Faulty) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if err := f.check("CreatePlan"); err != nil {
		return err
	}
	return f.Store.CreatePlan(ctx, p)
}

func (f *Faulty) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	if err := f.check("GetPlan"); err != nil {
		return nil, err
	}
	return f.Store.GetPlan(ctx, planID)
}

func (f *Faulty) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	if err := f.check("ListPlans"); err != nil {
		return nil, err
	}
	return f.Store.ListPlans(ctx, opts)
}

func (f *Faulty) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	if err := f.check("UpdatePlan"); err != nil {
		return err
	}
	return f.Store.UpdatePlan(ctx, p)
}

func (f *Faulty) DeletePlan(ctx context.Context, planID id.PlanID) error {
	if err := f.check("DeletePlan"); err != nil {
		return err
	}
	return f.Store.DeletePlan(ctx, planID)
}

func (f *Faulty) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if err := f.check("CreateSubscription"); err != nil {
		return err
	}
	return f.Store.CreateSubscription(ctx, sub)
}

func (f *Faulty) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	if err := f.check("GetSubscription"); err != nil {
		return nil, err
	}
	return f.Store.GetSubscription(ctx, subID)
}

func (f *Faulty) GetLiveSubscription(ctx context.Context, accountID string) (*subscription.Subscription, error) {
	if err := f.check("GetLiveSubscription"); err != nil {
		return nil, err
	}
	return f.Store.GetLiveSubscription(ctx, accountID)
}

func (f *Faulty) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	if err := f.check("ListSubscriptions"); err != nil {
		return nil, err
	}
	return f.Store.ListSubscriptions(ctx, opts)
}

func (f *Faulty) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if err := f.check("UpdateSubscription"); err != nil {
		return err
	}
	return f.Store.UpdateSubscription(ctx, sub)
}

func (f *Faulty) CountSubscriptionsSince(ctx context.Context, since time.Time) (int64, error) {
	if err := f.check("CountSubscriptionsSince"); err != nil {
		return 0, err
	}
	return f.Store.CountSubscriptionsSince(ctx, since)
}

func (f *Faulty) AppendUsage(ctx context.Context, rec *meter.UsageRecord) error {
	if err := f.check("AppendUsage"); err != nil {
		return err
	}
	return f.Store.AppendUsage(ctx, rec)
}

func (f *Faulty) AppendUsageBatch(ctx context.Context, recs []*meter.UsageRecord) error {
	if err := f.check("AppendUsageBatch"); err != nil {
		return err
	}
	return f.Store.AppendUsageBatch(ctx, recs)
}

func (f *Faulty) SumUsage(ctx context.Context, accountID, resourceType string, w meter.Window) (int64, error) {
	if err := f.check("SumUsage"); err != nil {
		return 0, err
	}
	return f.Store.SumUsage(ctx, accountID, resourceType, w)
}

func (f *Faulty) SumUsageByResource(ctx context.Context, accountID string, w meter.Window) (map[string]int64, error) {
	if err := f.check("SumUsageByResource"); err != nil {
		return nil, err
	}
	return f.Store.SumUsageByResource(ctx, accountID, w)
}

func (f *Faulty) QueryUsage(ctx context.Context, accountID string, opts meter.QueryOpts) ([]*meter.UsageRecord, error) {
	if err := f.check("QueryUsage"); err != nil {
		return nil, err
	}
	return f.Store.QueryUsage(ctx, accountID, opts)
}

func (f *Faulty) CountUsageSince(ctx context.Context, since time.Time) (int64, error) {
	if err := f.check("CountUsageSince"); err != nil {
		return 0, err
	}
	return f.Store.CountUsageSince(ctx, since)
}

func (f *Faulty) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	if err := f.check("CreateInvoice"); err != nil {
		return err
	}
	return f.Store.CreateInvoice(ctx, inv)
}

func (f *Faulty) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	if err := f.check("GetInvoice"); err != nil {
		return nil, err
	}
	return f.Store.GetInvoice(ctx, invID)
}

func (f *Faulty) ListInvoices(ctx context.Context, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	if err := f.check("ListInvoices"); err != nil {
		return nil, err
	}
	return f.Store.ListInvoices(ctx, opts)
}

func (f *Faulty) MarkInvoicePaid(ctx context.Context, invID id.InvoiceID, paidAt time.Time, paymentRef string) error {
	if err := f.check("MarkInvoicePaid"); err != nil {
		return err
	}
	return f.Store.MarkInvoicePaid(ctx, invID, paidAt, paymentRef)
}

func (f *Faulty) MarkInvoiceVoided(ctx context.Context, invID id.InvoiceID, voidedAt time.Time, reason string) error {
	if err := f.check("MarkInvoiceVoided"); err != nil {
		return err
	}
	return f.Store.MarkInvoiceVoided(ctx, invID, voidedAt, reason)
}

func (f *Faulty) CountInvoicesSince(ctx context.Context, since time.Time) (int64, error) {
	if err := f.check("CountInvoicesSince"); err != nil {
		return 0, err
	}
	return f.Store.CountInvoicesSince(ctx, since)
}

func (f *Faulty) CreateUserAddOn(ctx context.Context, u *addon.UserAddOn) error {
	if err := f.check("CreateUserAddOn"); err != nil {
		return err
	}
	return f.Store.CreateUserAddOn(ctx, u)
}

func (f *Faulty) UpdateUserAddOn(ctx context.Context, u *addon.UserAddOn) error {
	if err := f.check("UpdateUserAddOn"); err != nil {
		return err
	}
	return f.Store.UpdateUserAddOn(ctx, u)
}

func (f *Faulty) ListUserAddOns(ctx context.Context, accountID string) ([]*addon.UserAddOn, error) {
	if err := f.check("ListUserAddOns"); err != nil {
		return nil, err
	}
	return f.Store.ListUserAddOns(ctx, accountID)
}

func (f *Faulty) CountUserAddOnsSince(ctx context.Context, since time.Time) (int64, error) {
	if err := f.check("CountUserAddOnsSince"); err != nil {
		return 0, err
	}
	return f.Store.CountUserAddOnsSince(ctx, since)
}

func (f *Faulty) AppendAudit(ctx context.Context, rec *audit.Record) error {
	if err := f.check("AppendAudit"); err != nil {
		return err
	}
	return f.Store.AppendAudit(ctx, rec)
}

func (f *Faulty) LastAudit(ctx context.Context) (*audit.Record, error) {
	if err := f.check("LastAudit"); err != nil {
		return nil, err
	}
	return f.Store.LastAudit(ctx)
}

func (f *Faulty) ListAudit(ctx context.Context, opts audit.ListOpts) ([]*audit.Record, error) {
	if err := f.check("ListAudit"); err != nil {
		return nil, err
	}
	return f.Store.ListAudit(ctx, opts)
}

func (f *Faulty) CountAuditSince(ctx context.Context, since time.Time) (int64, error) {
	if err := f.check("CountAuditSince"); err != nil {
		return 0, err
	}
	return f.Store.CountAuditSince(ctx, since)
}

func (f *Faulty) Ping(ctx context.Context) error {
	if err := f.check("Ping"); err != nil {
		return err
	}
	return f.Store.Ping(ctx)
}
