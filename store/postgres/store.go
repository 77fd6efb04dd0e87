package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/tally/addon"
	"github.com/xraph/tally/audit"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/plan"
	tallystore "github.com/xraph/tally/store"
	"github.com/xraph/tally/store/internal/sqlmodel"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
)

// compile-time interface check
var _ tallystore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("tally/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("tally/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	m, err := sqlmodel.ToPlan(p)
	if err != nil {
		return err
	}
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		if isUniqueViolation(err, "tally_plans_pkey") {
			return types.E(types.KindAlreadyExists, "plan %s", p.ID)
		}
		return err
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	m := new(sqlmodel.Plan)
	err := s.pg.NewSelect(m).
		Where("id = $1", planID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, types.E(types.KindPlanNotFound, "%s", planID)
		}
		return nil, err
	}
	return sqlmodel.FromPlan(m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []sqlmodel.Plan
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.ActiveOnly {
		argIdx++
		q = q.Where(fmt.Sprintf("active = $%d", argIdx), true)
	}
	if opts.Tier != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("tier = $%d", argIdx), string(opts.Tier))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*plan.Plan, len(models))
	for i := range models {
		p, err := sqlmodel.FromPlan(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	m, err := sqlmodel.ToPlan(p)
	if err != nil {
		return err
	}
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, types.E(types.KindPlanNotFound, "%s", p.ID))
}

func (s *Store) DeletePlan(ctx context.Context, planID id.PlanID) error {
	res, err := s.pg.NewDelete((*sqlmodel.Plan)(nil)).
		Where("id = $1", planID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, types.E(types.KindPlanNotFound, "%s", planID))
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.pg.NewInsert(sqlmodel.ToSubscription(sub)).Exec(ctx)
	return subscriptionWriteErr(err, sub)
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(sqlmodel.Subscription)
	err := s.pg.NewSelect(m).
		Where("id = $1", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, types.E(types.KindSubscriptionNotFound, "%s", subID)
		}
		return nil, err
	}
	return sqlmodel.FromSubscription(m)
}

func (s *Store) GetLiveSubscription(ctx context.Context, accountID string) (*subscription.Subscription, error) {
	m := new(sqlmodel.Subscription)
	err := s.pg.NewSelect(m).
		Where("account_id = $1", accountID).
		Where("status IN ($2, $3, $4)",
			string(subscription.StatusActive),
			string(subscription.StatusCanceling),
			string(subscription.StatusPastDue)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, types.E(types.KindSubscriptionNotFound, "no live subscription for account %s", accountID)
		}
		return nil, err
	}
	return sqlmodel.FromSubscription(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []sqlmodel.Subscription
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.AccountID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("account_id = $%d", argIdx), opts.AccountID)
	}
	if !opts.PlanID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("plan_id = $%d", argIdx), opts.PlanID.String())
	}
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if !opts.UpdatedAfter.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("updated_at >= $%d", argIdx), opts.UpdatedAfter)
	}
	if !opts.UpdatedBefore.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("updated_at < $%d", argIdx), opts.UpdatedBefore)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := sqlmodel.FromSubscription(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	res, err := s.pg.NewUpdate(sqlmodel.ToSubscription(sub)).WherePK().Exec(ctx)
	if err != nil {
		return subscriptionWriteErr(err, sub)
	}
	return expectRow(res, types.E(types.KindSubscriptionNotFound, "%s", sub.ID))
}

func (s *Store) CountSubscriptionsSince(ctx context.Context, since time.Time) (int64, error) {
	return s.countSince(ctx, "tally_subscriptions", "created_at", since)
}

// ==================== Usage Store ====================

func (s *Store) AppendUsage(ctx context.Context, rec *meter.UsageRecord) error {
	_, err := s.pg.NewInsert(sqlmodel.ToUsage(rec)).Exec(ctx)
	return err
}

func (s *Store) AppendUsageBatch(ctx context.Context, recs []*meter.UsageRecord) error {
	if len(recs) == 0 {
		return nil
	}
	models := make([]sqlmodel.Usage, len(recs))
	for i, r := range recs {
		models[i] = *sqlmodel.ToUsage(r)
	}
	_, err := s.pg.NewInsert(&models).Exec(ctx)
	return err
}

func (s *Store) SumUsage(ctx context.Context, accountID, resourceType string, w meter.Window) (int64, error) {
	var total int64
	err := s.pg.NewRaw(`
		SELECT COALESCE(SUM(quantity), 0) FROM tally_usage
		WHERE account_id = $1 AND resource_type = $2 AND timestamp >= $3 AND timestamp < $4
	`, accountID, resourceType, w.Start, w.End).Scan(ctx, &total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) SumUsageByResource(ctx context.Context, accountID string, w meter.Window) (map[string]int64, error) {
	var models []sqlmodel.Usage
	err := s.pg.NewSelect(&models).
		Where("account_id = $1", accountID).
		Where("timestamp >= $2", w.Start).
		Where("timestamp < $3", w.End).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	totals := make(map[string]int64)
	for i := range models {
		totals[models[i].ResourceType] += models[i].Quantity
	}
	return totals, nil
}

func (s *Store) QueryUsage(ctx context.Context, accountID string, opts meter.QueryOpts) ([]*meter.UsageRecord, error) {
	var models []sqlmodel.Usage
	q := s.pg.NewSelect(&models).Where("account_id = $1", accountID)

	argIdx := 1
	if opts.ResourceType != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("resource_type = $%d", argIdx), opts.ResourceType)
	}
	if !opts.Start.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("timestamp >= $%d", argIdx), opts.Start)
	}
	if !opts.End.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("timestamp < $%d", argIdx), opts.End)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("timestamp ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*meter.UsageRecord, len(models))
	for i := range models {
		rec, err := sqlmodel.FromUsage(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = rec
	}
	return result, nil
}

func (s *Store) CountUsageSince(ctx context.Context, since time.Time) (int64, error) {
	return s.countSince(ctx, "tally_usage", "recorded_at", since)
}

// ==================== Invoice Store ====================

func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	m, err := sqlmodel.ToInvoice(inv)
	if err != nil {
		return err
	}
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		if isUniqueViolation(err, "tally_invoices_pkey") {
			return types.E(types.KindAlreadyExists, "invoice %s", inv.ID)
		}
		return err
	}
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	m := new(sqlmodel.Invoice)
	err := s.pg.NewSelect(m).
		Where("id = $1", invID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, types.E(types.KindInvoiceNotFound, "%s", invID)
		}
		return nil, err
	}
	return sqlmodel.FromInvoice(m)
}

func (s *Store) ListInvoices(ctx context.Context, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	var models []sqlmodel.Invoice
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.AccountID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("account_id = $%d", argIdx), opts.AccountID)
	}
	if !opts.SubscriptionID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("subscription_id = $%d", argIdx), opts.SubscriptionID.String())
	}
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*invoice.Invoice, len(models))
	for i := range models {
		inv, err := sqlmodel.FromInvoice(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = inv
	}
	return result, nil
}

// MarkInvoicePaid only moves an open invoice.
func (s *Store) MarkInvoicePaid(ctx context.Context, invID id.InvoiceID, paidAt time.Time, paymentRef string) error {
	res, err := s.pg.NewUpdate((*sqlmodel.Invoice)(nil)).
		Set("status = $1", string(invoice.StatusPaid)).
		Set("paid_at = $2", paidAt).
		Set("payment_ref = $3", paymentRef).
		Set("updated_at = $4", paidAt).
		Where("id = $5", invID.String()).
		Where("status = $6", string(invoice.StatusOpen)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return s.settled(ctx, res, invID)
}

func (s *Store) MarkInvoiceVoided(ctx context.Context, invID id.InvoiceID, voidedAt time.Time, reason string) error {
	res, err := s.pg.NewUpdate((*sqlmodel.Invoice)(nil)).
		Set("status = $1", string(invoice.StatusVoid)).
		Set("voided_at = $2", voidedAt).
		Set("void_reason = $3", reason).
		Set("updated_at = $4", voidedAt).
		Where("id = $5", invID.String()).
		Where("status = $6", string(invoice.StatusOpen)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return s.settled(ctx, res, invID)
}

// settled explains a conditional update that touched nothing.
func (s *Store) settled(ctx context.Context, res result, invID id.InvoiceID) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}
	inv, err := s.GetInvoice(ctx, invID)
	if err != nil {
		return err
	}
	return types.E(types.KindInvoiceFinalized, "invoice %s is %s", invID, inv.Status)
}

func (s *Store) CountInvoicesSince(ctx context.Context, since time.Time) (int64, error) {
	return s.countSince(ctx, "tally_invoices", "created_at", since)
}

// ==================== Add-on Store ====================

func (s *Store) CreateUserAddOn(ctx context.Context, u *addon.UserAddOn) error {
	_, err := s.pg.NewInsert(sqlmodel.ToUserAddOn(u)).Exec(ctx)
	return err
}

func (s *Store) UpdateUserAddOn(ctx context.Context, u *addon.UserAddOn) error {
	res, err := s.pg.NewUpdate(sqlmodel.ToUserAddOn(u)).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return expectRow(res, types.E(types.KindAddOnNotFound, "user add-on %s", u.ID))
}

func (s *Store) ListUserAddOns(ctx context.Context, accountID string) ([]*addon.UserAddOn, error) {
	var models []sqlmodel.UserAddOn
	err := s.pg.NewSelect(&models).
		Where("account_id = $1", accountID).
		OrderExpr("purchased_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]*addon.UserAddOn, len(models))
	for i := range models {
		u, err := sqlmodel.FromUserAddOn(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = u
	}
	return result, nil
}

func (s *Store) CountUserAddOnsSince(ctx context.Context, since time.Time) (int64, error) {
	return s.countSince(ctx, "tally_user_addons", "created_at", since)
}

// ==================== Audit Store ====================

func (s *Store) AppendAudit(ctx context.Context, rec *audit.Record) error {
	if _, err := s.pg.NewInsert(sqlmodel.ToAudit(rec)).Exec(ctx); err != nil {
		if isUniqueViolation(err, sqlmodel.AuditSequenceIndex) {
			return types.E(types.KindAlreadyExists, "audit sequence %d", rec.Sequence)
		}
		return err
	}
	return nil
}

func (s *Store) LastAudit(ctx context.Context) (*audit.Record, error) {
	m := new(sqlmodel.Audit)
	err := s.pg.NewSelect(m).
		OrderExpr("sequence DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return sqlmodel.FromAudit(m)
}

func (s *Store) ListAudit(ctx context.Context, opts audit.ListOpts) ([]*audit.Record, error) {
	var models []sqlmodel.Audit
	q := s.pg.NewSelect(&models).Where("sequence > $1", opts.AfterSequence)

	argIdx := 1
	if opts.AccountID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("account_id = $%d", argIdx), opts.AccountID)
	}
	if !opts.Since.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("timestamp >= $%d", argIdx), opts.Since)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	q = q.OrderExpr("sequence ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*audit.Record, len(models))
	for i := range models {
		rec, err := sqlmodel.FromAudit(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = rec
	}
	return result, nil
}

func (s *Store) CountAuditSince(ctx context.Context, since time.Time) (int64, error) {
	return s.countSince(ctx, "tally_audit", "timestamp", since)
}

// ==================== Helpers ====================

type result interface {
	RowsAffected() (int64, error)
}

// countSince backs the consistency check. table and column are constants.
func (s *Store) countSince(ctx context.Context, table, column string, since time.Time) (int64, error) {
	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s >= $1`, table, column)
	if err := s.pg.NewRaw(query, since).Scan(ctx, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func expectRow(res result, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

func subscriptionWriteErr(err error, sub *subscription.Subscription) error {
	if err == nil {
		return nil
	}
	switch {
	case isUniqueViolation(err, sqlmodel.LiveSubscriptionIndex):
		return types.E(types.KindDuplicateActiveSubscription, "account %s", sub.AccountID)
	case isUniqueViolation(err, "tally_subscriptions_pkey"):
		return types.E(types.KindAlreadyExists, "subscription %s", sub.ID)
	}
	return err
}

// isUniqueViolation matches PostgreSQL's 23505 message for a named constraint.
func isUniqueViolation(err error, constraint string) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") && strings.Contains(msg, constraint)
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
