package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/tally/addon"
	"github.com/xraph/tally/audit"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/plan"
	tallystore "github.com/xraph/tally/store"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
)

// Collection name constants.
const (
	colPlans         = "tally_plans"
	colSubscriptions = "tally_subscriptions"
	colUsage         = "tally_usage"
	colInvoices      = "tally_invoices"
	colUserAddOns    = "tally_user_addons"
	colAudit         = "tally_audit"
)

// Index names checked when translating duplicate-key errors.
const (
	idxLiveSubscription = "idx_tally_subs_live"
	idxAuditSequence    = "idx_tally_audit_sequence"
)

// compile-time interface check
var _ tallystore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all tally collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("tally/mongo: migrate %s indexes: %w", col, err)
		}
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
	if _, err := s.mdb.NewInsert(toPlanModel(p)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return types.E(types.KindAlreadyExists, "plan %s", p.ID)
		}
		return fmt.Errorf("tally/mongo: create plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": planID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, types.E(types.KindPlanNotFound, "%s", planID)
		}
		return nil, fmt.Errorf("tally/mongo: get plan: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel

	filter := bson.M{}
	if opts.ActiveOnly {
		filter["active"] = true
	}
	if opts.Tier != "" {
		filter["tier"] = string(opts.Tier)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list plans: %w", err)
	}

	result := make([]*plan.Plan, len(models))
	for i := range models {
		p, err := fromPlanModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	m := toPlanModel(p)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: update plan: %w", err)
	}
	if res.MatchedCount() == 0 {
		return types.E(types.KindPlanNotFound, "%s", p.ID)
	}
	return nil
}

func (s *Store) DeletePlan(ctx context.Context, planID id.PlanID) error {
	res, err := s.mdb.NewDelete((*planModel)(nil)).
		Filter(bson.M{"_id": planID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: delete plan: %w", err)
	}
	if res.DeletedCount() == 0 {
		return types.E(types.KindPlanNotFound, "%s", planID)
	}
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if _, err := s.mdb.NewInsert(toSubscriptionModel(sub)).Exec(ctx); err != nil {
		return subscriptionWriteErr(err, sub, "create")
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": subID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, types.E(types.KindSubscriptionNotFound, "%s", subID)
		}
		return nil, fmt.Errorf("tally/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) GetLiveSubscription(ctx context.Context, accountID string) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"account_id": accountID, "live": true}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, types.E(types.KindSubscriptionNotFound, "no live subscription for account %s", accountID)
		}
		return nil, fmt.Errorf("tally/mongo: get live subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	filter := bson.M{}
	if opts.AccountID != "" {
		filter["account_id"] = opts.AccountID
	}
	if !opts.PlanID.IsNil() {
		filter["plan_id"] = opts.PlanID.String()
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	updated := bson.M{}
	if !opts.UpdatedAfter.IsZero() {
		updated["$gte"] = opts.UpdatedAfter
	}
	if !opts.UpdatedBefore.IsZero() {
		updated["$lt"] = opts.UpdatedBefore
	}
	if len(updated) > 0 {
		filter["updated_at"] = updated
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return subscriptionWriteErr(err, sub, "update")
	}
	if res.MatchedCount() == 0 {
		return types.E(types.KindSubscriptionNotFound, "%s", sub.ID)
	}
	return nil
}

func (s *Store) CountSubscriptionsSince(ctx context.Context, since time.Time) (int64, error) {
	return s.countSince(ctx, colSubscriptions, "created_at", since)
}

// ==================== Usage Store ====================

func (s *Store) AppendUsage(ctx context.Context, rec *meter.UsageRecord) error {
	if _, err := s.mdb.NewInsert(toUsageModel(rec)).Exec(ctx); err != nil {
		return fmt.Errorf("tally/mongo: append usage: %w", err)
	}
	return nil
}

func (s *Store) AppendUsageBatch(ctx context.Context, recs []*meter.UsageRecord) error {
	for _, rec := range recs {
		if err := s.AppendUsage(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SumUsage(ctx context.Context, accountID, resourceType string, w meter.Window) (int64, error) {
	match := windowFilter(accountID, w.Start, w.End)
	match["resource_type"] = resourceType

	totals, err := s.sumBy(ctx, match)
	if err != nil {
		return 0, err
	}
	return totals[resourceType], nil
}

func (s *Store) SumUsageByResource(ctx context.Context, accountID string, w meter.Window) (map[string]int64, error) {
	return s.sumBy(ctx, windowFilter(accountID, w.Start, w.End))
}

func (s *Store) sumBy(ctx context.Context, match bson.M) (map[string]int64, error) {
	pipeline := bson.A{
		bson.M{"$match": match},
		bson.M{"$group": bson.M{
			"_id":   "$resource_type",
			"total": bson.M{"$sum": "$quantity"},
		}},
	}

	cursor, err := s.mdb.Collection(colUsage).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("tally/mongo: aggregate usage: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []usageTotal
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("tally/mongo: aggregate decode: %w", err)
	}
	totals := make(map[string]int64, len(rows))
	for _, r := range rows {
		totals[r.ResourceType] = r.Total
	}
	return totals, nil
}

func (s *Store) QueryUsage(ctx context.Context, accountID string, opts meter.QueryOpts) ([]*meter.UsageRecord, error) {
	var models []usageModel

	filter := bson.M{"account_id": accountID}
	if opts.ResourceType != "" {
		filter["resource_type"] = opts.ResourceType
	}
	ts := bson.M{}
	if !opts.Start.IsZero() {
		ts["$gte"] = opts.Start
	}
	if !opts.End.IsZero() {
		ts["$lt"] = opts.End
	}
	if len(ts) > 0 {
		filter["timestamp"] = ts
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "timestamp", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: query usage: %w", err)
	}

	result := make([]*meter.UsageRecord, len(models))
	for i := range models {
		rec, err := fromUsageModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = rec
	}
	return result, nil
}

func (s *Store) CountUsageSince(ctx context.Context, since time.Time) (int64, error) {
	return s.countSince(ctx, colUsage, "recorded_at", since)
}

// ==================== Invoice Store ====================

func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	if _, err := s.mdb.NewInsert(toInvoiceModel(inv)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return types.E(types.KindAlreadyExists, "invoice %s", inv.ID)
		}
		return fmt.Errorf("tally/mongo: create invoice: %w", err)
	}
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	var m invoiceModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": invID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, types.E(types.KindInvoiceNotFound, "%s", invID)
		}
		return nil, fmt.Errorf("tally/mongo: get invoice: %w", err)
	}
	return fromInvoiceModel(&m)
}

func (s *Store) ListInvoices(ctx context.Context, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	var models []invoiceModel

	filter := bson.M{}
	if opts.AccountID != "" {
		filter["account_id"] = opts.AccountID
	}
	if !opts.SubscriptionID.IsNil() {
		filter["subscription_id"] = opts.SubscriptionID.String()
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list invoices: %w", err)
	}

	result := make([]*invoice.Invoice, len(models))
	for i := range models {
		inv, err := fromInvoiceModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = inv
	}
	return result, nil
}

func (s *Store) MarkInvoicePaid(ctx context.Context, invID id.InvoiceID, paidAt time.Time, paymentRef string) error {
	res, err := s.mdb.NewUpdate((*invoiceModel)(nil)).
		Filter(bson.M{"_id": invID.String(), "status": string(invoice.StatusOpen)}).
		Set("status", string(invoice.StatusPaid)).
		Set("paid_at", paidAt).
		Set("payment_ref", paymentRef).
		Set("updated_at", paidAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: mark invoice paid: %w", err)
	}
	if res.MatchedCount() == 0 {
		return s.settled(ctx, invID)
	}
	return nil
}

func (s *Store) MarkInvoiceVoided(ctx context.Context, invID id.InvoiceID, voidedAt time.Time, reason string) error {
	res, err := s.mdb.NewUpdate((*invoiceModel)(nil)).
		Filter(bson.M{"_id": invID.String(), "status": string(invoice.StatusOpen)}).
		Set("status", string(invoice.StatusVoid)).
		Set("voided_at", voidedAt).
		Set("void_reason", reason).
		Set("updated_at", voidedAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: mark invoice voided: %w", err)
	}
	if res.MatchedCount() == 0 {
		return s.settled(ctx, invID)
	}
	return nil
}

// settled explains a conditional update that matched nothing.
func (s *Store) settled(ctx context.Context, invID id.InvoiceID) error {
	inv, err := s.GetInvoice(ctx, invID)
	if err != nil {
		return err
	}
	return types.E(types.KindInvoiceFinalized, "invoice %s is %s", invID, inv.Status)
}

func (s *Store) CountInvoicesSince(ctx context.Context, since time.Time) (int64, error) {
	return s.countSince(ctx, colInvoices, "created_at", since)
}

// ==================== Add-on Store ====================

func (s *Store) CreateUserAddOn(ctx context.Context, u *addon.UserAddOn) error {
	if _, err := s.mdb.NewInsert(toUserAddOnModel(u)).Exec(ctx); err != nil {
		return fmt.Errorf("tally/mongo: create user add-on: %w", err)
	}
	return nil
}

func (s *Store) UpdateUserAddOn(ctx context.Context, u *addon.UserAddOn) error {
	m := toUserAddOnModel(u)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: update user add-on: %w", err)
	}
	if res.MatchedCount() == 0 {
		return types.E(types.KindAddOnNotFound, "user add-on %s", u.ID)
	}
	return nil
}

func (s *Store) ListUserAddOns(ctx context.Context, accountID string) ([]*addon.UserAddOn, error) {
	var models []userAddOnModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"account_id": accountID}).
		Sort(bson.D{{Key: "purchased_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tally/mongo: list user add-ons: %w", err)
	}
	result := make([]*addon.UserAddOn, len(models))
	for i := range models {
		u, err := fromUserAddOnModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = u
	}
	return result, nil
}

func (s *Store) CountUserAddOnsSince(ctx context.Context, since time.Time) (int64, error) {
	return s.countSince(ctx, colUserAddOns, "created_at", since)
}

// ==================== Audit Store ====================

func (s *Store) AppendAudit(ctx context.Context, rec *audit.Record) error {
	if _, err := s.mdb.NewInsert(toAuditModel(rec)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), idxAuditSequence) {
			return types.E(types.KindAlreadyExists, "audit sequence %d", rec.Sequence)
		}
		return fmt.Errorf("tally/mongo: append audit: %w", err)
	}
	return nil
}

func (s *Store) LastAudit(ctx context.Context) (*audit.Record, error) {
	var m auditModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "sequence", Value: -1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tally/mongo: last audit: %w", err)
	}
	return fromAuditModel(&m)
}

func (s *Store) ListAudit(ctx context.Context, opts audit.ListOpts) ([]*audit.Record, error) {
	var models []auditModel

	filter := bson.M{"sequence": bson.M{"$gt": opts.AfterSequence}}
	if opts.AccountID != "" {
		filter["account_id"] = opts.AccountID
	}
	if !opts.Since.IsZero() {
		filter["timestamp"] = bson.M{"$gte": opts.Since}
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "sequence", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list audit: %w", err)
	}

	result := make([]*audit.Record, len(models))
	for i := range models {
		rec, err := fromAuditModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = rec
	}
	return result, nil
}

func (s *Store) CountAuditSince(ctx context.Context, since time.Time) (int64, error) {
	return s.countSince(ctx, colAudit, "timestamp", since)
}

// ==================== Helpers ====================

func (s *Store) countSince(ctx context.Context, col, field string, since time.Time) (int64, error) {
	n, err := s.mdb.Collection(col).CountDocuments(ctx, bson.M{field: bson.M{"$gte": since}})
	if err != nil {
		return 0, fmt.Errorf("tally/mongo: count %s: %w", col, err)
	}
	return n, nil
}

func subscriptionWriteErr(err error, sub *subscription.Subscription, op string) error {
	if mongo.IsDuplicateKeyError(err) {
		if strings.Contains(err.Error(), idxLiveSubscription) {
			return types.E(types.KindDuplicateActiveSubscription, "account %s", sub.AccountID)
		}
		return types.E(types.KindAlreadyExists, "subscription %s", sub.ID)
	}
	return fmt.Errorf("tally/mongo: %s subscription: %w", op, err)
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all tally collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colPlans: {
			{Keys: bson.D{{Key: "tier", Value: 1}, {Key: "active", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
		colSubscriptions: {
			{
				Keys: bson.D{{Key: "account_id", Value: 1}},
				Options: options.Index().
					SetName(idxLiveSubscription).
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"live": true}),
			},
			{Keys: bson.D{{Key: "plan_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "updated_at", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
		colUsage: {
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "resource_type", Value: 1}, {Key: "timestamp", Value: 1}}},
			{Keys: bson.D{{Key: "recorded_at", Value: 1}}},
		},
		colInvoices: {
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "subscription_id", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		colUserAddOns: {
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "purchased_at", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
		colAudit: {
			{
				Keys:    bson.D{{Key: "sequence", Value: 1}},
				Options: options.Index().SetName(idxAuditSequence).SetUnique(true),
			},
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "sequence", Value: 1}}},
			{Keys: bson.D{{Key: "timestamp", Value: 1}}},
		},
	}
}
