package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/grove"

	"github.com/xraph/tally/addon"
	"github.com/xraph/tally/audit"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
)

// ==================== Plan models ====================

type planModel struct {
	grove.BaseModel `grove:"table:tally_plans"`

	ID           string                   `grove:"id,pk"         bson:"_id"`
	Name         string                   `grove:"name"          bson:"name"`
	Tier         string                   `grove:"tier"          bson:"tier"`
	PriceAmount  int64                    `grove:"price_amount"  bson:"price_amount"`
	Currency     string                   `grove:"currency"      bson:"currency"`
	Interval     string                   `grove:"interval"      bson:"interval"`
	Entitlements map[string]quantityModel `grove:"entitlements"  bson:"entitlements"`
	OverageRates map[string]rateModel     `grove:"overage_rates" bson:"overage_rates,omitempty"`
	Active       bool                     `grove:"active"        bson:"active"`
	CreatedAt    time.Time                `grove:"created_at"    bson:"created_at"`
	UpdatedAt    time.Time                `grove:"updated_at"    bson:"updated_at"`
}

type quantityModel struct {
	Value     int64 `bson:"value"`
	Unlimited bool  `bson:"unlimited"`
}

type rateModel struct {
	Amount int64 `bson:"amount"`
	Per    int64 `bson:"per"`
}

func toPlanModel(p *plan.Plan) *planModel {
	ents := make(map[string]quantityModel, len(p.Entitlements))
	for k, q := range p.Entitlements {
		ents[k] = quantityModel{Value: q.Value, Unlimited: q.Unlimited}
	}
	rates := make(map[string]rateModel, len(p.OverageRates))
	for k, r := range p.OverageRates {
		rates[k] = rateModel{Amount: r.Price.Amount, Per: r.Per}
	}
	return &planModel{
		ID:           p.ID.String(),
		Name:         p.Name,
		Tier:         string(p.Tier),
		PriceAmount:  p.Price.Amount,
		Currency:     p.Price.Currency,
		Interval:     string(p.Interval),
		Entitlements: ents,
		OverageRates: rates,
		Active:       p.Active,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}
	ents := make(map[string]plan.Quantity, len(m.Entitlements))
	for k, q := range m.Entitlements {
		ents[k] = plan.Quantity{Value: q.Value, Unlimited: q.Unlimited}
	}
	var rates map[string]plan.Rate
	if len(m.OverageRates) > 0 {
		rates = make(map[string]plan.Rate, len(m.OverageRates))
		for k, r := range m.OverageRates {
			rates[k] = plan.Rate{Price: types.Money{Amount: r.Amount, Currency: m.Currency}, Per: r.Per}
		}
	}
	return &plan.Plan{
		Entity:       types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:           planID,
		Name:         m.Name,
		Tier:         plan.Tier(m.Tier),
		Price:        types.Money{Amount: m.PriceAmount, Currency: m.Currency},
		Interval:     plan.Interval(m.Interval),
		Entitlements: ents,
		OverageRates: rates,
		Active:       m.Active,
	}, nil
}

// ==================== Subscription models ====================

// subscriptionModel carries a derived live flag so a partial unique index
// can hold the one-live-subscription-per-account rule.
type subscriptionModel struct {
	grove.BaseModel `grove:"table:tally_subscriptions"`

	ID                 string     `grove:"id,pk"                bson:"_id"`
	AccountID          string     `grove:"account_id"           bson:"account_id"`
	PlanID             string     `grove:"plan_id"              bson:"plan_id"`
	Status             string     `grove:"status"               bson:"status"`
	Live               bool       `grove:"live"                 bson:"live"`
	CurrentPeriodStart time.Time  `grove:"current_period_start" bson:"current_period_start"`
	CurrentPeriodEnd   time.Time  `grove:"current_period_end"   bson:"current_period_end"`
	CancelAtPeriodEnd  bool       `grove:"cancel_at_period_end" bson:"cancel_at_period_end"`
	CanceledAt         *time.Time `grove:"canceled_at"          bson:"canceled_at,omitempty"`
	PaymentRef         string     `grove:"payment_ref"          bson:"payment_ref"`
	Version            int64      `grove:"version"              bson:"version"`
	CreatedAt          time.Time  `grove:"created_at"           bson:"created_at"`
	UpdatedAt          time.Time  `grove:"updated_at"           bson:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                 s.ID.String(),
		AccountID:          s.AccountID,
		PlanID:             s.PlanID.String(),
		Status:             string(s.Status),
		Live:               s.Status.Live(),
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CanceledAt:         s.CanceledAt,
		PaymentRef:         s.PaymentRef,
		Version:            s.Version,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	planID, err := id.ParsePlanID(m.PlanID)
	if err != nil {
		return nil, err
	}
	return &subscription.Subscription{
		Entity:             types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                 subID,
		AccountID:          m.AccountID,
		PlanID:             planID,
		Status:             subscription.Status(m.Status),
		CurrentPeriodStart: m.CurrentPeriodStart,
		CurrentPeriodEnd:   m.CurrentPeriodEnd,
		CancelAtPeriodEnd:  m.CancelAtPeriodEnd,
		CanceledAt:         m.CanceledAt,
		PaymentRef:         m.PaymentRef,
		Version:            m.Version,
	}, nil
}

// ==================== Usage models ====================

type usageModel struct {
	grove.BaseModel `grove:"table:tally_usage"`

	ID           string    `grove:"id,pk"         bson:"_id"`
	AccountID    string    `grove:"account_id"    bson:"account_id"`
	ResourceType string    `grove:"resource_type" bson:"resource_type"`
	Quantity     int64     `grove:"quantity"      bson:"quantity"`
	Timestamp    time.Time `grove:"timestamp"     bson:"timestamp"`
	RecordedAt   time.Time `grove:"recorded_at"   bson:"recorded_at"`
}

func toUsageModel(r *meter.UsageRecord) *usageModel {
	return &usageModel{
		ID:           r.ID.String(),
		AccountID:    r.AccountID,
		ResourceType: r.ResourceType,
		Quantity:     r.Quantity,
		Timestamp:    r.Timestamp,
		RecordedAt:   r.RecordedAt,
	}
}

func fromUsageModel(m *usageModel) (*meter.UsageRecord, error) {
	usageID, err := id.ParseUsageID(m.ID)
	if err != nil {
		return nil, err
	}
	return &meter.UsageRecord{
		ID:           usageID,
		AccountID:    m.AccountID,
		ResourceType: m.ResourceType,
		Quantity:     m.Quantity,
		Timestamp:    m.Timestamp,
		RecordedAt:   m.RecordedAt,
	}, nil
}

// ==================== Invoice models ====================

type invoiceModel struct {
	grove.BaseModel `grove:"table:tally_invoices"`

	ID             string          `grove:"id,pk"           bson:"_id"`
	AccountID      string          `grove:"account_id"      bson:"account_id"`
	SubscriptionID string          `grove:"subscription_id" bson:"subscription_id"`
	Status         string          `grove:"status"          bson:"status"`
	Reason         string          `grove:"reason"          bson:"reason"`
	Currency       string          `grove:"currency"        bson:"currency"`
	Subtotal       int64           `grove:"subtotal"        bson:"subtotal"`
	Total          int64           `grove:"total"           bson:"total"`
	LineItems      []lineItemModel `grove:"line_items"      bson:"line_items"`
	PeriodStart    time.Time       `grove:"period_start"    bson:"period_start"`
	PeriodEnd      time.Time       `grove:"period_end"      bson:"period_end"`
	PaidAt         *time.Time      `grove:"paid_at"         bson:"paid_at,omitempty"`
	VoidedAt       *time.Time      `grove:"voided_at"       bson:"voided_at,omitempty"`
	VoidReason     string          `grove:"void_reason"     bson:"void_reason"`
	PaymentRef     string          `grove:"payment_ref"     bson:"payment_ref"`
	CreatedAt      time.Time       `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time       `grove:"updated_at"      bson:"updated_at"`
}

type lineItemModel struct {
	ID           string `bson:"id"`
	Description  string `bson:"description"`
	ResourceType string `bson:"resource_type,omitempty"`
	Quantity     int64  `bson:"quantity"`
	UnitAmount   int64  `bson:"unit_amount"`
	Amount       int64  `bson:"amount"`
	Type         string `bson:"type"`
}

func toInvoiceModel(inv *invoice.Invoice) *invoiceModel {
	items := make([]lineItemModel, len(inv.LineItems))
	for i, li := range inv.LineItems {
		items[i] = lineItemModel{
			ID:           li.ID.String(),
			Description:  li.Description,
			ResourceType: li.ResourceType,
			Quantity:     li.Quantity,
			UnitAmount:   li.UnitAmount.Amount,
			Amount:       li.Amount.Amount,
			Type:         string(li.Type),
		}
	}
	return &invoiceModel{
		ID:             inv.ID.String(),
		AccountID:      inv.AccountID,
		SubscriptionID: inv.SubscriptionID.String(),
		Status:         string(inv.Status),
		Reason:         string(inv.Reason),
		Currency:       inv.Currency,
		Subtotal:       inv.Subtotal.Amount,
		Total:          inv.Total.Amount,
		LineItems:      items,
		PeriodStart:    inv.PeriodStart,
		PeriodEnd:      inv.PeriodEnd,
		PaidAt:         inv.PaidAt,
		VoidedAt:       inv.VoidedAt,
		VoidReason:     inv.VoidReason,
		PaymentRef:     inv.PaymentRef,
		CreatedAt:      inv.CreatedAt,
		UpdatedAt:      inv.UpdatedAt,
	}
}

func fromInvoiceModel(m *invoiceModel) (*invoice.Invoice, error) {
	invID, err := id.ParseInvoiceID(m.ID)
	if err != nil {
		return nil, err
	}
	money := func(amount int64) types.Money { return types.Money{Amount: amount, Currency: m.Currency} }

	items := make([]invoice.LineItem, len(m.LineItems))
	for i, li := range m.LineItems {
		liID, err := id.ParseLineItemID(li.ID)
		if err != nil {
			return nil, err
		}
		items[i] = invoice.LineItem{
			ID:           liID,
			Description:  li.Description,
			ResourceType: li.ResourceType,
			Quantity:     li.Quantity,
			UnitAmount:   money(li.UnitAmount),
			Amount:       money(li.Amount),
			Type:         invoice.LineItemType(li.Type),
		}
	}

	inv := &invoice.Invoice{
		Entity:      types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          invID,
		AccountID:   m.AccountID,
		Status:      invoice.Status(m.Status),
		Reason:      invoice.Reason(m.Reason),
		Currency:    m.Currency,
		Subtotal:    money(m.Subtotal),
		Total:       money(m.Total),
		LineItems:   items,
		PeriodStart: m.PeriodStart,
		PeriodEnd:   m.PeriodEnd,
		PaidAt:      m.PaidAt,
		VoidedAt:    m.VoidedAt,
		VoidReason:  m.VoidReason,
		PaymentRef:  m.PaymentRef,
	}
	if m.SubscriptionID != "" {
		if inv.SubscriptionID, err = id.ParseSubscriptionID(m.SubscriptionID); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

// ==================== Add-on purchase models ====================

type userAddOnModel struct {
	grove.BaseModel `grove:"table:tally_user_addons"`

	ID          string     `grove:"id,pk"        bson:"_id"`
	AccountID   string     `grove:"account_id"   bson:"account_id"`
	AddOnID     string     `grove:"addon_id"     bson:"addon_id"`
	Price       int64      `grove:"price"        bson:"price"`
	Commission  int64      `grove:"commission"   bson:"commission"`
	Currency    string     `grove:"currency"     bson:"currency"`
	Recurring   bool       `grove:"recurring"    bson:"recurring"`
	PaymentRef  string     `grove:"payment_ref"  bson:"payment_ref"`
	Status      string     `grove:"status"       bson:"status"`
	PurchasedAt time.Time  `grove:"purchased_at" bson:"purchased_at"`
	ExpiresAt   *time.Time `grove:"expires_at"   bson:"expires_at,omitempty"`
	CreatedAt   time.Time  `grove:"created_at"   bson:"created_at"`
	UpdatedAt   time.Time  `grove:"updated_at"   bson:"updated_at"`
}

func toUserAddOnModel(u *addon.UserAddOn) *userAddOnModel {
	return &userAddOnModel{
		ID:          u.ID.String(),
		AccountID:   u.AccountID,
		AddOnID:     u.AddOnID.String(),
		Price:       u.Price.Amount,
		Commission:  u.Commission.Amount,
		Currency:    u.Price.Currency,
		Recurring:   u.Recurring,
		PaymentRef:  u.PaymentRef,
		Status:      string(u.Status),
		PurchasedAt: u.PurchasedAt,
		ExpiresAt:   u.ExpiresAt,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func fromUserAddOnModel(m *userAddOnModel) (*addon.UserAddOn, error) {
	uid, err := id.ParseUserAddOnID(m.ID)
	if err != nil {
		return nil, err
	}
	aid, err := id.ParseAddOnID(m.AddOnID)
	if err != nil {
		return nil, err
	}
	return &addon.UserAddOn{
		Entity:      types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          uid,
		AccountID:   m.AccountID,
		AddOnID:     aid,
		Price:       types.Money{Amount: m.Price, Currency: m.Currency},
		Commission:  types.Money{Amount: m.Commission, Currency: m.Currency},
		Recurring:   m.Recurring,
		PaymentRef:  m.PaymentRef,
		Status:      addon.Status(m.Status),
		PurchasedAt: m.PurchasedAt,
		ExpiresAt:   m.ExpiresAt,
	}, nil
}

// ==================== Audit models ====================

// auditModel keeps params and result as canonical JSON strings; a BSON
// document would not preserve key order for rehashing.
type auditModel struct {
	grove.BaseModel `grove:"table:tally_audit"`

	ID          string    `grove:"id,pk"        bson:"_id"`
	Sequence    int64     `grove:"sequence"     bson:"sequence"`
	Operation   string    `grove:"operation"    bson:"operation"`
	AccountID   string    `grove:"account_id"   bson:"account_id"`
	Params      string    `grove:"params"       bson:"params"`
	Timestamp   time.Time `grove:"timestamp"    bson:"timestamp"`
	IntentHash  string    `grove:"intent_hash"  bson:"intent_hash"`
	Status      string    `grove:"status"       bson:"status"`
	Route       string    `grove:"route"        bson:"route"`
	Result      string    `grove:"result"       bson:"result"`
	ErrorKind   string    `grove:"error_kind"   bson:"error_kind"`
	Error       string    `grove:"error"        bson:"error"`
	CompletedAt time.Time `grove:"completed_at" bson:"completed_at"`
	PrevHash    string    `grove:"prev_hash"    bson:"prev_hash"`
	Hash        string    `grove:"hash"         bson:"hash"`
}

func toAuditModel(r *audit.Record) *auditModel {
	return &auditModel{
		ID:          r.ID.String(),
		Sequence:    r.Sequence,
		Operation:   r.Operation,
		AccountID:   r.AccountID,
		Params:      string(r.Params),
		Timestamp:   r.Timestamp,
		IntentHash:  r.IntentHash,
		Status:      string(r.Status),
		Route:       r.Route,
		Result:      string(r.Result),
		ErrorKind:   r.ErrorKind,
		Error:       r.Error,
		CompletedAt: r.CompletedAt,
		PrevHash:    r.PrevHash,
		Hash:        r.Hash,
	}
}

func fromAuditModel(m *auditModel) (*audit.Record, error) {
	auditID, err := id.ParseAuditID(m.ID)
	if err != nil {
		return nil, err
	}
	rec := &audit.Record{
		ID:          auditID,
		Sequence:    m.Sequence,
		Operation:   m.Operation,
		AccountID:   m.AccountID,
		Timestamp:   m.Timestamp.UTC(),
		IntentHash:  m.IntentHash,
		Status:      audit.Status(m.Status),
		Route:       m.Route,
		ErrorKind:   m.ErrorKind,
		Error:       m.Error,
		CompletedAt: m.CompletedAt.UTC(),
		PrevHash:    m.PrevHash,
		Hash:        m.Hash,
	}
	if m.Params != "" {
		rec.Params = []byte(m.Params)
	}
	if m.Result != "" {
		rec.Result = []byte(m.Result)
	}
	return rec, nil
}

// usageTotal is one $group row.
type usageTotal struct {
	ResourceType string `bson:"_id"`
	Total        int64  `bson:"total"`
}

func windowFilter(accountID string, start, end time.Time) bson.M {
	return bson.M{
		"account_id": accountID,
		"timestamp":  bson.M{"$gte": start, "$lt": end},
	}
}
