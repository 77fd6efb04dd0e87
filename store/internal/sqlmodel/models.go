// Package sqlmodel holds the grove row models shared by the postgres and
// sqlite backends. Structured columns are stored as JSON text so both
// dialects read them back byte-for-byte.
package sqlmodel

import (
	"encoding/json"
	"fmt"
	"time"

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

// Index names referenced when translating constraint violations.
const (
	LiveSubscriptionIndex = "idx_tally_subs_live"
	AuditSequenceIndex    = "idx_tally_audit_sequence"
)

// ==================== Plans ====================

type Plan struct {
	grove.BaseModel `grove:"table:tally_plans"`

	ID           string    `grove:"id,pk"`
	Name         string    `grove:"name"`
	Tier         string    `grove:"tier"`
	PriceAmount  int64     `grove:"price_amount"`
	Currency     string    `grove:"currency"`
	Interval     string    `grove:"interval"`
	Entitlements string    `grove:"entitlements"`
	OverageRates string    `grove:"overage_rates"`
	Active       bool      `grove:"active"`
	CreatedAt    time.Time `grove:"created_at"`
	UpdatedAt    time.Time `grove:"updated_at"`
}

func ToPlan(p *plan.Plan) (*Plan, error) {
	ents, err := json.Marshal(p.Entitlements)
	if err != nil {
		return nil, fmt.Errorf("encode entitlements: %w", err)
	}
	rates, err := json.Marshal(p.OverageRates)
	if err != nil {
		return nil, fmt.Errorf("encode overage rates: %w", err)
	}
	return &Plan{
		ID:           p.ID.String(),
		Name:         p.Name,
		Tier:         string(p.Tier),
		PriceAmount:  p.Price.Amount,
		Currency:     p.Price.Currency,
		Interval:     string(p.Interval),
		Entitlements: string(ents),
		OverageRates: string(rates),
		Active:       p.Active,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}, nil
}

func FromPlan(m *Plan) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}
	p := &plan.Plan{
		Entity:   types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:       planID,
		Name:     m.Name,
		Tier:     plan.Tier(m.Tier),
		Price:    types.Money{Amount: m.PriceAmount, Currency: m.Currency},
		Interval: plan.Interval(m.Interval),
		Active:   m.Active,
	}
	if err := decode(m.Entitlements, &p.Entitlements); err != nil {
		return nil, fmt.Errorf("plan %s entitlements: %w", m.ID, err)
	}
	if err := decode(m.OverageRates, &p.OverageRates); err != nil {
		return nil, fmt.Errorf("plan %s overage rates: %w", m.ID, err)
	}
	return p, nil
}

// ==================== Subscriptions ====================

type Subscription struct {
	grove.BaseModel `grove:"table:tally_subscriptions"`

	ID                 string     `grove:"id,pk"`
	AccountID          string     `grove:"account_id"`
	PlanID             string     `grove:"plan_id"`
	Status             string     `grove:"status"`
	CurrentPeriodStart time.Time  `grove:"current_period_start"`
	CurrentPeriodEnd   time.Time  `grove:"current_period_end"`
	CancelAtPeriodEnd  bool       `grove:"cancel_at_period_end"`
	CanceledAt         *time.Time `grove:"canceled_at"`
	PaymentRef         string     `grove:"payment_ref"`
	Version            int64      `grove:"version"`
	CreatedAt          time.Time  `grove:"created_at"`
	UpdatedAt          time.Time  `grove:"updated_at"`
}

func ToSubscription(s *subscription.Subscription) *Subscription {
	return &Subscription{
		ID:                 s.ID.String(),
		AccountID:          s.AccountID,
		PlanID:             s.PlanID.String(),
		Status:             string(s.Status),
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

func FromSubscription(m *Subscription) (*subscription.Subscription, error) {
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

// ==================== Usage ====================

type Usage struct {
	grove.BaseModel `grove:"table:tally_usage"`

	ID           string    `grove:"id,pk"`
	AccountID    string    `grove:"account_id"`
	ResourceType string    `grove:"resource_type"`
	Quantity     int64     `grove:"quantity"`
	Timestamp    time.Time `grove:"timestamp"`
	RecordedAt   time.Time `grove:"recorded_at"`
}

func ToUsage(r *meter.UsageRecord) *Usage {
	return &Usage{
		ID:           r.ID.String(),
		AccountID:    r.AccountID,
		ResourceType: r.ResourceType,
		Quantity:     r.Quantity,
		Timestamp:    r.Timestamp,
		RecordedAt:   r.RecordedAt,
	}
}

func FromUsage(m *Usage) (*meter.UsageRecord, error) {
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

// ==================== Invoices ====================

type Invoice struct {
	grove.BaseModel `grove:"table:tally_invoices"`

	ID             string     `grove:"id,pk"`
	AccountID      string     `grove:"account_id"`
	SubscriptionID string     `grove:"subscription_id"`
	Status         string     `grove:"status"`
	Reason         string     `grove:"reason"`
	Currency       string     `grove:"currency"`
	Subtotal       int64      `grove:"subtotal"`
	Total          int64      `grove:"total"`
	LineItems      string     `grove:"line_items"`
	PeriodStart    time.Time  `grove:"period_start"`
	PeriodEnd      time.Time  `grove:"period_end"`
	PaidAt         *time.Time `grove:"paid_at"`
	VoidedAt       *time.Time `grove:"voided_at"`
	VoidReason     string     `grove:"void_reason"`
	PaymentRef     string     `grove:"payment_ref"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
}

func ToInvoice(inv *invoice.Invoice) (*Invoice, error) {
	items, err := json.Marshal(inv.LineItems)
	if err != nil {
		return nil, fmt.Errorf("encode line items: %w", err)
	}
	return &Invoice{
		ID:             inv.ID.String(),
		AccountID:      inv.AccountID,
		SubscriptionID: inv.SubscriptionID.String(),
		Status:         string(inv.Status),
		Reason:         string(inv.Reason),
		Currency:       inv.Currency,
		Subtotal:       inv.Subtotal.Amount,
		Total:          inv.Total.Amount,
		LineItems:      string(items),
		PeriodStart:    inv.PeriodStart,
		PeriodEnd:      inv.PeriodEnd,
		PaidAt:         inv.PaidAt,
		VoidedAt:       inv.VoidedAt,
		VoidReason:     inv.VoidReason,
		PaymentRef:     inv.PaymentRef,
		CreatedAt:      inv.CreatedAt,
		UpdatedAt:      inv.UpdatedAt,
	}, nil
}

func FromInvoice(m *Invoice) (*invoice.Invoice, error) {
	invID, err := id.ParseInvoiceID(m.ID)
	if err != nil {
		return nil, err
	}
	inv := &invoice.Invoice{
		Entity:      types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          invID,
		AccountID:   m.AccountID,
		Status:      invoice.Status(m.Status),
		Reason:      invoice.Reason(m.Reason),
		Currency:    m.Currency,
		Subtotal:    types.Money{Amount: m.Subtotal, Currency: m.Currency},
		Total:       types.Money{Amount: m.Total, Currency: m.Currency},
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
	if err := decode(m.LineItems, &inv.LineItems); err != nil {
		return nil, fmt.Errorf("invoice %s line items: %w", m.ID, err)
	}
	return inv, nil
}

// ==================== Add-on purchases ====================

type UserAddOn struct {
	grove.BaseModel `grove:"table:tally_user_addons"`

	ID          string     `grove:"id,pk"`
	AccountID   string     `grove:"account_id"`
	AddOnID     string     `grove:"addon_id"`
	Price       int64      `grove:"price"`
	Commission  int64      `grove:"commission"`
	Currency    string     `grove:"currency"`
	Recurring   bool       `grove:"recurring"`
	PaymentRef  string     `grove:"payment_ref"`
	Status      string     `grove:"status"`
	PurchasedAt time.Time  `grove:"purchased_at"`
	ExpiresAt   *time.Time `grove:"expires_at"`
	CreatedAt   time.Time  `grove:"created_at"`
	UpdatedAt   time.Time  `grove:"updated_at"`
}

func ToUserAddOn(u *addon.UserAddOn) *UserAddOn {
	return &UserAddOn{
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

func FromUserAddOn(m *UserAddOn) (*addon.UserAddOn, error) {
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

// ==================== Audit ====================

type Audit struct {
	grove.BaseModel `grove:"table:tally_audit"`

	ID          string    `grove:"id,pk"`
	Sequence    int64     `grove:"sequence"`
	Operation   string    `grove:"operation"`
	AccountID   string    `grove:"account_id"`
	Params      string    `grove:"params"`
	Timestamp   time.Time `grove:"timestamp"`
	IntentHash  string    `grove:"intent_hash"`
	Status      string    `grove:"status"`
	Route       string    `grove:"route"`
	Result      string    `grove:"result"`
	ErrorKind   string    `grove:"error_kind"`
	Error       string    `grove:"error"`
	CompletedAt time.Time `grove:"completed_at"`
	PrevHash    string    `grove:"prev_hash"`
	Hash        string    `grove:"hash"`
}

func ToAudit(r *audit.Record) *Audit {
	return &Audit{
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

// FromAudit restores a record. Times come back in UTC so hashes recompute
// over the same text they were taken over.
func FromAudit(m *Audit) (*audit.Record, error) {
	auditID, err := id.ParseAuditID(m.ID)
	if err != nil {
		return nil, err
	}
	return &audit.Record{
		ID:          auditID,
		Sequence:    m.Sequence,
		Operation:   m.Operation,
		AccountID:   m.AccountID,
		Params:      rawOrNil(m.Params),
		Timestamp:   m.Timestamp.UTC(),
		IntentHash:  m.IntentHash,
		Status:      audit.Status(m.Status),
		Route:       m.Route,
		Result:      rawOrNil(m.Result),
		ErrorKind:   m.ErrorKind,
		Error:       m.Error,
		CompletedAt: utcOrZero(m.CompletedAt),
		PrevHash:    m.PrevHash,
		Hash:        m.Hash,
	}, nil
}

// ==================== Helpers ====================

func decode(s string, v any) error {
	if s == "" || s == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func rawOrNil(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

func utcOrZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}
