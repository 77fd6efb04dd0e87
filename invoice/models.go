// Package invoice assembles and formats billing documents.
package invoice

import (
	"time"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

type Status string

const (
	StatusOpen Status = "open"
	StatusPaid Status = "paid"
	StatusVoid Status = "void"
)

// Final reports whether the invoice can no longer change.
func (s Status) Final() bool { return s == StatusPaid || s == StatusVoid }

// Reason records why an invoice was emitted.
type Reason string

const (
	ReasonInitial   Reason = "subscription_create"
	ReasonRenewal   Reason = "period_renewal"
	ReasonFinal     Reason = "final"
	ReasonProration Reason = "proration"
	ReasonAddOn     Reason = "addon_purchase"
)

type Invoice struct {
	types.Entity
	ID             id.InvoiceID      `json:"id"`
	AccountID      string            `json:"account_id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	Status         Status            `json:"status"`
	Reason         Reason            `json:"reason"`
	Currency       string            `json:"currency"`
	Subtotal       types.Money       `json:"subtotal"`
	Total          types.Money       `json:"total"`
	LineItems      []LineItem        `json:"line_items"`
	PeriodStart    time.Time         `json:"period_start"`
	PeriodEnd      time.Time         `json:"period_end"`
	PaidAt         *time.Time        `json:"paid_at,omitempty"`
	VoidedAt       *time.Time        `json:"voided_at,omitempty"`
	VoidReason     string            `json:"void_reason,omitempty"`
	PaymentRef     string            `json:"payment_ref,omitempty"`
}

type LineItem struct {
	ID           id.LineItemID `json:"id"`
	Description  string        `json:"description"`
	ResourceType string        `json:"resource_type,omitempty"`
	Quantity     int64         `json:"quantity"`
	UnitAmount   types.Money   `json:"unit_amount"`
	Amount       types.Money   `json:"amount"`
	Type         LineItemType  `json:"type"`
}

type LineItemType string

const (
	LineItemBase      LineItemType = "base"
	LineItemOverage   LineItemType = "overage"
	LineItemAddOn     LineItemType = "addon"
	LineItemProration LineItemType = "proration"
	LineItemCredit    LineItemType = "credit"
)
