package invoice

import (
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

// Builder accumulates line items for one invoice.
type Builder struct {
	inv *Invoice
	err error
}

// NewBuilder starts an open invoice.
func NewBuilder(accountID string, subID id.SubscriptionID, currency string, reason Reason, periodStart, periodEnd, now time.Time) *Builder {
	return &Builder{inv: &Invoice{
		Entity:         types.NewEntity(now),
		ID:             id.NewInvoiceID(),
		AccountID:      accountID,
		SubscriptionID: subID,
		Status:         StatusOpen,
		Reason:         reason,
		Currency:       currency,
		Subtotal:       types.Zero(currency),
		Total:          types.Zero(currency),
		LineItems:      []LineItem{},
		PeriodStart:    periodStart.UTC(),
		PeriodEnd:      periodEnd.UTC(),
	}}
}

// Charge adds quantity units at unit price. Negative prices or quantities
// are rejected; use Credit for reductions.
func (b *Builder) Charge(typ LineItemType, description, resource string, quantity int64, unit types.Money) *Builder {
	if b.err != nil {
		return b
	}
	if quantity < 0 || unit.Amount < 0 {
		b.err = types.E(types.KindInvalidLineItem, "%s: negative quantity or price", description)
		return b
	}
	return b.add(LineItem{
		Description:  description,
		ResourceType: resource,
		Quantity:     quantity,
		UnitAmount:   unit,
		Amount:       unit.Multiply(quantity),
		Type:         typ,
	})
}

// ChargeAmount adds a line whose amount was computed elsewhere (overage,
// proration). UnitAmount is left at the amount for a single unit of display.
func (b *Builder) ChargeAmount(typ LineItemType, description, resource string, quantity int64, amount types.Money) *Builder {
	if b.err != nil {
		return b
	}
	if quantity < 0 || amount.Amount < 0 {
		b.err = types.E(types.KindInvalidLineItem, "%s: negative quantity or amount", description)
		return b
	}
	unit := amount
	if quantity > 1 {
		unit = types.Money{Amount: types.RoundRatio(amount.Amount, 1, quantity), Currency: amount.Currency}
	}
	return b.add(LineItem{
		Description:  description,
		ResourceType: resource,
		Quantity:     quantity,
		UnitAmount:   unit,
		Amount:       amount,
		Type:         typ,
	})
}

// Credit adds a negative line.
func (b *Builder) Credit(description string, amount types.Money) *Builder {
	if b.err != nil {
		return b
	}
	credit := amount.Abs().Negate()
	return b.add(LineItem{
		Description: description,
		Quantity:    1,
		UnitAmount:  credit,
		Amount:      credit,
		Type:        LineItemCredit,
	})
}

func (b *Builder) add(li LineItem) *Builder {
	if strings.TrimSpace(li.Description) == "" {
		b.err = types.E(types.KindInvalidLineItem, "description is required")
		return b
	}
	if li.Amount.Currency != b.inv.Currency {
		b.err = types.E(types.KindCurrencyMismatch, "line %q in %s, invoice in %s", li.Description, li.Amount.Currency, b.inv.Currency)
		return b
	}
	li.ID = id.NewLineItemID()
	b.inv.LineItems = append(b.inv.LineItems, li)
	return b
}

// Build totals the invoice. Credits never push the total below zero; an
// invoice with nothing to collect is issued already paid.
func (b *Builder) Build(now time.Time) (*Invoice, error) {
	if b.err != nil {
		return nil, b.err
	}
	subtotal, err := types.Sum(b.inv.Currency, lo.Map(b.inv.LineItems, func(li LineItem, _ int) types.Money {
		return li.Amount
	})...)
	if err != nil {
		return nil, err
	}
	b.inv.Subtotal = subtotal
	b.inv.Total = subtotal
	if subtotal.IsNegative() {
		b.inv.Total = types.Zero(b.inv.Currency)
	}
	if b.inv.Total.IsZero() {
		paid := now.UTC()
		b.inv.Status = StatusPaid
		b.inv.PaidAt = &paid
	}
	return b.inv, nil
}

// Lines returns the items of a given type.
func (inv *Invoice) Lines(typ LineItemType) []LineItem {
	return lo.Filter(inv.LineItems, func(li LineItem, _ int) bool { return li.Type == typ })
}
