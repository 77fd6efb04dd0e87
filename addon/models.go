// Package addon covers purchasable extras layered on a subscription. They
// are billed independently of plan entitlements.
package addon

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/types"
)

// Type classifies an add-on. Known types carry a price floor.
type Type string

const (
	TypeModelPack     Type = "model_pack"
	TypeDashboardPack Type = "dashboard_pack"
	TypeFinetuning    Type = "finetuning"
	TypeConsulting    Type = "consulting"
)

// minimumMajor is the floor in major units of the add-on's currency.
var minimumMajor = map[Type]int64{
	TypeModelPack:     499,
	TypeDashboardPack: 299,
	TypeFinetuning:    1500,
	TypeConsulting:    250,
}

// MinimumPrice returns the floor for t in currency, and false when t has none.
func MinimumPrice(t Type, currency string) (types.Money, bool) {
	major, ok := minimumMajor[t]
	if !ok {
		return types.Money{}, false
	}
	m, err := types.FromMajor(decimal.NewFromInt(major), currency)
	return m, err == nil
}

// AddOn is a catalog definition.
type AddOn struct {
	types.Entity
	ID          id.AddOnID    `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Type        Type          `json:"type"`
	Price       types.Money   `json:"price"`
	Recurring   bool          `json:"recurring"`
	Interval    plan.Interval `json:"interval,omitempty"`
	Active      bool          `json:"active"`
}

// ValidatePrice checks the price is a valid charge at or above the type's floor.
func (a *AddOn) ValidatePrice() error {
	if _, err := types.Of(a.Price.Amount, a.Price.Currency); err != nil {
		return err
	}
	floor, ok := MinimumPrice(a.Type, a.Price.Currency)
	if !ok {
		return nil
	}
	if a.Price.Amount < floor.Amount {
		return types.E(types.KindAddOnPriceTooLow, "%s add-on %s below minimum %s", a.Type, a.Price, floor)
	}
	return nil
}

// Validate checks the full definition.
func (a *AddOn) Validate() error {
	if a.Name == "" {
		return types.E(types.KindInvalidRequest, "add-on name is required")
	}
	if a.Recurring {
		if _, err := plan.ParseInterval(string(a.Interval)); err != nil {
			return err
		}
	}
	return a.ValidatePrice()
}

type Status string

const (
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusCanceled Status = "canceled"
)

// UserAddOn is one purchase, kept as its own ledger entry.
type UserAddOn struct {
	types.Entity
	ID          id.UserAddOnID `json:"id"`
	AccountID   string         `json:"account_id"`
	AddOnID     id.AddOnID     `json:"addon_id"`
	Price       types.Money    `json:"price"`
	Commission  types.Money    `json:"commission"`
	Recurring   bool           `json:"recurring"`
	PaymentRef  string         `json:"payment_ref,omitempty"`
	Status      Status         `json:"status"`
	PurchasedAt time.Time      `json:"purchased_at"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
}

// ActiveAt reports whether the purchase is in force at t.
func (u *UserAddOn) ActiveAt(t time.Time) bool {
	if u.Status != StatusActive {
		return false
	}
	return u.ExpiresAt == nil || t.Before(*u.ExpiresAt)
}
