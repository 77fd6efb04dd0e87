// Package payment defines the payment-authorization collaborator the
// engine charges through.
package payment

import (
	"context"
	"sync"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

// ErrDeclined is returned when the gateway refuses a charge.
var ErrDeclined = types.ErrPaymentAuthorizationDenied

// Authorization is a hold placed on the payer's funds.
type Authorization struct {
	ID        string      `json:"id"`
	AccountID string      `json:"account_id"`
	Amount    types.Money `json:"amount"`
}

// Authorizer places, captures and refunds charges. Implementations map a
// refusal to ErrDeclined and an unreachable gateway to an infrastructure
// failure.
type Authorizer interface {
	Authorize(ctx context.Context, accountID string, amount types.Money, token string) (*Authorization, error)
	// Capture settles an authorization and returns the payment reference.
	Capture(ctx context.Context, authID string, amount types.Money) (string, error)
	Refund(ctx context.Context, paymentRef string, amount types.Money) error
}

// Tokens with fixed outcomes under Fake.
const (
	TokenDeclined    = "tok_declined"
	TokenUnavailable = "tok_unavailable"
)

// Fake is an in-memory Authorizer. Every token is approved except
// TokenDeclined and TokenUnavailable.
type Fake struct {
	mu       sync.Mutex
	auths    map[string]*Authorization
	captured map[string]types.Money
	refunded map[string]types.Money
}

var _ Authorizer = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		auths:    make(map[string]*Authorization),
		captured: make(map[string]types.Money),
		refunded: make(map[string]types.Money),
	}
}

func (f *Fake) Authorize(_ context.Context, accountID string, amount types.Money, token string) (*Authorization, error) {
	switch token {
	case TokenDeclined:
		return nil, types.E(types.KindPaymentAuthorizationDenied, "card declined for %s", accountID)
	case TokenUnavailable:
		return nil, types.E(types.KindInfrastructureFailure, "payment gateway unavailable")
	}
	a := &Authorization{ID: id.NewPaymentID().String(), AccountID: accountID, Amount: amount}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.auths[a.ID] = a
	return a, nil
}

func (f *Fake) Capture(_ context.Context, authID string, amount types.Money) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.auths[authID]
	if !ok {
		return "", types.E(types.KindPaymentAuthorizationDenied, "authorization %s not found", authID)
	}
	if amount.Currency != a.Amount.Currency || amount.Amount > a.Amount.Amount {
		return "", types.E(types.KindPaymentAuthorizationDenied, "capture of %s exceeds authorization", amount)
	}
	f.captured[authID] = amount
	return authID, nil
}

func (f *Fake) Refund(_ context.Context, paymentRef string, amount types.Money) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.captured[paymentRef]
	if !ok {
		return types.E(types.KindPaymentAuthorizationDenied, "payment %s not captured", paymentRef)
	}
	prev := f.refunded[paymentRef]
	if prev.Amount+amount.Amount > c.Amount {
		return types.E(types.KindPaymentAuthorizationDenied, "refund exceeds capture")
	}
	f.refunded[paymentRef] = types.Money{Amount: prev.Amount + amount.Amount, Currency: c.Currency}
	return nil
}

// Captured returns the amount captured under paymentRef.
func (f *Fake) Captured(paymentRef string) (types.Money, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.captured[paymentRef]
	return m, ok
}

// Refunded returns the total refunded under paymentRef.
func (f *Fake) Refunded(paymentRef string) types.Money {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refunded[paymentRef]
}

// Authorizations reports how many holds were placed.
func (f *Fake) Authorizations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.auths)
}
