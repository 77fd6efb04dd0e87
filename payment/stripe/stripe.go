// Package stripe authorizes tally charges as Stripe PaymentIntents with
// manual capture.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	stripego "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/refund"

	"github.com/xraph/tally/payment"
	"github.com/xraph/tally/types"
)

// Config holds the Stripe credentials.
type Config struct {
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	// Backend overrides the HTTP backend. Nil uses the library default.
	Backend stripego.Backend `json:"-" yaml:"-"`
}

// Validate checks the key shape.
func (c Config) Validate() error {
	if c.SecretKey == "" {
		return types.E(types.KindInvalidRequest, "stripe: secret key is required")
	}
	if !strings.HasPrefix(c.SecretKey, "sk_") && !strings.HasPrefix(c.SecretKey, "rk_") {
		return types.E(types.KindInvalidRequest, "stripe: secret key must start with sk_ or rk_")
	}
	return nil
}

// Adapter implements payment.Authorizer.
type Adapter struct {
	intents *paymentintent.Client
	refunds *refund.Client
	logger  *slog.Logger
}

var _ payment.Authorizer = (*Adapter)(nil)

// New returns an Adapter using cfg.
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	backend := cfg.Backend
	if backend == nil {
		backend = stripego.GetBackend(stripego.APIBackend)
	}
	return &Adapter{
		intents: &paymentintent.Client{B: backend, Key: cfg.SecretKey},
		refunds: &refund.Client{B: backend, Key: cfg.SecretKey},
		logger:  logger,
	}, nil
}

// Authorize confirms a PaymentIntent against the payment-method token and
// leaves it awaiting capture.
func (a *Adapter) Authorize(ctx context.Context, accountID string, amount types.Money, token string) (*payment.Authorization, error) {
	params := &stripego.PaymentIntentParams{
		Amount:        stripego.Int64(amount.Amount),
		Currency:      stripego.String(amount.Currency),
		PaymentMethod: stripego.String(token),
		CaptureMethod: stripego.String(string(stripego.PaymentIntentCaptureMethodManual)),
		Confirm:       stripego.Bool(true),
	}
	params.Context = ctx
	params.AddMetadata("account_id", accountID)

	pi, err := a.intents.New(params)
	if err != nil {
		a.logger.Warn("stripe authorization failed",
			"account_id", accountID,
			"amount", amount.String(),
			"error", err,
		)
		return nil, classify("payment.authorize", err)
	}
	if pi.Status != stripego.PaymentIntentStatusRequiresCapture {
		return nil, types.E(types.KindPaymentAuthorizationDenied, "payment intent %s is %s", pi.ID, pi.Status)
	}
	a.logger.Debug("stripe authorization placed",
		"account_id", accountID,
		"payment_intent", pi.ID,
	)
	return &payment.Authorization{ID: pi.ID, AccountID: accountID, Amount: amount}, nil
}

// Capture settles the PaymentIntent. The intent ID is the payment reference.
func (a *Adapter) Capture(ctx context.Context, authID string, amount types.Money) (string, error) {
	params := &stripego.PaymentIntentCaptureParams{
		AmountToCapture: stripego.Int64(amount.Amount),
	}
	params.Context = ctx

	pi, err := a.intents.Capture(authID, params)
	if err != nil {
		return "", classify("payment.capture", err)
	}
	if pi.Status != stripego.PaymentIntentStatusSucceeded {
		return "", types.E(types.KindPaymentAuthorizationDenied, "payment intent %s is %s after capture", pi.ID, pi.Status)
	}
	return pi.ID, nil
}

// Refund returns amount against a captured PaymentIntent.
func (a *Adapter) Refund(ctx context.Context, paymentRef string, amount types.Money) error {
	params := &stripego.RefundParams{
		PaymentIntent: stripego.String(paymentRef),
		Amount:        stripego.Int64(amount.Amount),
	}
	params.Context = ctx

	if _, err := a.refunds.New(params); err != nil {
		return classify("payment.refund", err)
	}
	return nil
}

// classify maps gateway errors onto tally kinds. Card errors and other
// client-side rejections deny; rate limiting, server errors and transport
// failures are infrastructure.
func classify(op string, err error) error {
	var se *stripego.Error
	if !errors.As(err, &se) {
		return types.Wrap(types.KindInfrastructureFailure, op, err)
	}
	switch {
	case se.Type == stripego.ErrorTypeCard:
		return types.Wrap(types.KindPaymentAuthorizationDenied, op, fmt.Errorf("%s: %s", se.Code, se.Msg))
	case se.HTTPStatusCode == http.StatusTooManyRequests, se.HTTPStatusCode >= http.StatusInternalServerError:
		return types.Wrap(types.KindInfrastructureFailure, op, err)
	case se.Type == stripego.ErrorTypeAPI:
		return types.Wrap(types.KindInfrastructureFailure, op, err)
	default:
		return types.Wrap(types.KindPaymentAuthorizationDenied, op, err)
	}
}
