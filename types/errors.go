package types

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the closed set of failure kinds surfaced by tally operations.
type Kind string

// Validation kinds. Rejected before any state changes.
const (
	KindInvalidAmount             Kind = "invalid_amount"
	KindCurrencyMismatch          Kind = "currency_mismatch"
	KindInvalidRange              Kind = "invalid_range"
	KindInvalidInterval           Kind = "invalid_interval"
	KindInvalidQuantity           Kind = "invalid_quantity"
	KindNegativeUsage             Kind = "negative_usage"
	KindNegativeLimit             Kind = "negative_limit"
	KindUnknownResourceType       Kind = "unknown_resource_type"
	KindInvalidSubscriptionStatus Kind = "invalid_subscription_status"
	KindInvalidRequest            Kind = "invalid_request"
	KindInvalidRate               Kind = "invalid_rate"
	KindInvalidLineItem           Kind = "invalid_line_item"
	KindInvalidTier               Kind = "invalid_tier"
	KindAddOnPriceTooLow          Kind = "addon_price_too_low"
)

// Business-state kinds. The request was well formed but current state forbids it.
const (
	KindDuplicateActiveSubscription Kind = "duplicate_active_subscription"
	KindPlanNotFound                Kind = "plan_not_found"
	KindPlanInactive                Kind = "plan_inactive"
	KindPlanInUse                   Kind = "plan_in_use"
	KindSubscriptionNotFound        Kind = "subscription_not_found"
	KindInvalidTransition           Kind = "invalid_transition"
	KindPeriodNotEnded              Kind = "period_not_ended"
	KindInvoiceNotFound             Kind = "invoice_not_found"
	KindInvoiceFinalized            Kind = "invoice_finalized"
	KindAddOnNotFound               Kind = "addon_not_found"
	KindPaymentAuthorizationDenied  Kind = "payment_authorization_denied"
	KindAlreadyExists               Kind = "already_exists"
)

// KindInfrastructureFailure covers store, gateway and audit sink outages.
const KindInfrastructureFailure Kind = "infrastructure_failure"

// Class groups kinds by how callers are expected to react.
type Class string

const (
	ClassValidation     Class = "validation"
	ClassBusiness       Class = "business"
	ClassInfrastructure Class = "infrastructure"
)

// Class reports the class a kind belongs to.
func (k Kind) Class() Class {
	switch k {
	case KindInfrastructureFailure:
		return ClassInfrastructure
	case KindDuplicateActiveSubscription, KindPlanNotFound, KindPlanInactive,
		KindPlanInUse, KindSubscriptionNotFound, KindInvalidTransition,
		KindPeriodNotEnded, KindInvoiceNotFound, KindInvoiceFinalized,
		KindAddOnNotFound, KindPaymentAuthorizationDenied, KindAlreadyExists:
		return ClassBusiness
	default:
		return ClassValidation
	}
}

// Error is the single error type carried across package boundaries.
// Two Errors match under errors.Is when their kinds are equal, so the
// sentinels below work with wrapped, annotated instances.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := "tally: " + string(e.Kind)
	if e.Op != "" {
		msg = "tally: " + e.Op + ": " + string(e.Kind)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// E builds an Error of the given kind with a formatted message.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and the operation that failed.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Sentinels for errors.Is.
var (
	ErrInvalidAmount             = &Error{Kind: KindInvalidAmount}
	ErrCurrencyMismatch          = &Error{Kind: KindCurrencyMismatch}
	ErrInvalidRange              = &Error{Kind: KindInvalidRange}
	ErrInvalidInterval           = &Error{Kind: KindInvalidInterval}
	ErrInvalidQuantity           = &Error{Kind: KindInvalidQuantity}
	ErrNegativeUsage             = &Error{Kind: KindNegativeUsage}
	ErrNegativeLimit             = &Error{Kind: KindNegativeLimit}
	ErrUnknownResourceType       = &Error{Kind: KindUnknownResourceType}
	ErrInvalidSubscriptionStatus = &Error{Kind: KindInvalidSubscriptionStatus}
	ErrInvalidRequest            = &Error{Kind: KindInvalidRequest}
	ErrInvalidRate               = &Error{Kind: KindInvalidRate}
	ErrInvalidLineItem           = &Error{Kind: KindInvalidLineItem}
	ErrInvalidTier               = &Error{Kind: KindInvalidTier}
	ErrAddOnPriceTooLow          = &Error{Kind: KindAddOnPriceTooLow}

	ErrDuplicateActiveSubscription = &Error{Kind: KindDuplicateActiveSubscription}
	ErrPlanNotFound                = &Error{Kind: KindPlanNotFound}
	ErrPlanInactive                = &Error{Kind: KindPlanInactive}
	ErrPlanInUse                   = &Error{Kind: KindPlanInUse}
	ErrSubscriptionNotFound        = &Error{Kind: KindSubscriptionNotFound}
	ErrInvalidTransition           = &Error{Kind: KindInvalidTransition}
	ErrPeriodNotEnded              = &Error{Kind: KindPeriodNotEnded}
	ErrInvoiceNotFound             = &Error{Kind: KindInvoiceNotFound}
	ErrInvoiceFinalized            = &Error{Kind: KindInvoiceFinalized}
	ErrAddOnNotFound               = &Error{Kind: KindAddOnNotFound}
	ErrPaymentAuthorizationDenied  = &Error{Kind: KindPaymentAuthorizationDenied}
	ErrAlreadyExists               = &Error{Kind: KindAlreadyExists}

	ErrInfrastructureFailure = &Error{Kind: KindInfrastructureFailure}
)

// KindOf returns the kind of err, or "" if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsValidation reports whether err was a rejected input.
func IsValidation(err error) bool {
	k := KindOf(err)
	return k != "" && k.Class() == ClassValidation
}

// IsBusiness reports whether err is a state-dependent rejection.
func IsBusiness(err error) bool {
	k := KindOf(err)
	return k != "" && k.Class() == ClassBusiness
}

// IsInfrastructure reports whether err is an infrastructure failure. Errors
// without a kind (raw driver errors) count as infrastructure.
func IsInfrastructure(err error) bool {
	if err == nil {
		return false
	}
	k := KindOf(err)
	return k == "" || k == KindInfrastructureFailure
}

// IsRetryable reports whether retrying the same call could succeed. A
// canceled or expired context never is.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return IsInfrastructure(err)
}
