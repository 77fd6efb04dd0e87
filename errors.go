package tally

import (
	"errors"

	"github.com/xraph/tally/types"
)

// Sentinel errors for errors.Is. Every error returned by the engine is a
// *types.Error and matches the sentinel of its kind.
var (
	// Validation errors
	ErrInvalidAmount             = types.ErrInvalidAmount
	ErrCurrencyMismatch          = types.ErrCurrencyMismatch
	ErrInvalidRange              = types.ErrInvalidRange
	ErrInvalidInterval           = types.ErrInvalidInterval
	ErrInvalidQuantity           = types.ErrInvalidQuantity
	ErrNegativeUsage             = types.ErrNegativeUsage
	ErrNegativeLimit             = types.ErrNegativeLimit
	ErrUnknownResourceType       = types.ErrUnknownResourceType
	ErrInvalidSubscriptionStatus = types.ErrInvalidSubscriptionStatus
	ErrInvalidRequest            = types.ErrInvalidRequest
	ErrInvalidRate               = types.ErrInvalidRate
	ErrInvalidLineItem           = types.ErrInvalidLineItem
	ErrInvalidTier               = types.ErrInvalidTier
	ErrAddOnPriceTooLow          = types.ErrAddOnPriceTooLow

	// Business-state errors
	ErrDuplicateActiveSubscription = types.ErrDuplicateActiveSubscription
	ErrPlanNotFound                = types.ErrPlanNotFound
	ErrPlanInactive                = types.ErrPlanInactive
	ErrPlanInUse                   = types.ErrPlanInUse
	ErrSubscriptionNotFound        = types.ErrSubscriptionNotFound
	ErrInvalidTransition           = types.ErrInvalidTransition
	ErrPeriodNotEnded              = types.ErrPeriodNotEnded
	ErrInvoiceNotFound             = types.ErrInvoiceNotFound
	ErrInvoiceFinalized            = types.ErrInvoiceFinalized
	ErrAddOnNotFound               = types.ErrAddOnNotFound
	ErrPaymentAuthorizationDenied  = types.ErrPaymentAuthorizationDenied
	ErrAlreadyExists               = types.ErrAlreadyExists

	// Infrastructure errors
	ErrInfrastructureFailure = types.ErrInfrastructureFailure
)

// ErrUsageBufferFull is wrapped in an infrastructure failure when
// EnqueueUsage cannot accept more events.
var ErrUsageBufferFull = errors.New("tally: usage buffer full")

// Error is the error type carried by every engine failure.
type Error = types.Error

// Kind is the closed set of failure kinds.
type Kind = types.Kind

// KindOf returns the kind of err, or "" when err carries none.
func KindOf(err error) Kind { return types.KindOf(err) }

// IsNotFound returns true if the error reports a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrAddOnNotFound)
}

// IsValidation returns true for caller-fixable input errors.
func IsValidation(err error) bool { return types.IsValidation(err) }

// IsBusiness returns true when current state forbids the request.
func IsBusiness(err error) bool { return types.IsBusiness(err) }

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool { return types.IsRetryable(err) }
