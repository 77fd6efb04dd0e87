package audithook

// Action constants for forwarded events.
const (
	ActionOperationSucceeded = "operation.succeeded"
	ActionOperationFailed    = "operation.failed"

	ActionSubscriptionTransitioned = "subscription.transitioned"
	ActionInvoicePaid              = "invoice.paid"

	ActionStoreFailover     = "store.failover"
	ActionStoreConsistent   = "store.consistent"
	ActionStoreInconsistent = "store.inconsistent"
)

// Resource constants for forwarded events.
const (
	ResourceOperation    = "operation"
	ResourceSubscription = "subscription"
	ResourceInvoice      = "invoice"
	ResourceStore        = "store"
)

// Category constants for forwarded events.
const (
	CategoryBilling      = "billing"
	CategorySubscription = "subscription"
	CategoryPayment      = "payment"
	CategoryIntegrity    = "integrity"
)

// Severity levels for forwarded events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for forwarded events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
