// Package id defines the TypeID identifiers used by tally records.
//
// An ID is "prefix_suffix" where the prefix names the record kind and the
// suffix is a UUIDv7, so IDs sort by creation time. Audit sequences rely on
// that ordering only as a tie-breaker; the chain itself carries a sequence.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Record kinds.
const (
	PrefixPlan         Prefix = "plan"
	PrefixSubscription Prefix = "sub"
	PrefixUsage        Prefix = "usage"
	PrefixInvoice      Prefix = "inv"
	PrefixLineItem     Prefix = "li"
	PrefixAddOn        Prefix = "addon"
	PrefixUserAddOn    Prefix = "uaddon"
	PrefixAudit        Prefix = "audit"
	PrefixPayment      Prefix = "pay"
)

// ID wraps a TypeID. The zero value is Nil.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g., "plan_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID. Returns an error if the string is not valid.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// ──────────────────────────────────────────────────
// Per-kind helpers
// ──────────────────────────────────────────────────

// Aliases document intent at call sites; they are all the same type.
type (
	PlanID = ID
	SubscriptionID = ID
	UsageID = ID
	InvoiceID = ID
	LineItemID = ID
	AddOnID = ID
	UserAddOnID = ID
	AuditID = ID
	PaymentID = ID
)

func NewPlanID() ID { return New(PrefixPlan) }
func NewSubscriptionID() ID { return New(PrefixSubscription) }
func NewUsageID() ID { return New(PrefixUsage) }
func NewInvoiceID() ID { return New(PrefixInvoice) }
func NewLineItemID() ID { return New(PrefixLineItem) }
func NewAddOnID() ID { return New(PrefixAddOn) }
func NewUserAddOnID() ID { return New(PrefixUserAddOn) }
func NewAuditID() ID { return New(PrefixAudit) }
func NewPaymentID() ID { return New(PrefixPayment) }

func ParsePlanID(s string) (ID, error) { return ParseWithPrefix(s, PrefixPlan) }
func ParseSubscriptionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixSubscription) }
func ParseUsageID(s string) (ID, error) { return ParseWithPrefix(s, PrefixUsage) }
func ParseInvoiceID(s string) (ID, error) { return ParseWithPrefix(s, PrefixInvoice) }
func ParseLineItemID(s string) (ID, error) { return ParseWithPrefix(s, PrefixLineItem) }
func ParseAddOnID(s string) (ID, error) { return ParseWithPrefix(s, PrefixAddOn) }
func ParseUserAddOnID(s string) (ID, error) { return ParseWithPrefix(s, PrefixUserAddOn) }
func ParseAuditID(s string) (ID, error) { return ParseWithPrefix(s, PrefixAudit) }
func ParsePaymentID(s string) (ID, error) { return ParseWithPrefix(s, PrefixPayment) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so that optional foreign key columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
