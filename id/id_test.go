package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/tally/id"
)

var kinds = []struct {
	name    string
	prefix  id.Prefix
	newFn   func() id.ID
	parseFn func(string) (id.ID, error)
}{
	{"Plan", id.PrefixPlan, id.NewPlanID, id.ParsePlanID},
	{"Subscription", id.PrefixSubscription, id.NewSubscriptionID, id.ParseSubscriptionID},
	{"Usage", id.PrefixUsage, id.NewUsageID, id.ParseUsageID},
	{"Invoice", id.PrefixInvoice, id.NewInvoiceID, id.ParseInvoiceID},
	{"LineItem", id.PrefixLineItem, id.NewLineItemID, id.ParseLineItemID},
	{"AddOn", id.PrefixAddOn, id.NewAddOnID, id.ParseAddOnID},
	{"UserAddOn", id.PrefixUserAddOn, id.NewUserAddOnID, id.ParseUserAddOnID},
	{"Audit", id.PrefixAudit, id.NewAuditID, id.ParseAuditID},
	{"Payment", id.PrefixPayment, id.NewPaymentID, id.ParsePaymentID},
}

func TestConstructorsAndRoundTrip(t *testing.T) {
	for _, k := range kinds {
		t.Run(k.name, func(t *testing.T) {
			original := k.newFn()
			if !strings.HasPrefix(original.String(), string(k.prefix)+"_") {
				t.Fatalf("expected prefix %q, got %q", k.prefix, original.String())
			}
			parsed, err := k.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossKindRejection(t *testing.T) {
	for i, k := range kinds {
		other := kinds[(i+1)%len(kinds)]
		t.Run(k.name, func(t *testing.T) {
			input := other.newFn().String()
			if _, err := k.parseFn(input); err == nil {
				t.Errorf("expected %s parser to reject %q", k.name, input)
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() || i.String() != "" || i.Prefix() != "" {
		t.Errorf("zero value should be Nil, got %q", i.String())
	}

	data, err := i.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText(nil) failed: %v", err)
	}
	var restored id.ID
	if err := restored.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText(nil) failed: %v", err)
	}
	if !restored.IsNil() {
		t.Error("expected nil after round-trip of nil ID")
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewSubscriptionID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if err := scanned.Scan(val); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if scanned.String() != original.String() {
		t.Errorf("mismatch: %q != %q", scanned.String(), original.String())
	}

	var fromBytes id.ID
	if err := fromBytes.Scan([]byte(original.String())); err != nil {
		t.Fatalf("Scan([]byte) failed: %v", err)
	}

	var fromNull id.ID
	if err := fromNull.Scan(nil); err != nil || !fromNull.IsNil() {
		t.Errorf("Scan(nil): err=%v nil=%v", err, fromNull.IsNil())
	}

	if err := fromNull.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}

func TestIDsSortByCreation(t *testing.T) {
	a := id.NewAuditID()
	b := id.NewAuditID()
	if a.String() == b.String() {
		t.Fatalf("two consecutive IDs are equal: %q", a.String())
	}
	if a.String() > b.String() {
		t.Errorf("expected %q to sort before %q", a.String(), b.String())
	}
}
