package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		amount   int64
		currency string
		display  string
	}{
		{"USD", USD(4900), 4900, "usd", "$49.00"},
		{"EUR", EUR(19900), 19900, "eur", "€199.00"},
		{"GBP", GBP(9900), 9900, "gbp", "£99.00"},
		{"JPY", JPY(100), 100, "jpy", "¥100"},
		{"CAD", CAD(2500), 2500, "cad", "C$25.00"},
		{"AUD", AUD(7550), 7550, "aud", "A$75.50"},
		{"Zero USD", Zero("USD"), 0, "usd", "$0.00"},
		{"Negative credit", USD(-1250), -1250, "usd", "-$12.50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("Amount: got %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("Currency: got %s, want %s", tt.money.Currency, tt.currency)
			}
			if tt.money.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.money.String(), tt.display)
			}
		})
	}
}

func TestOf(t *testing.T) {
	tests := []struct {
		name     string
		minor    int64
		currency string
		wantErr  error
	}{
		{"valid", 9999, "USD", nil},
		{"zero", 0, "usd", nil},
		{"negative", -1, "usd", ErrInvalidAmount},
		{"no currency", 100, " ", ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Of(tt.minor, tt.currency)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err: got %v, want %v", err, tt.wantErr)
			}
			if err == nil && (m.Amount != tt.minor || m.Currency != "usd") {
				t.Errorf("got %+v", m)
			}
		})
	}
}

func TestFromMajor(t *testing.T) {
	m, err := FromMajor(decimal.RequireFromString("99.995"), "usd")
	if err != nil {
		t.Fatal(err)
	}
	if m.Amount != 10000 {
		t.Errorf("got %d, want 10000", m.Amount)
	}
	if _, err := FromMajor(decimal.RequireFromString("-1"), "usd"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative major: got %v", err)
	}
}

func TestMoneyArithmetic(t *testing.T) {
	mustAdd := func(a, b Money) Money {
		r, err := a.Add(b)
		if err != nil {
			t.Fatal(err)
		}
		return r
	}
	mustSub := func(a, b Money) Money {
		r, err := a.Subtract(b)
		if err != nil {
			t.Fatal(err)
		}
		return r
	}

	tests := []struct {
		name     string
		op       func() Money
		expected Money
	}{
		{"Add", func() Money { return mustAdd(USD(100), USD(200)) }, USD(300)},
		{"Subtract", func() Money { return mustSub(USD(500), USD(200)) }, USD(300)},
		{"Subtract below zero", func() Money { return mustSub(USD(100), USD(250)) }, USD(-150)},
		{"Multiply", func() Money { return USD(100).Multiply(3) }, USD(300)},
		{"Negate", func() Money { return USD(100).Negate() }, USD(-100)},
		{"Abs negative", func() Money { return USD(-100).Abs() }, USD(100)},
		{"Decimal factor", func() Money { return USD(9999).MultiplyDecimal(decimal.RequireFromString("0.15")) }, USD(1500)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.op()
			if !result.Equal(tt.expected) {
				t.Errorf("Got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	if _, err := USD(100).Add(EUR(100)); !errors.Is(err, ErrCurrencyMismatch) {
		t.Errorf("Add: got %v", err)
	}
	if _, err := USD(100).Subtract(EUR(100)); !errors.Is(err, ErrCurrencyMismatch) {
		t.Errorf("Subtract: got %v", err)
	}
	if _, err := USD(100).Compare(GBP(100)); !errors.Is(err, ErrCurrencyMismatch) {
		t.Errorf("Compare: got %v", err)
	}
}

func TestMultiplyByRatio(t *testing.T) {
	tests := []struct {
		name     string
		amount   int64
		num, den int64
		expected int64
	}{
		{"identity", 9999, 30, 30, 9999},
		{"half month", 10000, 15, 30, 5000},
		{"half year", 10000, 181, 365, 4959},
		{"rounds half up", 5, 1, 2, 3},
		{"rounds down below half", 4, 1, 3, 1},
		{"exact half of odd cent", 1, 1, 2, 1},
		{"overage per thousand", 1, 500, 1000, 1},
		{"negative rounds away from zero", -5, 1, 2, -3},
		{"large amount", 9_000_000_000_000, 364, 365, 8_975_342_465_753},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := USD(tt.amount).MultiplyByRatio(tt.num, tt.den)
			if err != nil {
				t.Fatal(err)
			}
			if got.Amount != tt.expected {
				t.Errorf("got %d, want %d", got.Amount, tt.expected)
			}
		})
	}

	if _, err := USD(1).MultiplyByRatio(1, 0); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("zero denominator: got %v", err)
	}
}

func TestMoneyCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Money
		want int
	}{
		{"Equal", USD(100), USD(100), 0},
		{"Less", USD(50), USD(100), -1},
		{"Greater", USD(200), USD(100), 1},
		{"Zero equal", USD(0), Zero("usd"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.a.Compare(tt.b)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Compare: got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMoneyFormatMajor(t *testing.T) {
	tests := []struct {
		money    Money
		expected string
	}{
		{USD(4900), "49.00"},
		{USD(1), "0.01"},
		{USD(0), "0.00"},
		{USD(-4900), "-49.00"},
		{EUR(9999), "99.99"},
		{JPY(12345), "12345"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.money.FormatMajor(); got != tt.expected {
				t.Errorf("FormatMajor: got %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(USD(4900))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	expected := `{"amount":4900,"currency":"usd","display":"$49.00"}`
	if string(data) != expected {
		t.Errorf("JSON: got %s, want %s", string(data), expected)
	}

	var back Money
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if !back.Equal(USD(4900)) {
		t.Errorf("Unmarshaled: got %+v", back)
	}
}

func TestSum(t *testing.T) {
	tests := []struct {
		name     string
		values   []Money
		expected Money
	}{
		{"Empty", nil, Zero("usd")},
		{"Single", []Money{USD(100)}, USD(100)},
		{"Multiple", []Money{USD(100), USD(200), USD(300)}, USD(600)},
		{"With credits", []Money{USD(100), USD(-50), USD(200)}, USD(250)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Sum("usd", tt.values...)
			if err != nil {
				t.Fatal(err)
			}
			if !result.Equal(tt.expected) {
				t.Errorf("Sum: got %v, want %v", result, tt.expected)
			}
		})
	}

	if _, err := Sum("usd", USD(1), EUR(1)); !errors.Is(err, ErrCurrencyMismatch) {
		t.Errorf("mixed currencies: got %v", err)
	}
}

func TestErrorKinds(t *testing.T) {
	err := Wrap(KindInfrastructureFailure, "store.CreateSubscription", errors.New("conn refused"))
	if !errors.Is(err, ErrInfrastructureFailure) {
		t.Error("wrapped error should match its sentinel")
	}
	if errors.Is(err, ErrPlanNotFound) {
		t.Error("kinds must not cross-match")
	}
	if !IsInfrastructure(err) || IsBusiness(err) || IsValidation(err) {
		t.Error("class helpers disagree with kind")
	}
	if !IsBusiness(E(KindDuplicateActiveSubscription, "acct_1")) {
		t.Error("duplicate subscription is a business error")
	}
	if !IsValidation(ErrNegativeUsage) {
		t.Error("negative usage is a validation error")
	}
	if KindOf(errors.New("raw")) != "" {
		t.Error("raw errors have no kind")
	}
}

func BenchmarkMultiplyByRatio(b *testing.B) {
	m := USD(9999)
	for i := 0; i < b.N; i++ {
		_, _ = m.MultiplyByRatio(181, 365)
	}
}
