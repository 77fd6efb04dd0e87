// Package types provides the value types shared across tally.
package types

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in the currency's minor unit (cents, pence) plus a
// lower-case ISO 4217 code. Arithmetic never goes through floating point.
//
//   - USD(4900) = $49.00
//   - JPY(100)  = ¥100
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Of constructs a chargeable amount. Charges are never negative.
func Of(minor int64, currency string) (Money, error) {
	if minor < 0 {
		return Money{}, E(KindInvalidAmount, "amount %d is negative", minor)
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		return Money{}, E(KindInvalidAmount, "currency is required")
	}
	return Money{Amount: minor, Currency: currency}, nil
}

// FromMajor converts a major-unit decimal ("99.99") into minor units,
// rounding half-up.
func FromMajor(major decimal.Decimal, currency string) (Money, error) {
	minor := major.Shift(int32(currencyDecimals(currency))).Round(0)
	return Of(minor.IntPart(), currency)
}

// USD creates a Money value in US Dollars (cents).
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// EUR creates a Money value in Euros (cents).
func EUR(cents int64) Money { return Money{Amount: cents, Currency: "eur"} }

// GBP creates a Money value in British Pounds (pence).
func GBP(pence int64) Money { return Money{Amount: pence, Currency: "gbp"} }

// JPY creates a Money value in Japanese Yen.
func JPY(yen int64) Money { return Money{Amount: yen, Currency: "jpy"} }

// CAD creates a Money value in Canadian Dollars (cents).
func CAD(cents int64) Money { return Money{Amount: cents, Currency: "cad"} }

// AUD creates a Money value in Australian Dollars (cents).
func AUD(cents int64) Money { return Money{Amount: cents, Currency: "aud"} }

// Zero returns a zero Money value in the specified currency.
func Zero(currency string) Money { return Money{Currency: strings.ToLower(currency)} }

// ──────────────────────────────────────────────────
// Arithmetic
// ──────────────────────────────────────────────────

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// Subtract returns m - other. The result may be negative (credits).
func (m Money) Subtract(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}, nil
}

// Multiply multiplies the Money by a whole quantity.
func (m Money) Multiply(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

// MultiplyByRatio returns m * num / den rounded half-up (away from zero)
// to the minor unit. The intermediate product is exact.
func (m Money) MultiplyByRatio(num, den int64) (Money, error) {
	if den == 0 {
		return Money{}, E(KindInvalidRange, "ratio denominator is zero")
	}
	return Money{Amount: RoundRatio(m.Amount, num, den), Currency: m.Currency}, nil
}

// RoundRatio computes amount*num/den rounded half away from zero.
// den must be non-zero.
func RoundRatio(amount, num, den int64) int64 {
	n := decimal.NewFromInt(amount).Mul(decimal.NewFromInt(num))
	d := decimal.NewFromInt(den)
	q, r := n.QuoRem(d, 0)
	if r.IsZero() {
		return q.IntPart()
	}
	if r.Abs().Mul(decimal.NewFromInt(2)).GreaterThanOrEqual(d.Abs()) {
		if n.Sign()*d.Sign() > 0 {
			q = q.Add(decimal.NewFromInt(1))
		} else {
			q = q.Sub(decimal.NewFromInt(1))
		}
	}
	return q.IntPart()
}

// MultiplyDecimal returns m * factor rounded half-up to the minor unit.
func (m Money) MultiplyDecimal(factor decimal.Decimal) Money {
	v := decimal.NewFromInt(m.Amount).Mul(factor).Round(0)
	return Money{Amount: v.IntPart(), Currency: m.Currency}
}

// Negate returns the negative of the Money value.
func (m Money) Negate() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// Abs returns the absolute value.
func (m Money) Abs() Money {
	if m.Amount < 0 {
		return Money{Amount: -m.Amount, Currency: m.Currency}
	}
	return m
}

// ──────────────────────────────────────────────────
// Comparison
// ──────────────────────────────────────────────────

// Compare returns -1, 0 or 1 as m is less than, equal to or greater than other.
func (m Money) Compare(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	switch {
	case m.Amount < other.Amount:
		return -1, nil
	case m.Amount > other.Amount:
		return 1, nil
	default:
		return 0, nil
	}
}

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive returns true if the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// IsNegative returns true if the amount is less than zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Equal returns true if both Money values have the same amount and currency.
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// ──────────────────────────────────────────────────
// Formatting
// ──────────────────────────────────────────────────

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -int32(currencyDecimals(m.Currency)))
}

// FormatMajor returns the major unit string without currency symbol:
// "49.00" for USD(4900), "100" for JPY(100).
func (m Money) FormatMajor() string {
	return m.Decimal().StringFixed(int32(currencyDecimals(m.Currency)))
}

// String returns a human-readable string with currency symbol.
func (m Money) String() string {
	if m.Amount < 0 {
		return "-" + currencySymbol(m.Currency) + m.Abs().FormatMajor()
	}
	return currencySymbol(m.Currency) + m.FormatMajor()
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount,
		Currency: m.Currency,
		Display:  m.String(),
	})
}

// UnmarshalJSON implements json.Unmarshaler. The display field is ignored.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Amount = raw.Amount
	m.Currency = strings.ToLower(raw.Currency)
	return nil
}

func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return E(KindCurrencyMismatch, "%s != %s", m.Currency, other.Currency)
	}
	return nil
}

func currencySymbol(currency string) string {
	symbols := map[string]string{
		"usd": "$",
		"eur": "€",
		"gbp": "£",
		"jpy": "¥",
		"cad": "C$",
		"aud": "A$",
		"chf": "CHF ",
		"cny": "¥",
		"sek": "kr ",
		"nzd": "NZ$",
	}
	if sym, ok := symbols[strings.ToLower(currency)]; ok {
		return sym
	}
	return strings.ToUpper(currency) + " "
}

// currencyDecimals returns the minor-unit exponent for a currency.
func currencyDecimals(currency string) int {
	switch strings.ToLower(currency) {
	case "jpy", "krw", "vnd", "clp", "pyg", "idr":
		return 0
	default:
		return 2
	}
}

// Sum adds values that all share currency. An empty list sums to zero.
func Sum(currency string, values ...Money) (Money, error) {
	total := Zero(currency)
	for _, v := range values {
		var err error
		if total, err = total.Add(v); err != nil {
			return Money{}, err
		}
	}
	return total, nil
}
