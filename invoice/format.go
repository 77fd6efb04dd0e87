package invoice

import (
	"strings"

	"github.com/xraph/tally/types"
)

// FormattedLine is a display row: amounts rendered as "USD 99.99".
type FormattedLine struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Quantity    int64  `json:"quantity"`
	Subtotal    string `json:"subtotal"`
}

// Formatted is a display-ready invoice body.
type Formatted struct {
	Items []FormattedLine `json:"items"`
	Total string          `json:"total"`
}

// Format renders line items for display in currency. Lines without a
// description or with a negative charge are rejected; credits must be
// typed as such.
func Format(items []LineItem, currency string) (Formatted, error) {
	code := strings.ToUpper(currency)
	render := func(m types.Money) string { return code + " " + m.FormatMajor() }

	out := Formatted{Items: make([]FormattedLine, 0, len(items))}
	total := types.Zero(currency)
	for _, li := range items {
		if strings.TrimSpace(li.Description) == "" {
			return Formatted{}, types.E(types.KindInvalidLineItem, "line %s has no description", li.ID)
		}
		if li.Amount.IsNegative() && li.Type != LineItemCredit {
			return Formatted{}, types.E(types.KindInvalidLineItem, "line %q has negative amount", li.Description)
		}
		qty := li.Quantity
		if qty == 0 {
			qty = 1
		}
		var err error
		if total, err = total.Add(li.Amount); err != nil {
			return Formatted{}, err
		}
		out.Items = append(out.Items, FormattedLine{
			Description: li.Description,
			Amount:      render(li.UnitAmount),
			Quantity:    qty,
			Subtotal:    render(li.Amount),
		})
	}
	out.Total = render(total)
	return out, nil
}
