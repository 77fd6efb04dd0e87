// Package entitlement reports how much of each plan allowance an account
// has consumed. The report is informational; billing decisions go through
// meter.Price.
package entitlement

import "github.com/shopspring/decimal"

// Status is the per-resource line of a limit report.
type Status struct {
	Resource        string          `json:"resource"`
	Usage           int64           `json:"usage"`
	Limit           int64           `json:"limit"`
	Unlimited       bool            `json:"unlimited,omitempty"`
	Remaining       int64           `json:"remaining"`
	WithinLimit     bool            `json:"within_limit"`
	UsagePercentage decimal.Decimal `json:"usage_percentage"`
}

// Report maps resource type to its status.
type Report map[string]Status

// Exceeded lists the resources over their allowance.
func (r Report) Exceeded() []string {
	var out []string
	for res, s := range r {
		if !s.WithinLimit {
			out = append(out, res)
		}
	}
	return out
}
