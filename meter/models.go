// Package meter records resource usage and prices it against plan
// allowances.
package meter

import (
	"time"

	"github.com/xraph/tally/id"
)

// UsageRecord is one append-only usage observation.
type UsageRecord struct {
	ID           id.UsageID `json:"id"`
	AccountID    string     `json:"account_id"`
	ResourceType string     `json:"resource_type"`
	Quantity     int64      `json:"quantity"`
	Timestamp    time.Time  `json:"timestamp"`
	RecordedAt   time.Time  `json:"recorded_at"`
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}
