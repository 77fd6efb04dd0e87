package audit

import (
	"crypto/hmac"
	"sort"
)

// Verification is the integrity finding for a set of records.
type Verification struct {
	IsValid       bool `json:"is_valid"`
	TotalRecords  int  `json:"total_records"`
	TamperedCount int  `json:"tampered_count"`
	// BrokenLinks counts adjacent records whose sequence or prev-hash do not
	// chain. It flags omissions and reordering, which per-record hashes
	// cannot see.
	BrokenLinks int      `json:"broken_links"`
	TamperedIDs []string `json:"tampered_ids,omitempty"`
}

// Verify recomputes every record's hashes and checks the chain between
// neighbours. Records are ordered by sequence first; the input slice is not
// modified. A nil entry counts as tampered and takes no part in the chain.
func Verify(records []*Record, key []byte) Verification {
	v := Verification{TotalRecords: len(records)}
	sorted := make([]*Record, 0, len(records))
	for _, r := range records {
		if r == nil {
			v.TamperedCount++
			continue
		}
		sorted = append(sorted, r)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	for i, r := range sorted {
		if !r.intact(key) {
			v.TamperedCount++
			v.TamperedIDs = append(v.TamperedIDs, r.ID.String())
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if r.Sequence != prev.Sequence+1 || r.PrevHash != prev.Hash {
			v.BrokenLinks++
		}
	}
	v.IsValid = v.TamperedCount == 0 && v.BrokenLinks == 0
	return v
}

func (r *Record) intact(key []byte) bool {
	if !hmac.Equal([]byte(r.ComputeIntentHash()), []byte(r.IntentHash)) {
		return false
	}
	return hmac.Equal([]byte(r.ComputeHash(key)), []byte(r.Hash))
}
