// Package audit keeps a tamper-evident, hash-chained log of every mutating
// billing operation and verifies it after the fact.
package audit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/xraph/tally/id"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Route values record which store served the operation.
const (
	RouteProcessed             = "processed"
	RouteProcessedWithFailover = "processed_with_failover"
)

// Record is one audit entry. Hash covers every other field; IntentHash
// covers only what was known before the operation ran.
type Record struct {
	ID          id.AuditID      `json:"id"`
	Sequence    int64           `json:"sequence"`
	Operation   string          `json:"operation"`
	AccountID   string          `json:"account_id"`
	Params      json.RawMessage `json:"params"`
	Timestamp   time.Time       `json:"timestamp"`
	IntentHash  string          `json:"intent_hash"`
	Status      Status          `json:"status"`
	Route       string          `json:"route"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
	PrevHash    string          `json:"prev_hash"`
	Hash        string          `json:"hash"`
}

// Store is the append-only sink for records.
type Store interface {
	AppendAudit(ctx context.Context, rec *Record) error
	// LastAudit returns the record with the highest sequence, or nil when
	// the log is empty.
	LastAudit(ctx context.Context) (*Record, error)
	ListAudit(ctx context.Context, opts ListOpts) ([]*Record, error)
	CountAuditSince(ctx context.Context, since time.Time) (int64, error)
}

type ListOpts struct {
	AccountID     string
	AfterSequence int64
	Since         time.Time
	Limit         int
}

// Timestamps are kept at millisecond precision so that every backend
// returns them unchanged.
const precision = time.Millisecond

func stamp(t time.Time) time.Time { return t.UTC().Truncate(precision) }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Canonical encodes v as JSON with object keys sorted at every level and
// no insignificant whitespace. nil encodes as null.
func Canonical(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return canonicalize(raw)
}

func canonicalize(raw []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

type field struct {
	name  string
	value any
}

// encode serializes an explicitly ordered field list as a JSON array of
// [name, value] pairs.
func encode(fields []field) []byte {
	pairs := make([][2]any, len(fields))
	for i, f := range fields {
		pairs[i] = [2]any{f.name, f.value}
	}
	out, _ := json.Marshal(pairs) //nolint:errcheck // values are strings, ints and canonical raw JSON
	return out
}

func rawOrNull(r json.RawMessage) json.RawMessage {
	if len(r) == 0 {
		return json.RawMessage("null")
	}
	return r
}

func (r *Record) intentFields() []field {
	return []field{
		{"operation", r.Operation},
		{"params", rawOrNull(r.Params)},
		{"account_id", r.AccountID},
		{"timestamp", formatTime(r.Timestamp)},
	}
}

func (r *Record) fields() []field {
	return []field{
		{"id", r.ID.String()},
		{"sequence", r.Sequence},
		{"operation", r.Operation},
		{"account_id", r.AccountID},
		{"params", rawOrNull(r.Params)},
		{"timestamp", formatTime(r.Timestamp)},
		{"intent_hash", r.IntentHash},
		{"status", string(r.Status)},
		{"route", r.Route},
		{"result", rawOrNull(r.Result)},
		{"error_kind", r.ErrorKind},
		{"error", r.Error},
		{"completed_at", formatTime(r.CompletedAt)},
		{"prev_hash", r.PrevHash},
	}
}

// ComputeIntentHash is SHA-256 over operation, params, account and timestamp.
func (r *Record) ComputeIntentHash() string {
	sum := sha256.Sum256(encode(r.intentFields()))
	return hex.EncodeToString(sum[:])
}

// ComputeHash digests every non-hash field. With a key it is an HMAC.
func (r *Record) ComputeHash(key []byte) string {
	data := encode(r.fields())
	if len(key) > 0 {
		mac := hmac.New(sha256.New, key)
		mac.Write(data)
		return hex.EncodeToString(mac.Sum(nil))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := *r
	c.Params = append(json.RawMessage(nil), r.Params...)
	c.Result = append(json.RawMessage(nil), r.Result...)
	return &c
}
