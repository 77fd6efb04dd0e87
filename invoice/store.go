package invoice

import (
	"context"
	"time"

	"github.com/xraph/tally/id"
)

type Store interface {
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, invID id.InvoiceID) (*Invoice, error)
	ListInvoices(ctx context.Context, opts ListOpts) ([]*Invoice, error)
	MarkInvoicePaid(ctx context.Context, invID id.InvoiceID, paidAt time.Time, paymentRef string) error
	MarkInvoiceVoided(ctx context.Context, invID id.InvoiceID, voidedAt time.Time, reason string) error
	CountInvoicesSince(ctx context.Context, since time.Time) (int64, error)
}

type ListOpts struct {
	AccountID      string
	SubscriptionID id.SubscriptionID
	Status         Status
	Limit          int
	Offset         int
}
