// Package payment defines the external payment processor contract consumed by
// the checkout core, plus a Stripe-compatible implementation.
package payment

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrUnavailable indicates the payment processor is unreachable or
// misconfigured. It is a service-level failure, never the caller's fault,
// and is safe to retry.
var ErrUnavailable = errors.New("payment service unavailable")

// StatusPaid is the processor-reported status of a completed payment.
const StatusPaid = "paid"

// LineItem describes a cart line for display on the hosted checkout page.
// UnitAmount is in minor currency units.
type LineItem struct {
	Name       string
	UnitAmount int64
	Quantity   int
	ImageURL   string
}

// CreateSessionParams carries everything needed to open a checkout session.
// Metadata is stored verbatim by the processor and returned unchanged by
// RetrieveSession; it is the only cross-step state carrier in the flow.
type CreateSessionParams struct {
	Items       []LineItem
	DiscountRef string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

// Session is the processor's view of a checkout session. AmountTotal is the
// amount actually charged, in minor units, and is authoritative over any
// client-computed figure.
type Session struct {
	ID            string
	PaymentStatus string
	AmountTotal   int64
	Metadata      map[string]string
}

// Processor is the external payment service contract.
type Processor interface {
	CreateCheckoutSession(ctx context.Context, p CreateSessionParams) (*Session, error)
	RetrieveSession(ctx context.Context, id string) (*Session, error)
	// CreateDiscount registers a one-off percentage discount with the
	// processor and returns its reference for use in a session.
	CreateDiscount(ctx context.Context, percent int) (string, error)
}

// Disabled is a Processor used when no payment credentials are configured.
// Every call fails with ErrUnavailable, so the API answers 503 instead of
// the service refusing to boot.
type Disabled struct{}

var _ Processor = Disabled{}

func (Disabled) CreateCheckoutSession(context.Context, CreateSessionParams) (*Session, error) {
	return nil, errors.Wrap(ErrUnavailable, "payment processor not configured")
}

func (Disabled) RetrieveSession(context.Context, string) (*Session, error) {
	return nil, errors.Wrap(ErrUnavailable, "payment processor not configured")
}

func (Disabled) CreateDiscount(context.Context, int) (string, error) {
	return "", errors.Wrap(ErrUnavailable, "payment processor not configured")
}
