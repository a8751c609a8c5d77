package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when no order exists for the given key.
var ErrNotFound = errors.New("order not found")

// Item is a purchased line item, snapshotted at checkout time. Unit prices
// are in minor currency units.
type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Order is an immutable record of a settled purchase. PaymentSessionID is
// unique: it is the idempotency key guarding against duplicate settlement.
type Order struct {
	ID               string
	OwnerID          string
	Items            []Item
	TotalAmount      int64
	PaymentSessionID string
	CreatedAt        time.Time
}

// Store provides durable, append-only order persistence.
//
// InsertIfAbsent persists o unless an order with the same PaymentSessionID
// already exists; in that case it returns created=false and the stored order.
// A uniqueness conflict is therefore "already settled", never an error.
type Store interface {
	InsertIfAbsent(ctx context.Context, o *Order) (created bool, stored *Order, err error)
	FindBySession(ctx context.Context, sessionID string) (*Order, error)
}
