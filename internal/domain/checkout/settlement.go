package checkout

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emberline/checkout-api/internal/domain/coupon"
	"github.com/emberline/checkout-api/internal/domain/order"
	"github.com/emberline/checkout-api/internal/payment"
)

// PersistenceError indicates the order write (or coupon deactivation) failed
// during settlement. The coupon may already be deactivated without an order
// row existing; the session metadata is logged in full so the settlement can
// be replayed. Retrying the confirmation is safe: the idempotency key guards
// re-entry.
type PersistenceError struct {
	SessionID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("settle session %s: %v", e.SessionID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SettlementResult is the outcome of a confirmation attempt. Paid=false is a
// benign terminal state (the buyer has not completed payment); the caller
// may poll again later.
type SettlementResult struct {
	Paid           bool
	OrderID        string
	AlreadySettled bool
}

// Settler confirms checkout sessions against the processor and performs the
// exactly-once settlement transition: deactivate the redeemed coupon, then
// persist the order.
type Settler struct {
	processor payment.Processor
	coupons   coupon.Store
	orders    order.Store
}

// NewSettler creates a settlement handler.
func NewSettler(processor payment.Processor, coupons coupon.Store, orders order.Store) *Settler {
	return &Settler{
		processor: processor,
		coupons:   coupons,
		orders:    orders,
	}
}

// Confirm drives the settlement state machine for one session:
//
//	PENDING -> NOT_PAID            processor status is anything but "paid"
//	PENDING -> ORDER_CREATED       coupon deactivated, order persisted
//
// The order's line items come strictly from the session metadata snapshot,
// never from live catalog state, and the total is the processor-reported
// paid amount. Calling Confirm twice for the same session returns the same
// order ID and creates exactly one order.
func (s *Settler) Confirm(ctx context.Context, sessionID string) (*SettlementResult, error) {
	lg := zctx.From(ctx)

	sess, err := s.processor.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "retrieve session")
	}

	if sess.PaymentStatus != payment.StatusPaid {
		lg.Debug("Session not paid yet",
			zap.String("session_id", sessionID),
			zap.String("status", sess.PaymentStatus),
		)
		return &SettlementResult{Paid: false}, nil
	}

	// Fast path for webhook redelivery: already settled, nothing to mutate.
	if existing, err := s.orders.FindBySession(ctx, sessionID); err == nil {
		return &SettlementResult{Paid: true, OrderID: existing.ID, AlreadySettled: true}, nil
	} else if !errors.Is(err, order.ErrNotFound) {
		return nil, errors.Wrap(err, "look up existing order")
	}

	meta, err := ParseMetadata(sess.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "parse session metadata")
	}

	// Deactivation is idempotent and scoped to (code, owner); an already
	// inactive coupon is a no-op.
	if meta.CouponCode != "" {
		if err := s.coupons.Deactivate(ctx, meta.CouponCode, meta.OwnerID); err != nil {
			return nil, &PersistenceError{SessionID: sessionID, Err: errors.Wrap(err, "deactivate coupon")}
		}
	}

	o := &order.Order{
		ID:               uuid.New().String(),
		OwnerID:          meta.OwnerID,
		Items:            meta.Items,
		TotalAmount:      sess.AmountTotal,
		PaymentSessionID: sessionID,
	}

	created, stored, err := s.orders.InsertIfAbsent(ctx, o)
	if err != nil {
		// The coupon may already be deactivated here; there is no cross-store
		// transaction. Log the full snapshot so the order can be replayed.
		lg.Error("Order write failed after coupon deactivation",
			zap.String("session_id", sessionID),
			zap.String("owner_id", meta.OwnerID),
			zap.String("coupon_code", meta.CouponCode),
			zap.Int64("amount_paid", sess.AmountTotal),
			zap.Any("items", meta.Items),
			zap.Error(err),
		)
		return nil, &PersistenceError{SessionID: sessionID, Err: err}
	}

	if created {
		lg.Info("Order created",
			zap.String("order_id", stored.ID),
			zap.String("session_id", sessionID),
			zap.Int64("total_amount", stored.TotalAmount),
		)
	}

	return &SettlementResult{
		Paid:           true,
		OrderID:        stored.ID,
		AlreadySettled: !created,
	}, nil
}
