package checkout

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/emberline/checkout-api/internal/domain/coupon"
)

// ErrEmptyItems is returned when a cart contains no line items.
var ErrEmptyItems = errors.New("items required")

// InvalidItemError indicates a line item with a negative unit price or a
// non-positive quantity.
type InvalidItemError struct {
	ProductID string
	Reason    string
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("invalid item %s: %s", e.ProductID, e.Reason)
}

// LineItem is a client-supplied cart line. UnitPrice is in minor currency
// units; it is never persisted standalone.
type LineItem struct {
	ProductID string
	Name      string
	UnitPrice int64
	Quantity  int
	Image     string
}

// Total computes the amount to charge in minor units.
//
// The sum is exact integer arithmetic; the discount is
// round(total * percent / 100) with halves rounding up, and the result is
// clamped at zero. For identical inputs the output is always identical.
//
// A non-nil coupon must be active, unexpired at now, and owned by ownerID;
// otherwise Total fails with coupon.ErrNotApplicable and the caller decides
// whether to drop the coupon or reject the request.
func Total(items []LineItem, c *coupon.Coupon, ownerID string, now time.Time) (int64, error) {
	if len(items) == 0 {
		return 0, ErrEmptyItems
	}

	var total int64
	for _, item := range items {
		if item.UnitPrice < 0 {
			return 0, &InvalidItemError{ProductID: item.ProductID, Reason: "negative unit price"}
		}
		if item.Quantity < 1 {
			return 0, &InvalidItemError{ProductID: item.ProductID, Reason: "quantity must be at least 1"}
		}
		total += item.UnitPrice * int64(item.Quantity)
	}

	if c == nil {
		return total, nil
	}
	if !c.Usable(ownerID, now) {
		return 0, coupon.ErrNotApplicable
	}

	total -= (total*int64(c.DiscountPercent) + 50) / 100
	if total < 0 {
		total = 0
	}
	return total, nil
}
