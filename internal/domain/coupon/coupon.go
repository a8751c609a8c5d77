package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when no active coupon exists for a (code, owner) pair.
	ErrNotFound = errors.New("coupon not found")
	// ErrNotApplicable is returned when a coupon exists but cannot be applied:
	// it is inactive, expired, or belongs to a different owner.
	ErrNotApplicable = errors.New("coupon not applicable")
	// ErrCodeCollision is returned by stores when inserting a coupon whose code
	// already exists for the owner.
	ErrCodeCollision = errors.New("coupon code collision")
)

// Coupon is a promotional discount owned by a single user. At most one coupon
// per owner is active at any time.
type Coupon struct {
	Code            string
	OwnerID         string
	DiscountPercent int
	Active          bool
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// Usable reports whether the coupon can discount a purchase by ownerID at
// the given instant.
func (c *Coupon) Usable(ownerID string, now time.Time) bool {
	return c.Active && c.OwnerID == ownerID && now.Before(c.ExpiresAt)
}

// Store provides durable coupon state. Deactivate is idempotent;
// ReplaceForOwner atomically removes any prior coupon for the owner before
// inserting the new one, so the single-active-coupon invariant never relies
// on read-then-write application logic.
type Store interface {
	FindActive(ctx context.Context, code, ownerID string) (*Coupon, error)
	Deactivate(ctx context.Context, code, ownerID string) error
	ReplaceForOwner(ctx context.Context, c *Coupon) error
}
