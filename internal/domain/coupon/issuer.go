package coupon

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

const (
	// LoyaltyDiscountPercent is the discount granted on loyalty coupons.
	LoyaltyDiscountPercent = 10
	// LoyaltyValidity is how long a freshly issued loyalty coupon stays valid.
	LoyaltyValidity = 30 * 24 * time.Hour

	codePrefix    = "GIFT"
	codeSuffixLen = 6
	codeAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	maxIssueAttempts = 3
)

// IssuanceError indicates loyalty coupon issuance gave up after exhausting
// its code-generation retries. It never fails the surrounding checkout flow;
// callers log it and move on.
type IssuanceError struct {
	OwnerID  string
	Attempts int
	Err      error
}

func (e *IssuanceError) Error() string {
	return fmt.Sprintf("issue loyalty coupon for owner %s: gave up after %d attempts: %v", e.OwnerID, e.Attempts, e.Err)
}

func (e *IssuanceError) Unwrap() error { return e.Err }

// Issuer mints loyalty coupons for qualifying purchases. Issuing replaces any
// coupon the owner already holds.
type Issuer struct {
	store Store
	now   func() time.Time
}

// NewIssuer creates an Issuer backed by the given Store.
func NewIssuer(store Store) *Issuer {
	return &Issuer{store: store, now: time.Now}
}

// Issue mints a new active coupon for ownerID, superseding any existing one.
// On a code collision it retries with a fresh random suffix; after
// maxIssueAttempts it returns an *IssuanceError.
func (i *Issuer) Issue(ctx context.Context, ownerID string) (*Coupon, error) {
	var lastErr error
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		now := i.now()
		c := &Coupon{
			Code:            NewCode(codePrefix),
			OwnerID:         ownerID,
			DiscountPercent: LoyaltyDiscountPercent,
			Active:          true,
			ExpiresAt:       now.Add(LoyaltyValidity),
			CreatedAt:       now,
		}

		err := i.store.ReplaceForOwner(ctx, c)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrCodeCollision) {
			return nil, errors.Wrap(err, "replace coupon")
		}
		lastErr = err
	}

	return nil, &IssuanceError{OwnerID: ownerID, Attempts: maxIssueAttempts, Err: lastErr}
}

// NewCode returns prefix followed by codeSuffixLen random characters from
// codeAlphabet, already case-normalized (the alphabet is uppercase only).
func NewCode(prefix string) string {
	buf := make([]byte, codeSuffixLen)
	// crypto/rand.Read never fails on supported platforms.
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return prefix + string(buf)
}
