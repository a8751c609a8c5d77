package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/emberline/checkout-api/internal/domain/coupon"
	"github.com/emberline/checkout-api/internal/payment"
)

// DefaultLoyaltyThreshold is the minor-unit total at or above which a
// purchase earns a loyalty coupon.
const DefaultLoyaltyThreshold int64 = 20000

var minorPerMajor = decimal.NewFromInt(100)

// SessionConfig holds the non-dependency knobs of the session manager.
type SessionConfig struct {
	SuccessURL       string
	CancelURL        string
	LoyaltyThreshold int64
}

// Service orchestrates checkout session creation. It holds no state of its
// own: everything settlement needs later rides inside processor metadata, so
// instances are safe for concurrent use and horizontally scalable.
type Service struct {
	coupons   coupon.Store
	issuer    *coupon.Issuer
	processor payment.Processor
	cfg       SessionConfig
	now       func() time.Time
}

// NewService creates the checkout session manager.
func NewService(coupons coupon.Store, issuer *coupon.Issuer, processor payment.Processor, cfg SessionConfig) *Service {
	if cfg.LoyaltyThreshold <= 0 {
		cfg.LoyaltyThreshold = DefaultLoyaltyThreshold
	}
	return &Service{
		coupons:   coupons,
		issuer:    issuer,
		processor: processor,
		cfg:       cfg,
		now:       time.Now,
	}
}

// CreateSessionRequest is the input for opening a checkout session.
type CreateSessionRequest struct {
	OwnerID    string
	Items      []LineItem
	CouponCode string
}

// CreateSessionResult reports the processor session and the authoritative
// total. TotalMajor is the human-readable amount in major units.
type CreateSessionResult struct {
	SessionID      string
	TotalAmount    int64
	TotalMajor     decimal.Decimal
	CouponApplied  bool
	LoyaltyGranted bool
}

// CreateSession prices the cart, opens a processor session carrying the
// order-reconstruction snapshot, and mints a loyalty coupon for large totals.
//
// A coupon code that is unknown, expired, or not owned by the buyer is
// treated as "no coupon": the discount is simply not applied and the
// returned total reflects the undiscounted amount. Processor failures abort
// the whole operation before any store mutation.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResult, error) {
	lg := zctx.From(ctx)

	c, err := s.lookupCoupon(ctx, req.CouponCode, req.OwnerID)
	if err != nil {
		return nil, err
	}

	total, err := Total(req.Items, c, req.OwnerID, s.now())
	if errors.Is(err, coupon.ErrNotApplicable) {
		// Unusable coupon is non-fatal: price again without it.
		lg.Debug("Dropping unusable coupon", zap.String("code", req.CouponCode))
		c = nil
		total, err = Total(req.Items, nil, req.OwnerID, s.now())
	}
	if err != nil {
		return nil, err
	}

	discountRef := ""
	if c != nil {
		discountRef, err = s.processor.CreateDiscount(ctx, c.DiscountPercent)
		if err != nil {
			return nil, errors.Wrap(err, "create processor discount")
		}
	}

	couponCode := ""
	if c != nil {
		couponCode = c.Code
	}
	sess, err := s.processor.CreateCheckoutSession(ctx, payment.CreateSessionParams{
		Items:       displayItems(req.Items),
		DiscountRef: discountRef,
		SuccessURL:  s.cfg.SuccessURL,
		CancelURL:   s.cfg.CancelURL,
		Metadata:    BuildMetadata(req.OwnerID, couponCode, req.Items),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create checkout session")
	}

	// Loyalty coupons are granted at session creation, before the buyer pays.
	// An abandoned checkout therefore still earns the coupon; this matches
	// the upstream product behavior and must not be moved to settlement.
	loyaltyGranted := false
	if total >= s.cfg.LoyaltyThreshold {
		granted, err := s.issuer.Issue(ctx, req.OwnerID)
		if err != nil {
			var ie *coupon.IssuanceError
			if errors.As(err, &ie) {
				lg.Warn("Loyalty coupon issuance failed",
					zap.String("owner_id", req.OwnerID),
					zap.Error(err),
				)
			} else {
				lg.Error("Loyalty coupon store failure",
					zap.String("owner_id", req.OwnerID),
					zap.Error(err),
				)
			}
		} else {
			loyaltyGranted = true
			lg.Info("Loyalty coupon granted",
				zap.String("owner_id", req.OwnerID),
				zap.String("code", granted.Code),
			)
		}
	}

	return &CreateSessionResult{
		SessionID:      sess.ID,
		TotalAmount:    total,
		TotalMajor:     decimal.NewFromInt(total).Div(minorPerMajor),
		CouponApplied:  c != nil,
		LoyaltyGranted: loyaltyGranted,
	}, nil
}

// lookupCoupon resolves the coupon for (code, owner). A missing coupon is
// non-fatal and resolves to nil; store failures propagate.
func (s *Service) lookupCoupon(ctx context.Context, code, ownerID string) (*coupon.Coupon, error) {
	if code == "" {
		return nil, nil
	}
	c, err := s.coupons.FindActive(ctx, code, ownerID)
	if errors.Is(err, coupon.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find coupon")
	}
	return c, nil
}

func displayItems(items []LineItem) []payment.LineItem {
	out := make([]payment.LineItem, len(items))
	for i, item := range items {
		out[i] = payment.LineItem{
			Name:       item.Name,
			UnitAmount: item.UnitPrice,
			Quantity:   item.Quantity,
			ImageURL:   item.Image,
		}
	}
	return out
}
