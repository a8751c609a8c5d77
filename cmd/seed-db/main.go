// Command seed-db runs migrations and grants demo coupons so a fresh
// environment has something to check out with.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"

	"github.com/emberline/checkout-api/internal/domain/coupon"
	"github.com/emberline/checkout-api/internal/storage/postgres"
)

type grantJSON struct {
	OwnerID         string `json:"ownerId"`
	Code            string `json:"code"`
	DiscountPercent int    `json:"discountPercent"`
	ValidDays       int    `json:"validDays"`
}

func main() {
	var (
		databaseURL string
		grantsFile  string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&grantsFile, "grants-file", "db/seed/coupons.json", "path to coupon grants JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, grantsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, grantsFile string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCoupons(ctx, postgres.NewCouponStore(pool), grantsFile); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	return nil
}

func seedCoupons(ctx context.Context, store coupon.Store, grantsFile string) error {
	slog.Info("reading grants file", slog.String("path", grantsFile))

	data, err := os.ReadFile(grantsFile)
	if err != nil {
		return errors.Wrap(err, "read grants file")
	}

	var grants []grantJSON
	if err := json.Unmarshal(data, &grants); err != nil {
		return errors.Wrap(err, "parse grants JSON")
	}

	slog.Info("granting coupons", slog.Int("count", len(grants)))

	now := time.Now()
	for _, g := range grants {
		if g.OwnerID == "" || g.Code == "" {
			return errors.Errorf("grant missing ownerId or code: %+v", g)
		}
		if g.DiscountPercent <= 0 || g.DiscountPercent > 100 {
			return errors.Errorf("grant %s has invalid discountPercent %d", g.Code, g.DiscountPercent)
		}
		days := g.ValidDays
		if days <= 0 {
			days = 30
		}

		c := &coupon.Coupon{
			Code:            g.Code,
			OwnerID:         g.OwnerID,
			DiscountPercent: g.DiscountPercent,
			Active:          true,
			ExpiresAt:       now.AddDate(0, 0, days),
			CreatedAt:       now,
		}
		if err := store.ReplaceForOwner(ctx, c); err != nil {
			return errors.Wrapf(err, "grant coupon %s to %s", g.Code, g.OwnerID)
		}

		slog.Info("granted coupon",
			slog.String("code", g.Code),
			slog.String("owner", g.OwnerID),
			slog.Int("percent", g.DiscountPercent),
		)
	}

	return nil
}
