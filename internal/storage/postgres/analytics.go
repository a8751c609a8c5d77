package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/emberline/checkout-api/internal/domain/analytics"
)

const (
	overviewSQL = `SELECT COUNT(*), COALESCE(SUM(total_amount), 0)::numeric / 100
		FROM orders`

	dailySalesSQL = `SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
			COUNT(*),
			SUM(total_amount)::numeric / 100
		FROM orders
		WHERE created_at >= $1 AND created_at <= $2
		GROUP BY day
		ORDER BY day`
)

var _ analytics.Store = (*AnalyticsStore)(nil)

// AnalyticsStore implements analytics.Store with aggregate queries over the
// orders table. Revenue converts minor-unit BIGINT sums to major units as
// NUMERIC, scanned into decimal.Decimal.
type AnalyticsStore struct {
	pool *pgxpool.Pool
}

// NewAnalyticsStore returns an AnalyticsStore that uses the given pool.
func NewAnalyticsStore(pool *pgxpool.Pool) *AnalyticsStore {
	return &AnalyticsStore{pool: pool}
}

// Overview returns the all-time order count and revenue.
func (s *AnalyticsStore) Overview(ctx context.Context) (analytics.Overview, error) {
	var out analytics.Overview
	err := s.pool.QueryRow(ctx, overviewSQL).Scan(&out.TotalOrders, &out.TotalRevenue)
	if err != nil {
		return analytics.Overview{}, errors.Wrap(err, "query overview")
	}
	return out, nil
}

// DailySales returns per-day aggregates for days that have orders in
// [from, to]. Gap days are filled in by the analytics service, not here.
func (s *AnalyticsStore) DailySales(ctx context.Context, from, to time.Time) ([]analytics.DailyPoint, error) {
	rows, err := s.pool.Query(ctx, dailySalesSQL, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "query daily sales")
	}

	points, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (analytics.DailyPoint, error) {
		var (
			p       analytics.DailyPoint
			revenue decimal.Decimal
		)
		if err := row.Scan(&p.Date, &p.Orders, &revenue); err != nil {
			return p, err
		}
		p.Revenue = revenue
		return p, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect daily sales")
	}
	return points, nil
}
