// Package analytics provides read-only purchase reporting derived from the
// order store.
package analytics

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

const dayFormat = "2006-01-02"

// Overview is the all-time purchase summary. Revenue is in major currency
// units.
type Overview struct {
	TotalOrders  int64
	TotalRevenue decimal.Decimal
}

// DailyPoint is one day's order count and revenue (major units).
type DailyPoint struct {
	Date    string
	Orders  int64
	Revenue decimal.Decimal
}

// Store provides the aggregate queries behind the reports. DailySales only
// returns days that have at least one order.
type Store interface {
	Overview(ctx context.Context) (Overview, error)
	DailySales(ctx context.Context, from, to time.Time) ([]DailyPoint, error)
}

// Service fills the gaps the store leaves out: days without sales appear as
// zero points so charts render a continuous range.
type Service struct {
	store Store
}

// NewService creates the analytics service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Overview returns the all-time summary.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	return s.store.Overview(ctx)
}

// DailySales returns one point per calendar day in [from, to], inclusive,
// with zero-filled entries for days without orders.
func (s *Service) DailySales(ctx context.Context, from, to time.Time) ([]DailyPoint, error) {
	if to.Before(from) {
		return nil, errors.New("date range end precedes start")
	}

	points, err := s.store.DailySales(ctx, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "query daily sales")
	}

	byDate := make(map[string]DailyPoint, len(points))
	for _, p := range points {
		byDate[p.Date] = p
	}

	var out []DailyPoint
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		key := d.Format(dayFormat)
		if p, ok := byDate[key]; ok {
			out = append(out, p)
			continue
		}
		out = append(out, DailyPoint{Date: key, Revenue: decimal.Zero})
	}
	return out, nil
}
