package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emberline/checkout-api/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, owner_id, items, total_amount, payment_session_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (payment_session_id) DO NOTHING`

	findOrderBySessionSQL = `SELECT id, owner_id, items, total_amount, payment_session_id, created_at
		FROM orders WHERE payment_session_id = $1`
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store backed by PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// InsertIfAbsent persists o keyed on its payment session ID. When another
// settlement won the race, the insert is a no-op and the stored order is
// fetched and returned with created=false.
func (s *OrderStore) InsertIfAbsent(ctx context.Context, o *order.Order) (bool, *order.Order, error) {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return false, nil, errors.Wrap(err, "marshal order items")
	}

	tag, err := s.pool.Exec(ctx, insertOrderSQL,
		o.ID, o.OwnerID, itemsJSON, o.TotalAmount, o.PaymentSessionID,
	)
	if err != nil {
		return false, nil, errors.Wrapf(err, "insert order %q", o.ID)
	}

	stored, err := s.FindBySession(ctx, o.PaymentSessionID)
	if err != nil {
		return false, nil, errors.Wrapf(err, "load order for session %q", o.PaymentSessionID)
	}

	return tag.RowsAffected() == 1, stored, nil
}

// FindBySession returns the order settled for the given payment session, or
// order.ErrNotFound.
func (s *OrderStore) FindBySession(ctx context.Context, sessionID string) (*order.Order, error) {
	rows, err := s.pool.Query(ctx, findOrderBySessionSQL, sessionID)
	if err != nil {
		return nil, errors.Wrapf(err, "find order for session %q", sessionID)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find order for session %q", sessionID)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		itemsJSON []byte
	)
	if err := row.Scan(&o.ID, &o.OwnerID, &itemsJSON, &o.TotalAmount, &o.PaymentSessionID, &o.CreatedAt); err != nil {
		return o, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, errors.Wrap(err, "unmarshal order items")
	}
	return o, nil
}
