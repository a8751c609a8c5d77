package checkout

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberline/checkout-api/internal/domain/order"
	"github.com/emberline/checkout-api/internal/payment"
)

// --- Mock implementations ---

type mockOrderStore struct {
	bySession map[string]*order.Order
	insertErr error
	findErr   error
}

func newMockOrderStore() *mockOrderStore {
	return &mockOrderStore{bySession: make(map[string]*order.Order)}
}

func (m *mockOrderStore) InsertIfAbsent(_ context.Context, o *order.Order) (bool, *order.Order, error) {
	if m.insertErr != nil {
		return false, nil, m.insertErr
	}
	if existing, ok := m.bySession[o.PaymentSessionID]; ok {
		return false, existing, nil
	}
	m.bySession[o.PaymentSessionID] = o
	return true, o, nil
}

func (m *mockOrderStore) FindBySession(_ context.Context, sessionID string) (*order.Order, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	o, ok := m.bySession[sessionID]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

// --- Helpers ---

func paidSession(id string, amount int64, meta map[string]string) *payment.Session {
	return &payment.Session{
		ID:            id,
		PaymentStatus: payment.StatusPaid,
		AmountTotal:   amount,
		Metadata:      meta,
	}
}

func testMetadata(couponCode string) map[string]string {
	return BuildMetadata("u1", couponCode, []LineItem{
		{ProductID: "p1", UnitPrice: 10000, Quantity: 1},
	})
}

// --- Tests ---

func TestConfirm_NotPaid(t *testing.T) {
	store := storeWith()
	orders := newMockOrderStore()
	proc := &mockProcessor{sessions: map[string]*payment.Session{
		"cs_1": {ID: "cs_1", PaymentStatus: "unpaid"},
	}}
	settler := NewSettler(proc, store, orders)

	result, err := settler.Confirm(context.Background(), "cs_1")

	require.NoError(t, err)
	assert.False(t, result.Paid)
	assert.Empty(t, result.OrderID)
	assert.Empty(t, store.deactivated)
	assert.Empty(t, orders.bySession)
}

func TestConfirm_CreatesOrder(t *testing.T) {
	c := activeCoupon("u1", 10)
	store := storeWith(c)
	orders := newMockOrderStore()
	proc := &mockProcessor{sessions: map[string]*payment.Session{
		"cs_1": paidSession("cs_1", 9000, testMetadata(c.Code)),
	}}
	settler := NewSettler(proc, store, orders)

	result, err := settler.Confirm(context.Background(), "cs_1")

	require.NoError(t, err)
	assert.True(t, result.Paid)
	assert.False(t, result.AlreadySettled)
	assert.NotEmpty(t, result.OrderID)

	assert.Equal(t, []string{c.Code}, store.deactivated)

	stored := orders.bySession["cs_1"]
	require.NotNil(t, stored)
	assert.Equal(t, "u1", stored.OwnerID)
	// The total is the processor-reported paid amount, not a recomputation.
	assert.Equal(t, int64(9000), stored.TotalAmount)
	assert.Equal(t, []order.Item{{ProductID: "p1", Quantity: 1, UnitPrice: 10000}}, stored.Items)
}

func TestConfirm_Idempotent(t *testing.T) {
	c := activeCoupon("u1", 10)
	store := storeWith(c)
	orders := newMockOrderStore()
	proc := &mockProcessor{sessions: map[string]*payment.Session{
		"cs_1": paidSession("cs_1", 9000, testMetadata(c.Code)),
	}}
	settler := NewSettler(proc, store, orders)

	first, err := settler.Confirm(context.Background(), "cs_1")
	require.NoError(t, err)

	second, err := settler.Confirm(context.Background(), "cs_1")
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.True(t, second.AlreadySettled)
	assert.Len(t, orders.bySession, 1)
	// Deactivation runs once: the fast path short-circuits the replay.
	assert.Equal(t, []string{c.Code}, store.deactivated)
}

func TestConfirm_InsertRaceReturnsWinner(t *testing.T) {
	// Simulates two concurrent confirmations: the lookup misses but the
	// insert lands on an existing row.
	store := storeWith()
	orders := newMockOrderStore()
	winner := &order.Order{ID: "order-winner", PaymentSessionID: "cs_1"}
	orders.bySession["cs_1"] = winner
	orders.findErr = order.ErrNotFound
	proc := &mockProcessor{sessions: map[string]*payment.Session{
		"cs_1": paidSession("cs_1", 9000, testMetadata("")),
	}}
	settler := NewSettler(proc, store, orders)

	result, err := settler.Confirm(context.Background(), "cs_1")

	require.NoError(t, err)
	assert.True(t, result.AlreadySettled)
	assert.Equal(t, "order-winner", result.OrderID)
}

func TestConfirm_NoCouponSkipsDeactivation(t *testing.T) {
	store := storeWith()
	orders := newMockOrderStore()
	proc := &mockProcessor{sessions: map[string]*payment.Session{
		"cs_1": paidSession("cs_1", 10000, testMetadata("")),
	}}
	settler := NewSettler(proc, store, orders)

	result, err := settler.Confirm(context.Background(), "cs_1")

	require.NoError(t, err)
	assert.True(t, result.Paid)
	assert.Empty(t, store.deactivated)
}

func TestConfirm_OrderWriteFailure(t *testing.T) {
	c := activeCoupon("u1", 10)
	store := storeWith(c)
	orders := newMockOrderStore()
	orders.insertErr = errors.New("db write failed")
	proc := &mockProcessor{sessions: map[string]*payment.Session{
		"cs_1": paidSession("cs_1", 9000, testMetadata(c.Code)),
	}}
	settler := NewSettler(proc, store, orders)

	_, err := settler.Confirm(context.Background(), "cs_1")

	var pErr *PersistenceError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "cs_1", pErr.SessionID)
}

func TestConfirm_DeactivationFailure(t *testing.T) {
	c := activeCoupon("u1", 10)
	store := storeWith(c)
	store.deactivateErr = errors.New("db write failed")
	orders := newMockOrderStore()
	proc := &mockProcessor{sessions: map[string]*payment.Session{
		"cs_1": paidSession("cs_1", 9000, testMetadata(c.Code)),
	}}
	settler := NewSettler(proc, store, orders)

	_, err := settler.Confirm(context.Background(), "cs_1")

	var pErr *PersistenceError
	require.ErrorAs(t, err, &pErr)
	assert.Empty(t, orders.bySession)
}

func TestConfirm_ProcessorFailure(t *testing.T) {
	proc := &mockProcessor{retrieveErr: payment.ErrUnavailable}
	settler := NewSettler(proc, storeWith(), newMockOrderStore())

	_, err := settler.Confirm(context.Background(), "cs_1")
	require.ErrorIs(t, err, payment.ErrUnavailable)
}

func TestConfirm_MalformedMetadata(t *testing.T) {
	proc := &mockProcessor{sessions: map[string]*payment.Session{
		"cs_1": paidSession("cs_1", 9000, map[string]string{"items": `[]`}),
	}}
	settler := NewSettler(proc, storeWith(), newMockOrderStore())

	_, err := settler.Confirm(context.Background(), "cs_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metadata")
}
