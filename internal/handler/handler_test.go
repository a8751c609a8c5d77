package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberline/checkout-api/internal/domain/analytics"
	"github.com/emberline/checkout-api/internal/domain/checkout"
	"github.com/emberline/checkout-api/internal/domain/coupon"
	"github.com/emberline/checkout-api/internal/domain/order"
	"github.com/emberline/checkout-api/internal/payment"
)

// --- Mock implementations ---

type memCouponStore struct {
	coupons map[string]*coupon.Coupon
}

func (m *memCouponStore) FindActive(_ context.Context, code, ownerID string) (*coupon.Coupon, error) {
	c, ok := m.coupons[code]
	if !ok || !c.Active || c.OwnerID != ownerID {
		return nil, coupon.ErrNotFound
	}
	return c, nil
}

func (m *memCouponStore) Deactivate(_ context.Context, code, _ string) error {
	if c, ok := m.coupons[code]; ok {
		c.Active = false
	}
	return nil
}

func (m *memCouponStore) ReplaceForOwner(_ context.Context, c *coupon.Coupon) error {
	m.coupons[c.Code] = c
	return nil
}

type memOrderStore struct {
	bySession map[string]*order.Order
	insertErr error
}

func (m *memOrderStore) InsertIfAbsent(_ context.Context, o *order.Order) (bool, *order.Order, error) {
	if m.insertErr != nil {
		return false, nil, m.insertErr
	}
	if existing, ok := m.bySession[o.PaymentSessionID]; ok {
		return false, existing, nil
	}
	m.bySession[o.PaymentSessionID] = o
	return true, o, nil
}

func (m *memOrderStore) FindBySession(_ context.Context, sessionID string) (*order.Order, error) {
	o, ok := m.bySession[sessionID]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

type stubProcessor struct {
	sessions  map[string]*payment.Session
	createErr error
}

func (m *stubProcessor) CreateCheckoutSession(_ context.Context, p payment.CreateSessionParams) (*payment.Session, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	sess := &payment.Session{ID: "cs_test_1", PaymentStatus: "unpaid", Metadata: p.Metadata}
	m.sessions[sess.ID] = sess
	return sess, nil
}

func (m *stubProcessor) RetrieveSession(_ context.Context, id string) (*payment.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.New("unknown session")
	}
	return s, nil
}

func (m *stubProcessor) CreateDiscount(context.Context, int) (string, error) {
	return "disc_1", nil
}

type stubAnalytics struct {
	overview analytics.Overview
	daily    []analytics.DailyPoint
}

func (m *stubAnalytics) Overview(context.Context) (analytics.Overview, error) {
	return m.overview, nil
}

func (m *stubAnalytics) DailySales(context.Context, time.Time, time.Time) ([]analytics.DailyPoint, error) {
	return m.daily, nil
}

// --- Helpers ---

type fixture struct {
	mux     *http.ServeMux
	coupons *memCouponStore
	orders  *memOrderStore
	proc    *stubProcessor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	coupons := &memCouponStore{coupons: make(map[string]*coupon.Coupon)}
	orders := &memOrderStore{bySession: make(map[string]*order.Order)}
	proc := &stubProcessor{sessions: make(map[string]*payment.Session)}

	svc := checkout.NewService(coupons, coupon.NewIssuer(coupons), proc, checkout.SessionConfig{
		SuccessURL: "https://shop.test/success",
		CancelURL:  "https://shop.test/cancel",
	})
	settler := checkout.NewSettler(proc, coupons, orders)
	analyticsSvc := analytics.NewService(&stubAnalytics{
		overview: analytics.Overview{TotalOrders: 3, TotalRevenue: decimal.RequireFromString("120.50")},
	})

	mux := http.NewServeMux()
	New(svc, settler, analyticsSvc).Register(mux)

	return &fixture{mux: mux, coupons: coupons, orders: orders, proc: proc}
}

func (f *fixture) request(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

// --- Tests ---

func TestCreateSession_OK(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodPost, "/api/checkout/session", "u1",
		`{"items":[{"productId":"p1","name":"Widget","unitPrice":2500,"quantity":2}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[createSessionResponse](t, rec)
	assert.Equal(t, "cs_test_1", resp.SessionID)
	assert.Equal(t, "50.00", resp.TotalAmount)
}

func TestCreateSession_MissingIdentity(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodPost, "/api/checkout/session", "",
		`{"items":[{"productId":"p1","unitPrice":100,"quantity":1}]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSession_MalformedBody(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodPost, "/api/checkout/session", "u1", `{"items":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSession_EmptyItems(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodPost, "/api/checkout/session", "u1", `{"items":[]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[errorResponse](t, rec)
	assert.Contains(t, resp.Message, "item")
}

func TestCreateSession_InvalidItem(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodPost, "/api/checkout/session", "u1",
		`{"items":[{"productId":"p1","unitPrice":-5,"quantity":1}]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSession_PaymentUnavailable(t *testing.T) {
	f := newFixture(t)
	f.proc.createErr = payment.ErrUnavailable

	rec := f.request(t, http.MethodPost, "/api/checkout/session", "u1",
		`{"items":[{"productId":"p1","unitPrice":100,"quantity":1}]}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestConfirm_NotPaid(t *testing.T) {
	f := newFixture(t)
	f.request(t, http.MethodPost, "/api/checkout/session", "u1",
		`{"items":[{"productId":"p1","name":"Widget","unitPrice":2500,"quantity":2}]}`)

	rec := f.request(t, http.MethodPost, "/api/checkout/confirm", "u1", `{"sessionId":"cs_test_1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[confirmResponse](t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "not_paid", resp.Reason)
	assert.Empty(t, resp.OrderID)
}

func TestConfirm_Paid(t *testing.T) {
	f := newFixture(t)
	f.request(t, http.MethodPost, "/api/checkout/session", "u1",
		`{"items":[{"productId":"p1","name":"Widget","unitPrice":2500,"quantity":2}]}`)

	sess := f.proc.sessions["cs_test_1"]
	sess.PaymentStatus = payment.StatusPaid
	sess.AmountTotal = 5000

	rec := f.request(t, http.MethodPost, "/api/checkout/confirm", "u1", `{"sessionId":"cs_test_1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[confirmResponse](t, rec)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.OrderID)

	stored := f.orders.bySession["cs_test_1"]
	require.NotNil(t, stored)
	assert.Equal(t, int64(5000), stored.TotalAmount)
}

func TestConfirm_DoubleConfirmSameOrder(t *testing.T) {
	f := newFixture(t)
	f.request(t, http.MethodPost, "/api/checkout/session", "u1",
		`{"items":[{"productId":"p1","name":"Widget","unitPrice":2500,"quantity":2}]}`)

	sess := f.proc.sessions["cs_test_1"]
	sess.PaymentStatus = payment.StatusPaid
	sess.AmountTotal = 5000

	first := decodeBody[confirmResponse](t,
		f.request(t, http.MethodPost, "/api/checkout/confirm", "u1", `{"sessionId":"cs_test_1"}`))
	second := decodeBody[confirmResponse](t,
		f.request(t, http.MethodPost, "/api/checkout/confirm", "u1", `{"sessionId":"cs_test_1"}`))

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Len(t, f.orders.bySession, 1)
}

func TestConfirm_MissingSessionID(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodPost, "/api/checkout/confirm", "u1", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfirm_PersistenceFailure(t *testing.T) {
	f := newFixture(t)
	f.request(t, http.MethodPost, "/api/checkout/session", "u1",
		`{"items":[{"productId":"p1","name":"Widget","unitPrice":2500,"quantity":2}]}`)

	sess := f.proc.sessions["cs_test_1"]
	sess.PaymentStatus = payment.StatusPaid
	f.orders.insertErr = errors.New("db write failed")

	rec := f.request(t, http.MethodPost, "/api/checkout/confirm", "u1", `{"sessionId":"cs_test_1"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeBody[errorResponse](t, rec)
	// Store failure details stay server-side.
	assert.Equal(t, "internal error", resp.Message)
}

func TestAnalyticsSummary(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodGet, "/api/analytics/summary", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[summaryResponse](t, rec)
	assert.Equal(t, int64(3), resp.TotalOrders)
	assert.Equal(t, "120.50", resp.TotalRevenue)
}

func TestAnalyticsDaily_DefaultRange(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodGet, "/api/analytics/daily", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[[]dailyPointResponse](t, rec)
	assert.Len(t, resp, 7)
}

func TestAnalyticsDaily_ExplicitRange(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodGet, "/api/analytics/daily?from=2025-06-01&to=2025-06-03", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[[]dailyPointResponse](t, rec)
	require.Len(t, resp, 3)
	assert.Equal(t, "2025-06-01", resp[0].Date)
	assert.Equal(t, "0.00", resp[0].Revenue)
}

func TestAnalyticsDaily_BadDates(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodGet, "/api/analytics/daily?from=junk", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/analytics/daily?from=2025-06-03&to=2025-06-01", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
