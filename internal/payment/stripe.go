package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

const (
	// DefaultBaseURL is the Stripe API endpoint.
	DefaultBaseURL = "https://api.stripe.com"
	// DefaultTimeout bounds every processor call.
	DefaultTimeout = 10 * time.Second

	currency = "usd"
)

// StripeConfig configures the Stripe-backed Processor.
type StripeConfig struct {
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

// StripeClient implements Processor against the Stripe Checkout API.
// Requests are form-encoded, responses JSON, per the Stripe wire protocol.
type StripeClient struct {
	secretKey string
	baseURL   string
	http      *http.Client
}

var _ Processor = (*StripeClient)(nil)

// NewStripeClient creates a StripeClient. Zero-value BaseURL and Timeout fall
// back to the Stripe production endpoint and DefaultTimeout.
func NewStripeClient(cfg StripeConfig) *StripeClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &StripeClient{
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		http:      &http.Client{Timeout: cfg.Timeout},
	}
}

// stripeSession mirrors the fields of a Stripe checkout session we consume.
type stripeSession struct {
	ID            string            `json:"id"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Metadata      map[string]string `json:"metadata"`
}

type stripeCoupon struct {
	ID string `json:"id"`
}

// stripeError is the processor's error envelope. Its shape never leaks to
// callers; it is translated into the local error taxonomy.
type stripeError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateCheckoutSession opens a hosted checkout session carrying the line
// items, the optional discount reference, and the metadata snapshot.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, p CreateSessionParams) (*Session, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)

	for i, item := range p.Items {
		prefix := fmt.Sprintf("line_items[%d]", i)
		form.Set(prefix+"[price_data][currency]", currency)
		form.Set(prefix+"[price_data][product_data][name]", item.Name)
		if item.ImageURL != "" {
			form.Set(prefix+"[price_data][product_data][images][0]", item.ImageURL)
		}
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(item.UnitAmount, 10))
		form.Set(prefix+"[quantity]", strconv.Itoa(item.Quantity))
	}

	if p.DiscountRef != "" {
		form.Set("discounts[0][coupon]", p.DiscountRef)
	}

	for k, v := range p.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var sess stripeSession
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, &sess); err != nil {
		return nil, err
	}
	return sessionFromStripe(sess), nil
}

// RetrieveSession fetches the session by ID. The processor guarantees the
// metadata round-trips verbatim from CreateCheckoutSession.
func (c *StripeClient) RetrieveSession(ctx context.Context, id string) (*Session, error) {
	var sess stripeSession
	if err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(id), nil, &sess); err != nil {
		return nil, err
	}
	return sessionFromStripe(sess), nil
}

// CreateDiscount registers a single-use percentage coupon with the processor.
func (c *StripeClient) CreateDiscount(ctx context.Context, percent int) (string, error) {
	form := url.Values{}
	form.Set("percent_off", strconv.Itoa(percent))
	form.Set("duration", "once")

	var coup stripeCoupon
	if err := c.do(ctx, http.MethodPost, "/v1/coupons", form, &coup); err != nil {
		return "", err
	}
	return coup.ID, nil
}

func (c *StripeClient) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Network failure or timeout: the processor is unreachable.
		return errors.Wrapf(ErrUnavailable, "%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return c.translateError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// translateError maps the processor's error envelope onto the local taxonomy.
// Authentication and connectivity classes become ErrUnavailable; everything
// else surfaces as a generic processor error with a stable message.
func (c *StripeClient) translateError(resp *http.Response) error {
	var se stripeError
	_ = json.NewDecoder(resp.Body).Decode(&se)

	switch {
	case resp.StatusCode == http.StatusUnauthorized,
		se.Error.Type == "api_connection_error",
		se.Error.Type == "api_error",
		resp.StatusCode >= 500:
		return errors.Wrapf(ErrUnavailable, "processor status %d", resp.StatusCode)
	}

	msg := se.Error.Message
	if msg == "" {
		msg = "request rejected"
	}
	return errors.Errorf("processor error (status %d): %s", resp.StatusCode, msg)
}

func sessionFromStripe(s stripeSession) *Session {
	meta := s.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	return &Session{
		ID:            s.ID,
		PaymentStatus: s.PaymentStatus,
		AmountTotal:   s.AmountTotal,
		Metadata:      meta,
	}
}
