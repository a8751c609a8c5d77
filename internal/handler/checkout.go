package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/emberline/checkout-api/internal/domain/checkout"
	"github.com/emberline/checkout-api/internal/payment"
)

type lineItemRequest struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	Image     string `json:"image,omitempty"`
}

type createSessionRequest struct {
	Items      []lineItemRequest `json:"items"`
	CouponCode string            `json:"couponCode,omitempty"`
}

type createSessionResponse struct {
	SessionID   string `json:"sessionId"`
	TotalAmount string `json:"totalAmount"`
}

type confirmRequest struct {
	SessionID string `json:"sessionId"`
}

type confirmResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	ownerID := r.Header.Get("X-User-ID")
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "missing user identity")
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	items := make([]checkout.LineItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = checkout.LineItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Image:     item.Image,
		}
	}

	result, err := h.checkout.CreateSession(r.Context(), checkout.CreateSessionRequest{
		OwnerID:    ownerID,
		Items:      items,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		h.mapCheckoutError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, createSessionResponse{
		SessionID:   result.SessionID,
		TotalAmount: result.TotalMajor.StringFixed(2),
	})
}

func (h *Handler) confirmCheckout(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}

	result, err := h.settler.Confirm(r.Context(), req.SessionID)
	if err != nil {
		h.mapCheckoutError(w, r, err)
		return
	}

	if !result.Paid {
		writeJSON(w, http.StatusOK, confirmResponse{Success: false, Reason: "not_paid"})
		return
	}

	writeJSON(w, http.StatusOK, confirmResponse{Success: true, OrderID: result.OrderID})
}

// mapCheckoutError translates domain errors into stable HTTP error codes.
// Processor error shapes never reach the client.
func (h *Handler) mapCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	var invalidItem *checkout.InvalidItemError
	switch {
	case errors.Is(err, checkout.ErrEmptyItems):
		writeError(w, http.StatusBadRequest, "at least one item is required")
	case errors.As(err, &invalidItem):
		writeError(w, http.StatusBadRequest, invalidItem.Error())
	case errors.Is(err, payment.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "payment service unavailable, try again later")
	default:
		// Includes *checkout.PersistenceError: retriable 500, details logged
		// server-side with the session metadata.
		writeInternalError(w, r, err)
	}
}
