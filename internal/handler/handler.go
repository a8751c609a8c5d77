// Package handler exposes the checkout core over HTTP. Authentication lives
// in the upstream gateway, which forwards the buyer identity in the
// X-User-ID header.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/emberline/checkout-api/internal/domain/analytics"
	"github.com/emberline/checkout-api/internal/domain/checkout"
)

// Handler holds the domain services behind the API routes.
type Handler struct {
	checkout  *checkout.Service
	settler   *checkout.Settler
	analytics *analytics.Service
}

// New constructs a Handler with the required domain dependencies.
func New(checkoutSvc *checkout.Service, settler *checkout.Settler, analyticsSvc *analytics.Service) *Handler {
	return &Handler{
		checkout:  checkoutSvc,
		settler:   settler,
		analytics: analyticsSvc,
	}
}

// Register attaches all API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/checkout/session", h.createSession)
	mux.HandleFunc("POST /api/checkout/confirm", h.confirmCheckout)
	mux.HandleFunc("GET /api/analytics/summary", h.analyticsSummary)
	mux.HandleFunc("GET /api/analytics/daily", h.analyticsDaily)
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

// writeInternalError logs the underlying error and returns an opaque 500.
func writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("Internal error",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}
