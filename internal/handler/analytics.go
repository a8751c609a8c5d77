package handler

import (
	"net/http"
	"time"
)

type summaryResponse struct {
	TotalOrders  int64  `json:"totalOrders"`
	TotalRevenue string `json:"totalRevenue"`
}

type dailyPointResponse struct {
	Date    string `json:"date"`
	Orders  int64  `json:"orders"`
	Revenue string `json:"revenue"`
}

func (h *Handler) analyticsSummary(w http.ResponseWriter, r *http.Request) {
	overview, err := h.analytics.Overview(r.Context())
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, summaryResponse{
		TotalOrders:  overview.TotalOrders,
		TotalRevenue: overview.TotalRevenue.StringFixed(2),
	})
}

// analyticsDaily serves per-day sales for ?from=YYYY-MM-DD&to=YYYY-MM-DD,
// defaulting to the trailing seven days.
func (h *Handler) analyticsDaily(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -6)
	to := now

	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from date")
			return
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to date")
			return
		}
		// Include the whole end day.
		to = parsed.Add(24*time.Hour - time.Nanosecond)
	}

	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to precedes from")
		return
	}

	points, err := h.analytics.DailySales(r.Context(), from, to)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	out := make([]dailyPointResponse, len(points))
	for i, p := range points {
		out[i] = dailyPointResponse{
			Date:    p.Date,
			Orders:  p.Orders,
			Revenue: p.Revenue.StringFixed(2),
		}
	}
	writeJSON(w, http.StatusOK, out)
}
