package proxy

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/vnmchuo/ai-cost-gateway/internal/auth"
	"github.com/vnmchuo/ai-cost-gateway/internal/ledger"
)

// parseWindow reads the optional from/to query parameters (RFC 3339) and
// defaults to the last 30 days. The window is half-open [from, to).
func parseWindow(r *http.Request) (time.Time, time.Time, bool) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, false
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, false
		}
		to = t
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func parseTokenParam(r *http.Request, name string) (int64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// HandleUsage returns the tenant's raw usage records in a time window along
// with the summed cost.
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.GetTenantID(r.Context())
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	from, to, ok := parseWindow(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid time window: from/to must be RFC 3339 with from < to")
		return
	}

	records, err := h.reader.List(r.Context(), tenantID, from, to)
	if err != nil {
		h.log.Errorw("failed to list usage", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	total, err := h.reader.SumCost(r.Context(), tenantID, from, to)
	if err != nil {
		h.log.Errorw("failed to sum usage cost", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"from":           from,
		"to":             to,
		"total_cost_usd": total,
		"count":          len(records),
		"records":        records,
	})
}

// HandleUsageAggregate groups the tenant's usage by day, model or provider.
func (h *Handler) HandleUsageAggregate(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.GetTenantID(r.Context())
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	from, to, ok := parseWindow(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid time window: from/to must be RFC 3339 with from < to")
		return
	}

	by := ledger.GroupBy(r.URL.Query().Get("by"))
	if by == "" {
		by = ledger.GroupByDay
	}
	switch by {
	case ledger.GroupByDay, ledger.GroupByModel, ledger.GroupByProvider:
	default:
		writeError(w, http.StatusBadRequest, "invalid group: by must be day, model or provider")
		return
	}

	buckets, err := h.reader.Aggregate(r.Context(), tenantID, from, to, by)
	if err != nil {
		h.log.Errorw("failed to aggregate usage", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"from":    from,
		"to":      to,
		"by":      by,
		"buckets": buckets,
	})
}

// HandleBudgets reports the evaluated state of each of the tenant's active
// budget policies right now.
func (h *Handler) HandleBudgets(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.GetTenantID(r.Context())
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	statuses, err := h.budgets.Evaluate(r.Context(), tenantID, time.Now())
	if err != nil {
		h.log.Errorw("failed to evaluate budgets", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"budgets": statuses})
}

type estimateRequest struct {
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
}

// HandleEstimate prices a hypothetical call without forwarding anything.
func (h *Handler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.GetTenantID(r.Context())
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req estimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Provider == "" || req.Model == "" {
		writeError(w, http.StatusBadRequest, "provider and model are required")
		return
	}
	if req.PromptTokens < 0 || req.CompletionTokens < 0 {
		writeError(w, http.StatusBadRequest, "token counts must be non-negative")
		return
	}

	estimate, err := h.calculator.EstimateCost(r.Context(), req.Provider, req.Model,
		req.PromptTokens, req.CompletionTokens)
	if err != nil {
		h.log.Errorw("failed to estimate cost", "provider", req.Provider, "model", req.Model, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, estimate)
}

// HandleCompare prices the same token counts across every known model,
// cheapest first.
func (h *Handler) HandleCompare(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.GetTenantID(r.Context())
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	promptTokens, ok := parseTokenParam(r, "prompt_tokens")
	if !ok {
		writeError(w, http.StatusBadRequest, "prompt_tokens must be a non-negative integer")
		return
	}
	completionTokens, ok := parseTokenParam(r, "completion_tokens")
	if !ok {
		writeError(w, http.StatusBadRequest, "completion_tokens must be a non-negative integer")
		return
	}

	estimates, err := h.calculator.Compare(r.Context(), promptTokens, completionTokens)
	if err != nil {
		h.log.Errorw("failed to compare costs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	sort.Slice(estimates, func(i, j int) bool {
		return estimates[i].Cost.LessThan(estimates[j].Cost)
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"prompt_tokens":     promptTokens,
		"completion_tokens": completionTokens,
		"estimates":         estimates,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
