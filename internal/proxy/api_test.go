package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vnmchuo/ai-cost-gateway/internal/auth"
	"github.com/vnmchuo/ai-cost-gateway/internal/budget"
	"github.com/vnmchuo/ai-cost-gateway/internal/ledger"
)

func apiRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(auth.WithTenantID(req.Context(), "test-tenant"))
}

func TestHandleUsage_Unauthorized(t *testing.T) {
	env := setupProxy("http://127.0.0.1:1", true, time.Second)
	req := httptest.NewRequest("GET", "/v1/usage", nil)
	w := httptest.NewRecorder()

	env.handler.HandleUsage(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestHandleUsage_InvalidDateFormat(t *testing.T) {
	env := setupProxy("http://127.0.0.1:1", true, time.Second)
	w := httptest.NewRecorder()

	env.handler.HandleUsage(w, apiRequest("GET", "/v1/usage?from=not-a-date"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleUsage_Success(t *testing.T) {
	env := setupProxy("http://127.0.0.1:1", true, time.Second)
	store := env.handler.reader
	for i := 0; i < 3; i++ {
		store.Append(context.Background(), &ledger.Record{
			TenantID: "test-tenant", Provider: "openai", Model: "gpt-4",
			CostUSD: decimal.NewFromFloat(0.01), StatusCode: 200,
		})
	}
	w := httptest.NewRecorder()

	env.handler.HandleUsage(w, apiRequest("GET", "/v1/usage"))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["count"].(float64) != 3 {
		t.Errorf("Expected count == 3, got %v", resp["count"])
	}
	if resp["total_cost_usd"] != "0.03" {
		t.Errorf("Expected total_cost_usd == 0.03, got %v", resp["total_cost_usd"])
	}
}

func TestHandleUsageAggregate_ByModel(t *testing.T) {
	env := setupProxy("http://127.0.0.1:1", true, time.Second)
	store := env.handler.reader
	store.Append(context.Background(), &ledger.Record{TenantID: "test-tenant", Model: "gpt-4", CostUSD: decimal.NewFromFloat(0.02), TotalTokens: 100})
	store.Append(context.Background(), &ledger.Record{TenantID: "test-tenant", Model: "gpt-4", CostUSD: decimal.NewFromFloat(0.02), TotalTokens: 100})
	store.Append(context.Background(), &ledger.Record{TenantID: "test-tenant", Model: "gpt-4o-mini", CostUSD: decimal.NewFromFloat(0.001), TotalTokens: 50})
	w := httptest.NewRecorder()

	env.handler.HandleUsageAggregate(w, apiRequest("GET", "/v1/usage/aggregate?by=model"))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Buckets []ledger.Bucket `json:"buckets"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Buckets) != 2 {
		t.Fatalf("Expected 2 buckets, got %d", len(resp.Buckets))
	}
	for _, b := range resp.Buckets {
		if b.Key == "gpt-4" && b.Requests != 2 {
			t.Errorf("Expected 2 gpt-4 requests, got %d", b.Requests)
		}
	}
}

func TestHandleUsageAggregate_InvalidGroup(t *testing.T) {
	env := setupProxy("http://127.0.0.1:1", true, time.Second)
	w := httptest.NewRecorder()

	env.handler.HandleUsageAggregate(w, apiRequest("GET", "/v1/usage/aggregate?by=endpoint"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleBudgets_Success(t *testing.T) {
	env := setupProxy("http://127.0.0.1:1", true, time.Second)
	env.budgets.statuses = []budget.Status{{
		PeriodKind:      budget.PeriodMonthly,
		LimitUSD:        decimal.NewFromInt(100),
		CurrentSpendUSD: decimal.NewFromInt(42),
		PercentUsed:     42,
		State:           budget.StateWithinBudget,
	}}
	w := httptest.NewRecorder()

	env.handler.HandleBudgets(w, apiRequest("GET", "/v1/budgets"))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Budgets []budget.Status `json:"budgets"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Budgets) != 1 || resp.Budgets[0].State != budget.StateWithinBudget {
		t.Errorf("Unexpected budgets payload: %+v", resp.Budgets)
	}
}

func TestHandleEstimate_Success(t *testing.T) {
	env := setupProxy("http://127.0.0.1:1", true, time.Second)
	body := `{"provider":"openai","model":"gpt-4","prompt_tokens":1000,"completion_tokens":500}`
	req := httptest.NewRequest("POST", "/v1/cost/estimate", strings.NewReader(body))
	req = req.WithContext(auth.WithTenantID(req.Context(), "test-tenant"))
	w := httptest.NewRecorder()

	env.handler.HandleEstimate(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	// 1000/1000*0.03 + 500/1000*0.06 from the fallback table
	if resp["estimated_cost"] != "0.06" {
		t.Errorf("Expected estimated_cost 0.06, got %v", resp["estimated_cost"])
	}
	if resp["priced"] != true {
		t.Errorf("Expected priced=true, got %v", resp["priced"])
	}
}

func TestHandleEstimate_MissingFields(t *testing.T) {
	env := setupProxy("http://127.0.0.1:1", true, time.Second)
	req := httptest.NewRequest("POST", "/v1/cost/estimate", strings.NewReader(`{"prompt_tokens":10}`))
	req = req.WithContext(auth.WithTenantID(req.Context(), "test-tenant"))
	w := httptest.NewRecorder()

	env.handler.HandleEstimate(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleCompare_SortedCheapestFirst(t *testing.T) {
	env := setupProxy("http://127.0.0.1:1", true, time.Second)
	w := httptest.NewRecorder()

	env.handler.HandleCompare(w, apiRequest("GET", "/v1/cost/compare?prompt_tokens=1000&completion_tokens=500"))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Estimates []struct {
			Provider string `json:"provider"`
			Model    string `json:"model"`
			Cost     string `json:"estimated_cost"`
		} `json:"estimates"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Estimates) < 5 {
		t.Fatalf("Expected the full fallback catalog, got %d estimates", len(resp.Estimates))
	}
	prev := decimal.Zero
	for _, e := range resp.Estimates {
		c, err := decimal.NewFromString(e.Cost)
		if err != nil {
			t.Fatalf("Bad cost %q: %v", e.Cost, err)
		}
		if c.LessThan(prev) {
			t.Errorf("Estimates not sorted cheapest first: %v before %v", prev, c)
		}
		prev = c
	}
}
