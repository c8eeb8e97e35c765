package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vnmchuo/ai-cost-gateway/internal/auth"
	"github.com/vnmchuo/ai-cost-gateway/internal/budget"
	"github.com/vnmchuo/ai-cost-gateway/internal/cost"
	"github.com/vnmchuo/ai-cost-gateway/internal/credential"
	"github.com/vnmchuo/ai-cost-gateway/internal/ledger"
	"github.com/vnmchuo/ai-cost-gateway/internal/provider"
	"github.com/vnmchuo/ai-cost-gateway/pkg/ratelimit"
)

// CredentialResolver supplies the tenant's upstream secret for a provider.
type CredentialResolver interface {
	Resolve(ctx context.Context, tenantID, providerName string) (*credential.Resolved, error)
	MarkUsed(ctx context.Context, credentialID string, usedAt time.Time)
}

// BudgetTracker is the pre-flight enforcer and status reader.
type BudgetTracker interface {
	Authorize(ctx context.Context, tenantID string, now time.Time) error
	Evaluate(ctx context.Context, tenantID string, now time.Time) ([]budget.Status, error)
}

// UsageQueue accepts completed-call records for asynchronous appending.
type UsageQueue interface {
	Enqueue(rec *ledger.Record)
}

type Handler struct {
	registry    *provider.Registry
	credentials CredentialResolver
	budgets     BudgetTracker
	calculator  *cost.Calculator
	usage       UsageQueue
	reader      ledger.Store
	limiter     *ratelimit.Limiter
	client      *http.Client
	breakers    map[string]*gobreaker.CircuitBreaker
	timeout     time.Duration
	tracer      trace.Tracer
	log         *zap.SugaredLogger
}

func NewHandler(
	registry *provider.Registry,
	credentials CredentialResolver,
	budgets BudgetTracker,
	calculator *cost.Calculator,
	usage UsageQueue,
	reader ledger.Store,
	limiter *ratelimit.Limiter,
	timeout time.Duration,
	tracer trace.Tracer,
	log *zap.SugaredLogger,
) *Handler {
	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, name := range registry.Names() {
		breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
	}

	return &Handler{
		registry:    registry,
		credentials: credentials,
		budgets:     budgets,
		calculator:  calculator,
		usage:       usage,
		reader:      reader,
		limiter:     limiter,
		client:      &http.Client{},
		breakers:    breakers,
		timeout:     timeout,
		tracer:      tracer,
		log:         log,
	}
}

// HandleProxy is the gateway's forwarding path:
// resolve credential, check budget, forward, relay, extract usage, price,
// enqueue the ledger record. The upstream's status, headers and body are
// returned unchanged on the success path; only proxy-originated failures get
// their own status codes.
func (h *Handler) HandleProxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	requestID := auth.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	providerName := chi.URLParam(r, "provider")
	prov, ok := h.registry.Get(providerName)
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported provider: "+providerName)
		return
	}

	ctx, span := h.tracer.Start(ctx, "proxy.forward")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("request_id", requestID),
		attribute.String("provider", providerName),
	)

	// Fail closed: no active credential, no upstream traffic.
	resolved, err := h.credentials.Resolve(ctx, tenantID, providerName)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			writeError(w, http.StatusNotFound,
				"no active credential for "+providerName+"; add your API key first")
			return
		}
		h.log.Errorw("credential resolution failed", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	hints := parseHints(body)
	span.SetAttributes(attribute.String("model", hints.Model))

	estimatedTokens := hints.MaxTokens
	if estimatedTokens <= 0 {
		estimatedTokens = 1000
	}
	allowed, err := h.limiter.Allow(ctx, tenantID, estimatedTokens)
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	// Pre-flight budget check; rejected calls never reach the upstream and
	// incur no cost.
	if err := h.budgets.Authorize(ctx, tenantID, time.Now()); err != nil {
		var exceeded *budget.ExceededError
		if errors.As(err, &exceeded) {
			writeBudgetExceeded(w, exceeded)
			return
		}
		// The budget system being down must not take the proxy down with
		// it; admit and leave a trail.
		h.log.Warnw("budget check failed, admitting call", "tenant_id", tenantID, "error", err)
	}

	endpoint := "/" + chi.URLParam(r, "*")
	target := prov.BaseURL() + endpoint
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	outReq, err := http.NewRequestWithContext(callCtx, r.Method, target, bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	forwardHeaders(outReq.Header, r.Header)
	prov.ApplyCredential(outReq.Header, resolved.Secret)

	start := time.Now()
	result, err := h.breakers[providerName].Execute(func() (interface{}, error) {
		return h.client.Do(outReq)
	})
	if err != nil {
		h.rejectUpstream(w, r, err, &callRecord{
			tenantID:     tenantID,
			credentialID: resolved.CredentialID,
			requestID:    requestID,
			providerName: providerName,
			model:        hints.Model,
			endpoint:     endpoint,
			method:       r.Method,
			query:        r.URL.RawQuery,
			requestSize:  int64(len(body)),
			latency:      time.Since(start),
		})
		return
	}
	resp := result.(*http.Response)
	defer resp.Body.Close()

	// Relay status, headers and body unchanged, flushing chunk by chunk so
	// streamed responses are not buffered. A bounded tee keeps a transcript
	// for token extraction.
	relayHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	capture := &captureWriter{}
	written, copyErr := io.Copy(newFlushWriter(w), io.TeeReader(resp.Body, capture))
	latency := time.Since(start)

	// Caller disconnected mid-response: the upstream call was cancelled and
	// no tokens were delivered, so nothing is charged.
	abandoned := copyErr != nil && r.Context().Err() != nil

	var usageInfo provider.Usage
	extracted := false
	if !abandoned && resp.StatusCode/100 == 2 {
		usageInfo, extracted = prov.ExtractUsage(capture.Bytes())
		if !extracted {
			h.log.Debugw("no token usage in response, logging zero tokens",
				"tenant_id", tenantID, "provider", providerName)
		}
	}

	model := usageInfo.Model
	if model == "" {
		model = hints.Model
	}

	costUSD := decimal.Zero
	if extracted {
		priced, err := h.calculator.Price(ctx, providerName, model,
			usageInfo.PromptTokens, usageInfo.CompletionTokens, time.Now())
		switch {
		case err != nil:
			h.log.Errorw("cost calculation failed", "provider", providerName, "model", model, "error", err)
		case !priced.Priced:
			h.log.Warnw("no pricing for model, logging zero cost",
				"provider", providerName, "model", model)
		default:
			costUSD = priced.Cost
		}
	}

	h.usage.Enqueue(&ledger.Record{
		TenantID:          tenantID,
		CredentialID:      resolved.CredentialID,
		RequestID:         requestID,
		Provider:          providerName,
		Model:             model,
		Endpoint:          endpoint,
		PromptTokens:      usageInfo.PromptTokens,
		CompletionTokens:  usageInfo.CompletionTokens,
		TotalTokens:       usageInfo.PromptTokens + usageInfo.CompletionTokens,
		CostUSD:           costUSD,
		LatencyMs:         latency.Milliseconds(),
		StatusCode:        resp.StatusCode,
		RequestSizeBytes:  int64(len(body)),
		ResponseSizeBytes: written,
		Metadata: map[string]any{
			"method":    r.Method,
			"query":     r.URL.RawQuery,
			"streamed":  isStreamContentType(resp.Header.Get("Content-Type")),
			"abandoned": abandoned,
		},
	})
	h.credentials.MarkUsed(context.WithoutCancel(ctx), resolved.CredentialID, time.Now())

	span.SetAttributes(
		attribute.Int("upstream_status", resp.StatusCode),
		attribute.Int64("latency_ms", latency.Milliseconds()),
	)
}

// callRecord carries the context needed to log a failed upstream attempt.
type callRecord struct {
	tenantID     string
	credentialID string
	requestID    string
	providerName string
	model        string
	endpoint     string
	method       string
	query        string
	requestSize  int64
	latency      time.Duration
}

// rejectUpstream translates transport failures into distinct caller-facing
// errors and appends a zero-cost failure record with the status reflecting
// the failure.
func (h *Handler) rejectUpstream(w http.ResponseWriter, r *http.Request, err error, call *callRecord) {
	var netErr net.Error

	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		// No upstream attempt was made; nothing to log.
		writeError(w, http.StatusServiceUnavailable, call.providerName+" is temporarily unavailable")
		return

	case r.Context().Err() != nil:
		// Caller went away; the outbound call was cancelled and there is
		// nobody to answer. Nothing was delivered, nothing is charged.
		h.log.Debugw("caller disconnected before upstream completed",
			"tenant_id", call.tenantID, "provider", call.providerName)
		return

	case errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()):
		h.logFailure(call, http.StatusGatewayTimeout, err)
		writeError(w, http.StatusGatewayTimeout, "request to "+call.providerName+" timed out")

	default:
		h.logFailure(call, http.StatusBadGateway, err)
		writeError(w, http.StatusBadGateway, "error connecting to "+call.providerName)
	}
}

func (h *Handler) logFailure(call *callRecord, status int, cause error) {
	h.usage.Enqueue(&ledger.Record{
		TenantID:         call.tenantID,
		CredentialID:     call.credentialID,
		RequestID:        call.requestID,
		Provider:         call.providerName,
		Model:            call.model,
		Endpoint:         call.endpoint,
		CostUSD:          decimal.Zero,
		LatencyMs:        call.latency.Milliseconds(),
		StatusCode:       status,
		RequestSizeBytes: call.requestSize,
		Metadata: map[string]any{
			"method": call.method,
			"query":  call.query,
			"error":  cause.Error(),
		},
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeBudgetExceeded(w http.ResponseWriter, exceeded *budget.ExceededError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":  exceeded.Error(),
		"budget": exceeded.Status,
	})
}
