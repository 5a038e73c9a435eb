// Package api provides the HTTP surface of the deployer: the web deploy action,
// the queued activation API and the operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/core/envelope"
	"github.com/artpar/deployer/internal/shell/action"
	"github.com/artpar/deployer/internal/shell/metrics"
	"github.com/artpar/deployer/internal/shell/store"
	"github.com/artpar/deployer/internal/shell/workers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// =============================================================================
// Handler
// =============================================================================

// JobInvoker runs the job action synchronously.
type JobInvoker interface {
	Invoke(ctx context.Context, p action.Params) envelope.JobEnvelope
}

// WebInvoker runs the web action.
type WebInvoker interface {
	Invoke(ctx context.Context, req action.WebRequest) envelope.WebResponse
}

// Config holds the optional parts of the handler.
type Config struct {
	EncryptionKey  []byte
	Metrics        metrics.HTTPMetrics
	MetricsHandler http.Handler // nil disables /metrics
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	store   store.Store
	job     JobInvoker
	web     WebInvoker
	key     []byte
	metrics metrics.HTTPMetrics
	promh   http.Handler
	logger  *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, job JobInvoker, web WebInvoker, cfg Config, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}
	return &Handler{
		store:   s,
		job:     job,
		web:     web,
		key:     cfg.EncryptionKey,
		metrics: cfg.Metrics,
		promh:   cfg.MetricsHandler,
		logger:  l.With("component", "api"),
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.requestIDHeader)
	r.Use(h.instrument)

	// Health endpoints
	r.Group(func(r chi.Router) {
		r.Use(h.jsonContentType)
		r.Get("/health", h.handleHealth)
		r.Get("/ready", h.handleReady)
	})

	if h.promh != nil {
		r.Method(http.MethodGet, "/metrics", h.promh)
	}

	// Web action answers every method itself.
	r.HandleFunc("/web/deploy", h.handleWebDeploy)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.jsonContentType)

		r.Post("/invoke", h.handleInvoke)

		r.Route("/activations", func(r chi.Router) {
			r.Post("/", h.handleCreateActivation)
			r.Get("/", h.handleListActivations)
			r.Get("/{id}", h.handleGetActivation)
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// instrument records request counts and latency by route pattern.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.ObserveRequest(r.Method, route, strconv.Itoa(status), time.Since(start).Seconds())
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "check", "database", "error", err)
		checks["database"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}
	checks["database"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Web Action
// =============================================================================

// handleWebDeploy runs the web action. The response is the decoded web envelope
// unless raw=1 asks for the envelope itself.
func (h *Handler) handleWebDeploy(w http.ResponseWriter, r *http.Request) {
	var resp envelope.WebResponse

	// Only POST carries params; other methods go straight to method dispatch.
	var p action.Params
	var err error
	if r.Method == http.MethodPost {
		p, err = readParams(r)
	}
	if err != nil {
		resp = envelope.ErrorResponse(http.StatusBadRequest, "invalid request body", err.Error())
	} else {
		resp = h.web.Invoke(r.Context(), action.WebRequest{Method: r.Method, Params: p})
	}

	if raw, _ := strconv.ParseBool(r.URL.Query().Get("raw")); raw {
		w.Header().Set("Content-Type", "application/json")
		h.writeJSON(w, http.StatusOK, resp)
		return
	}

	body, err := resp.DecodedBody()
	if err != nil {
		h.logger.Error("web response body is not base64", "error", err)
		w.Header().Set("Content-Type", "application/json")
		h.writeError(w, http.StatusInternalServerError, "failed to encode response", "internal_error")
		return
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

// readParams decodes the request body and fills empty fields from the query string.
func readParams(r *http.Request) (action.Params, error) {
	var p action.Params
	if r.Body != nil {
		decoded, err := action.DecodeParams(r.Body)
		if err != nil {
			return action.Params{}, err
		}
		p = decoded
	}

	q := r.URL.Query()
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = q.Get(key)
		}
	}
	fill(&p.GitURL, "gitUrl")
	fill(&p.ManifestPath, "manifestPath")
	fill(&p.APIHost, "wskApiHost")
	fill(&p.Auth, "wskAuth")
	return p, nil
}

// decodeParams reads API params the same way the job trigger does, so scalar
// envData values such as {"PORT":8080} arrive as strings.
func (h *Handler) decodeParams(w http.ResponseWriter, r *http.Request) (action.Params, bool) {
	p, err := action.DecodeParams(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", "validation_error")
		return action.Params{}, false
	}
	return p, true
}

// =============================================================================
// Invoke Handler
// =============================================================================

func (h *Handler) handleInvoke(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decodeParams(w, r)
	if !ok {
		return
	}

	env := h.job.Invoke(r.Context(), p)
	status := http.StatusOK
	if !env.Success {
		status = http.StatusBadRequest
	}
	h.writeJSON(w, status, env)
}

// =============================================================================
// Activation Handlers
// =============================================================================

func (h *Handler) handleCreateActivation(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decodeParams(w, r)
	if !ok {
		return
	}

	a, err := workers.Enqueue(r.Context(), h.store, h.key, p)
	if err != nil {
		if errors.Is(err, domain.ErrSourceURLRequired) {
			h.writeError(w, http.StatusBadRequest, action.MissingURLMessage, "validation_error")
			return
		}
		h.logger.Error("failed to enqueue activation", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to enqueue activation", "internal_error")
		return
	}

	h.logger.Info("activation queued", "activation_id", a.ID, "source_url", a.SourceURL)
	h.writeJSON(w, http.StatusAccepted, EnqueueResponse{ActivationID: a.ID, Status: string(a.Status)})
}

func (h *Handler) handleListActivations(w http.ResponseWriter, r *http.Request) {
	opts := store.DefaultListOptions()
	q := r.URL.Query()

	if limit := q.Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			opts.Limit = l
		}
	}
	if offset := q.Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			opts.Offset = o
		}
	}
	if status := q.Get("status"); status != "" {
		s, ok := parseActivationStatus(status)
		if !ok {
			h.writeError(w, http.StatusBadRequest, "unknown status "+status, "validation_error")
			return
		}
		opts.Status = s
	}
	opts = opts.Normalize()

	activations, err := h.store.ListActivations(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list activations", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list activations", "internal_error")
		return
	}

	resp := ListActivationsResponse{
		Activations: make([]ActivationResponse, 0, len(activations)),
		Total:       len(activations),
		Limit:       opts.Limit,
		Offset:      opts.Offset,
	}
	for i := range activations {
		resp.Activations = append(resp.Activations, activationResponse(&activations[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetActivation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := h.store.GetActivation(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "activation not found", "activation_not_found")
			return
		}
		h.logger.Error("failed to get activation", "activation_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get activation", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, activationResponse(a))
}

func parseActivationStatus(s string) (domain.ActivationStatus, bool) {
	switch st := domain.ActivationStatus(strings.ToLower(s)); st {
	case domain.ActivationPending, domain.ActivationRunning, domain.ActivationSucceeded, domain.ActivationFailed:
		return st, true
	}
	return "", false
}

func activationResponse(a *domain.Activation) ActivationResponse {
	resp := ActivationResponse{
		ID:            a.ID,
		SourceURL:     a.SourceURL,
		ManifestPath:  a.ManifestSubPath,
		APIHost:       a.CredentialHost,
		Status:        string(a.Status),
		FailureReason: string(a.FailureReason),
		ErrorMessage:  a.ErrorMessage,
		ErrorDetail:   a.ErrorDetail,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
		StartedAt:     a.StartedAt,
		FinishedAt:    a.FinishedAt,
	}
	if result, ok := a.Result(); ok {
		env := envelope.Build[envelope.JobEnvelope](envelope.JobShaper{}, a.ID, result)
		resp.Result = &env
	}
	return resp
}

// =============================================================================
// Response Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func isNotFound(err error) bool {
	var storeErr *store.StoreError
	if errors.As(err, &storeErr) {
		return errors.Is(storeErr.Err, store.ErrNotFound)
	}
	return errors.Is(err, store.ErrNotFound)
}
