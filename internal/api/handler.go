// Package api exposes the gateway over HTTP. Handlers decode and
// validate the wire shapes, then delegate to the orchestrator; every
// response, including errors, is a well-formed JSON document.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fulmine-labs/spark-gateway/internal/domain"
	"github.com/fulmine-labs/spark-gateway/internal/metrics"
	"github.com/fulmine-labs/spark-gateway/internal/orchestrator"
	"github.com/fulmine-labs/spark-gateway/internal/ratelimit"
	"github.com/fulmine-labs/spark-gateway/internal/repository"
)

type Handler struct {
	orch         *orchestrator.Orchestrator
	limiter      ratelimit.RateLimiter
	outcomes     repository.OutcomeRecorder
	rateLimitRPM int
	adminHash    string
	backend      string
}

type Config struct {
	RateLimitRPM      int
	AdminPasswordHash string
	PaymentBackend    string
}

func NewHandler(orch *orchestrator.Orchestrator, limiter ratelimit.RateLimiter, outcomes repository.OutcomeRecorder, cfg Config) *Handler {
	return &Handler{
		orch:         orch,
		limiter:      limiter,
		outcomes:     outcomes,
		rateLimitRPM: cfg.RateLimitRPM,
		adminHash:    cfg.AdminPasswordHash,
		backend:      cfg.PaymentBackend,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", h.handleRoot)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/services/image/models", h.handleListModels)
	mux.HandleFunc("POST /api/v1/services/image/generate", h.rateLimited(h.handleGenerate))
	mux.HandleFunc("POST /api/v1/moderation/check", h.handleModerationCheck)
	mux.HandleFunc("POST /api/v1/invoice", h.rateLimited(h.handleCreateInvoice))
	mux.HandleFunc("POST /api/v1/payment/status", h.handlePaymentStatus)

	mux.HandleFunc("GET /api/v1/admin/outcomes", h.adminOnly(h.handleOutcomes))

	return requestLogger(mux)
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "spark-gateway",
		"status":  "running",
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"service":         "spark-gateway",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"providers":       h.orch.Providers(),
		"payment_backend": h.backend,
	})
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": h.orch.Models(),
	})
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req domain.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := h.orch.Handle(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrUnknownModel):
			// Validation failures keep the result document shape so
			// every generate response carries a status field.
			writeJSON(w, http.StatusBadRequest, domain.GenerationResult{
				Status: domain.StatusFailed,
				Error:  err.Error(),
			})
		case errors.Is(err, domain.ErrProviderNotFound):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			slog.Error("generation request failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	status := http.StatusOK
	switch result.Status {
	case domain.StatusRejected:
		status = http.StatusUnprocessableEntity
	case domain.StatusFailed:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

type moderationCheckRequest struct {
	Prompt    string   `json:"prompt"`
	Threshold *float64 `json:"threshold,omitempty"`
}

func (h *Handler) handleModerationCheck(w http.ResponseWriter, r *http.Request) {
	var req moderationCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Threshold != nil {
		writeJSON(w, http.StatusOK, h.orch.CheckModerationWith(req.Prompt, *req.Threshold))
		return
	}
	writeJSON(w, http.StatusOK, h.orch.CheckModeration(req.Prompt))
}

type createInvoiceRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt,omitempty"`
}

func (h *Handler) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	inv, err := h.orch.CreateInvoice(r.Context(), req.Model, req.Prompt)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrUnknownModel):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrGatewayError):
			slog.Error("invoice creation failed", "error", err)
			writeError(w, http.StatusBadGateway, "payment backend unavailable")
		default:
			slog.Error("invoice creation failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

type paymentStatusRequest struct {
	InvoiceID string `json:"invoice_id"`
}

func (h *Handler) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req paymentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InvoiceID == "" {
		writeError(w, http.StatusBadRequest, "invoice_id is required")
		return
	}

	inv, err := h.orch.CheckPaymentStatus(r.Context(), req.InvoiceID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvoiceNotFound):
			writeError(w, http.StatusNotFound, "invoice not found")
		case errors.Is(err, domain.ErrGatewayError):
			slog.Error("payment status lookup failed", "error", err)
			writeError(w, http.StatusBadGateway, "payment backend unavailable")
		default:
			slog.Error("payment status lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"invoice_id": inv.InvoiceID,
		"status":     inv.Status,
		"confirmed":  inv.Confirmed(),
	})
}

// rateLimited enforces the per-client request budget and sets the
// X-RateLimit headers. A limiter failure fails open.
func (h *Handler) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	if h.limiter == nil || h.rateLimitRPM <= 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, resetAt, err := h.limiter.Allow(r.Context(), clientKey(r), h.rateLimitRPM)
		if err != nil {
			slog.Warn("rate limiter unavailable", "error", err)
			next(w, r)
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.rateLimitRPM))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		if !allowed {
			metrics.RateLimitHits.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// clientKey identifies the caller for rate limiting: API key header if
// present, remote address otherwise.
func clientKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)

		slog.Debug("request received",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID,
		)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
