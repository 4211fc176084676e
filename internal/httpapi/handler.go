// Package httpapi exposes the orchestrator over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/af-corp/aegis-orchestrator/internal/consent"
	"github.com/af-corp/aegis-orchestrator/internal/orchestrator"
	"github.com/af-corp/aegis-orchestrator/internal/ratelimit"
	"github.com/af-corp/aegis-orchestrator/internal/telemetry"
	"github.com/af-corp/aegis-orchestrator/internal/types"
	"github.com/af-corp/aegis-orchestrator/internal/workers"
)

const maxBodyBytes = 1 << 20

// UsageReader returns a user's usage for the current day.
type UsageReader interface {
	DailyUsage(ctx context.Context, userID string) (ratelimit.Usage, error)
}

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	orch     *orchestrator.Orchestrator
	consents consent.Recorder
	usage    UsageReader
	version  string
}

// NewHandler builds a Handler. consents and usage may be nil, which disables
// the endpoints that need them.
func NewHandler(orch *orchestrator.Orchestrator, consents consent.Recorder, usage UsageReader, version string) *Handler {
	return &Handler{orch: orch, consents: consents, usage: usage, version: version}
}

// Routes mounts every endpoint. metrics serves /metrics when non-nil.
func (h *Handler) Routes(metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestID)

	r.Get("/health", h.Health)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages", h.Messages)
		r.Get("/stats", h.Stats)
		r.Get("/workers", h.ListWorkers)
		r.Delete("/workers/{type}", h.InvalidateWorker)
		r.Post("/consents", h.RecordConsent)
		r.Get("/usage/{userID}", h.DailyUsage)
	})
	return r
}

type messageRequest struct {
	SessionID   string            `json:"session_id"`
	UserID      string            `json:"user_id"`
	Text        string            `json:"text"`
	UserContext map[string]string `json:"user_context,omitempty"`
}

type messageResponse struct {
	types.Response
	RequestID string `json:"request_id"`
}

// Messages handles POST /v1/messages
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req messageRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteBadRequestError(w, reqID, err.Error())
		return
	}

	resp := h.orch.Handle(r.Context(), orchestrator.Request{
		SessionID:   req.SessionID,
		UserID:      req.UserID,
		Text:        req.Text,
		IPAddress:   clientIP(r),
		UserContext: req.UserContext,
	})

	status := http.StatusOK
	if resp.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, messageResponse{Response: resp, RequestID: reqID})
}

type statsResponse struct {
	Requests telemetry.Snapshot `json:"requests"`
	Workers  workers.Stats      `json:"workers"`
}

// Stats handles GET /v1/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Requests: h.orch.Monitor().Snapshot(),
		Workers:  h.orch.Cache().Stats(),
	})
}

type workerInfo struct {
	workers.EntryInfo
	Health workers.Health `json:"health"`
}

// ListWorkers handles GET /v1/workers
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	cache := h.orch.Cache()
	entries := cache.Entries()
	out := make([]workerInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, workerInfo{EntryInfo: e, Health: cache.HealthCheck(r.Context(), e.WorkerType)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": out})
}

// InvalidateWorker handles DELETE /v1/workers/{type}
func (h *Handler) InvalidateWorker(w http.ResponseWriter, r *http.Request) {
	workerType := chi.URLParam(r, "type")
	if !h.orch.Cache().Invalidate(workerType) {
		WriteNotFoundError(w, RequestIDFromContext(r.Context()), "worker "+workerType+" has no cached instance or circuit state")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordConsent handles POST /v1/consents
func (h *Handler) RecordConsent(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if h.consents == nil {
		WriteServiceUnavailableError(w, reqID, "consent recording is not configured")
		return
	}

	var rec consent.Record
	if err := decodeBody(w, r, &rec); err != nil {
		WriteBadRequestError(w, reqID, err.Error())
		return
	}
	if rec.UserID == "" {
		WriteBadRequestError(w, reqID, "user_id is required")
		return
	}
	if _, ok := types.ParseConsentType(string(rec.ConsentType)); !ok {
		WriteBadRequestError(w, reqID, "unknown consent_type "+strconv.Quote(string(rec.ConsentType)))
		return
	}
	if _, ok := types.ParseDataCategory(string(rec.DataCategory)); !ok {
		WriteBadRequestError(w, reqID, "unknown data_category "+strconv.Quote(string(rec.DataCategory)))
		return
	}

	if err := h.consents.RecordConsent(r.Context(), rec); err != nil {
		slog.Error("failed to record consent", "request_id", reqID, "user_id", rec.UserID, "error", err)
		WriteInternalError(w, reqID, "failed to record consent")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DailyUsage handles GET /v1/usage/{userID}
func (h *Handler) DailyUsage(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if h.usage == nil {
		WriteServiceUnavailableError(w, reqID, "usage tracking is not configured")
		return
	}
	userID := chi.URLParam(r, "userID")
	usage, err := h.usage.DailyUsage(r.Context(), userID)
	if err != nil {
		slog.Error("failed to read usage", "request_id", reqID, "user_id", userID, "error", err)
		WriteServiceUnavailableError(w, reqID, "usage backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "usage": usage})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return errors.New("failed to read request body")
	}
	defer r.Body.Close()
	if err := json.Unmarshal(body, dest); err != nil {
		return errors.New("invalid JSON: " + err.Error())
	}
	return nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
