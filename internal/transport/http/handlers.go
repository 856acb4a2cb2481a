// @title UsageSync Admin API
// @version 1.0.0
// @description Tenant usage quota synchronization
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/appforge/usagesync/internal/observability/logger"
	"github.com/appforge/usagesync/internal/quota"
	"github.com/appforge/usagesync/internal/tenant"
	"github.com/appforge/usagesync/internal/usagesync"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	runner *usagesync.Runner
	quotas quota.Store
	auth   AuthConfig
}

// AuthConfig holds admin bearer token verification settings
type AuthConfig struct {
	Secret []byte
	Issuer string
}

// NewHandler creates a new HTTP handler
func NewHandler(runner *usagesync.Runner, quotas quota.Store, auth AuthConfig) *Handler {
	return &Handler{
		runner: runner,
		quotas: quotas,
		auth:   auth,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Post("/usage/sync", h.SyncAll)

		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Use(TenantMiddleware)
			r.Get("/usage", h.GetUsage)
			r.Post("/usage/sync", h.SyncTenant)
		})
	})

	return r
}

// HealthCheck returns the health status
// @Summary Health Check
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "usagesync",
	})
}

// GetUsage returns the tenant's usage quota document
// @Summary Get Usage Quota
// @Tags Usage
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Success 200 {object} quota.Document
// @Failure 404 {object} map[string]string
// @Router /tenants/{tenantID}/usage [get]
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	tc, _ := tenant.FromContext(r.Context())

	doc, err := h.quotas.Get(r.Context(), tc)
	if err != nil {
		if errors.Is(err, quota.ErrNotFound) {
			respondError(w, http.StatusNotFound, "usage quota not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to load usage quota", logger.TenantID(tc.ID), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load usage quota")
		return
	}

	respondJSON(w, http.StatusOK, doc)
}

// SyncTenant recomputes the tenant's development app count
// @Summary Sync Tenant Usage
// @Tags Usage
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Success 200 {object} usagesync.Result
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Failure 502 {object} map[string]string
// @Router /tenants/{tenantID}/usage/sync [post]
func (h *Handler) SyncTenant(w http.ResponseWriter, r *http.Request) {
	tc, _ := tenant.FromContext(r.Context())

	res, err := h.runner.RunTenant(r.Context(), tc.ID)
	if err != nil {
		slog.ErrorContext(r.Context(), "usage sync request failed",
			logger.TenantID(tc.ID),
			logger.String("actor_id", GetActorID(r.Context())),
			logger.Error(err),
		)
		switch {
		case errors.Is(err, tenant.ErrTenantNotFound):
			respondError(w, http.StatusNotFound, "tenant not found")
		case errors.Is(err, usagesync.ErrPersistenceConflict):
			respondError(w, http.StatusConflict, "usage quota changed concurrently; retry later")
		case errors.Is(err, usagesync.ErrQueryFailure):
			respondError(w, http.StatusBadGateway, "application inventory unavailable")
		default:
			respondError(w, http.StatusInternalServerError, "usage sync failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, res)
}

// SyncAll synchronizes every active tenant
// @Summary Sync All Tenants
// @Tags Usage
// @Produce json
// @Security BearerAuth
// @Success 200 {object} usagesync.Report
// @Failure 500 {object} usagesync.Report
// @Router /usage/sync [post]
func (h *Handler) SyncAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.runner.RunAll(r.Context())
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, report)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
