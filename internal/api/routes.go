package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"shopify-sync-service/internal/logger"
	"shopify-sync-service/internal/sync"
)

type Handler struct {
	manager   *sync.Manager
	authToken string
}

func NewHandler(manager *sync.Manager, authToken string) *Handler {
	return &Handler{
		manager:   manager,
		authToken: authToken,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sync/trigger", h.TriggerSync)
		r.Get("/sync/status", h.GetSyncStatus)
		r.Get("/sync/history", h.GetSyncHistory)
		r.Post("/sync/reconcile", h.Reconcile)

		// The cleanup endpoint is called by an external cron, so it carries
		// its own shared-secret check instead of user auth.
		r.With(h.SharedSecret).Post("/sync/cleanup", h.Cleanup)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req sync.TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DataType == "" {
		req.DataType = sync.DataTypeAll
	}
	if req.TriggerSource == "" {
		req.TriggerSource = sync.TriggerSourceManual
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	summary := h.manager.TriggerSync(r.Context(), req)
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.manager.Status(r.Context())
	if err != nil {
		logger.Log.Error("Status query failed", zap.Error(err))
		http.Error(w, "failed to read sync status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) GetSyncHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.manager.History(r.Context(), limit)
	if err != nil {
		logger.Log.Error("History query failed", zap.Error(err))
		http.Error(w, "failed to read sync history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	result, err := h.manager.Reconcile(r.Context(), limit)
	if err != nil {
		logger.Log.Error("Reconciliation failed", zap.Error(err))
		http.Error(w, "reconciliation failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	result, err := h.manager.RunCleanup(r.Context())
	if err != nil {
		logger.Log.Error("Stuck-sync cleanup failed", zap.Error(err))
		http.Error(w, "cleanup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SharedSecret guards endpoints meant for unattended external callers.
func (h *Handler) SharedSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.authToken == "" {
			http.Error(w, "cleanup endpoint disabled: no auth token configured", http.StatusForbidden)
			return
		}
		token := r.Header.Get("X-Sync-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.authToken)) != 1 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error("Failed to encode response", zap.Error(err))
	}
}
