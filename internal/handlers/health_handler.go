package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mW "github.com/tallybot/backend/internal/middleware"
	"github.com/tallybot/backend/internal/services"
)

// StoragePinger checks the storage backend.
type StoragePinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	storage StoragePinger
	backend string
	started time.Time
	timeout time.Duration
}

func NewHealthHandler(storage StoragePinger, backend string, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{
		storage: storage,
		backend: backend,
		started: time.Now(),
		timeout: timeout,
	}
}

// Live answers liveness probes.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("OK"))
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"storage": h.backend,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}

// Storage pings the storage backend.
func (h *HealthHandler) Storage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	start := time.Now()
	if err := h.storage.Ping(ctx); err != nil {
		log.Printf("[HealthHandler] Storage - %s ping failed: %v", h.backend, err)
		services.SendErrorResponse(w, "storage unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"storage": h.backend,
		"latency": time.Since(start).String(),
	})
}

// NewHTTPRouter mounts the status routes. The storage self-test requires an
// ops token when opsSecret is set.
func NewHTTPRouter(h *HealthHandler, opsSecret string) http.Handler {
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/", h.Live)
	r.Get("/health", h.Health)
	r.With(mW.OpsAuth(opsSecret)).Get("/health/storage", h.Storage)

	return r
}
