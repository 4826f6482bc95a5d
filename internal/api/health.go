package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/baun-edu/baun-server/internal/gateway"
	"github.com/baun-edu/baun-server/internal/store"
	"github.com/go-chi/chi/v5"
)

const llmProbeInterval = 30 * time.Second

// HealthHandler reports service health. The local LLM probe runs on a
// background ticker so the endpoint never blocks on a slow model server.
type HealthHandler struct {
	repo  store.Repository
	local *gateway.LocalClient

	mu        sync.RWMutex
	llmOK     bool
	llmModel  string
	llmProbed bool
}

// NewHealthHandler creates a health handler and starts the background probe.
func NewHealthHandler(ctx context.Context, repo store.Repository, local *gateway.LocalClient) *HealthHandler {
	h := &HealthHandler{repo: repo, local: local}
	go h.probeLoop(ctx)
	return h
}

// RegisterHealth mounts the health route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/healthz", h.ServeHTTP)
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbOK := h.repo.Ping(ctx) == nil

	h.mu.RLock()
	llmOK, llmModel, probed := h.llmOK, h.llmModel, h.llmProbed
	h.mu.RUnlock()

	status := http.StatusOK
	overall := "ok"
	if !dbOK {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	payload := map[string]any{
		"status":   overall,
		"database": dbOK,
		"llm": map[string]any{
			"available": llmOK,
			"model":     llmModel,
			"probed":    probed,
		},
	}
	JSON(w, status, payload)
}

func (h *HealthHandler) probeLoop(ctx context.Context) {
	h.probe(ctx)

	ticker := time.NewTicker(llmProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.probe(ctx)
		}
	}
}

func (h *HealthHandler) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status, err := h.local.Health(probeCtx)

	h.mu.Lock()
	h.llmProbed = true
	h.llmOK = err == nil
	if err == nil {
		h.llmModel = status.Model
	}
	h.mu.Unlock()
}
