package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fieldops/worksync/internal/ratelimit"
)

// StatsHandler exposes rate-limiter observability endpoints. Intended for
// operators; these routes should sit behind whatever admin auth the
// deployment uses.
type StatsHandler struct {
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewStatsHandler creates a stats handler backed by the given limiter.
func NewStatsHandler(limiter *ratelimit.Limiter, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		limiter: limiter,
		logger:  logger,
	}
}

// Connection handles GET /api/v1/stats/connections/{id}
func (h *StatsHandler) Connection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "missing connection id", http.StatusBadRequest)
		return
	}

	stats, ok := h.limiter.ConnectionStats(id)
	if !ok {
		http.Error(w, "connection not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, stats)
}

// IP handles GET /api/v1/stats/ips/{ip}
func (h *StatsHandler) IP(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	if ip == "" {
		http.Error(w, "missing ip", http.StatusBadRequest)
		return
	}

	h.writeJSON(w, h.limiter.IPStats(ip))
}

func (h *StatsHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode stats response", slog.Any("error", err))
	}
}
