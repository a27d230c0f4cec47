package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"aidbridge/internal/readmodel"
	"aidbridge/internal/transport/http/shared"
)

// Stats defines the read-model interface.
type Stats interface {
	Stats(ctx context.Context) ([]readmodel.RegionStats, error)
}

// Handler exposes the aggregate regional view.
type Handler struct {
	stats  Stats
	logger *slog.Logger
}

// New creates a read-model Handler.
func New(stats Stats, logger *slog.Logger) *Handler {
	return &Handler{stats: stats, logger: logger}
}

// Register mounts the read-model routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/stats/regional", h.handleRegional)
}

func (h *Handler) handleRegional(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, stats)
}
