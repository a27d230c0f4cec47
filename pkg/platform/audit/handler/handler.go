package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"aidbridge/internal/transport/http/shared"
	id "aidbridge/pkg/domain"
	dErrors "aidbridge/pkg/domain-errors"
	"aidbridge/pkg/platform/audit"
)

// Handler exposes the audit read side: filtered listing and per-entity
// history. The write side has no endpoint; entries are only ever appended
// inside engine transactions.
type Handler struct {
	publisher *audit.Publisher
	logger    *slog.Logger
}

// New creates an audit Handler.
func New(publisher *audit.Publisher, logger *slog.Logger) *Handler {
	return &Handler{publisher: publisher, logger: logger}
}

// Register mounts the audit routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit", h.handleList)
	r.Get("/audit/{entityType}/{entityID}", h.handleHistory)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	entries, err := h.publisher.List(r.Context(), filter)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	entityType := audit.EntityType(chi.URLParam(r, "entityType"))
	entityID := chi.URLParam(r, "entityID")
	entries, err := h.publisher.HistoryForEntity(r.Context(), entityType, entityID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, entries)
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	var filter audit.Filter
	query := r.URL.Query()

	if raw := query.Get("actor_id"); raw != "" {
		actorID, err := id.ParsePartyID(raw)
		if err != nil {
			return filter, err
		}
		filter.ActorID = &actorID
	}
	if raw := query.Get("action"); raw != "" {
		action := audit.Action(raw)
		filter.Action = &action
	}
	if raw := query.Get("entity_type"); raw != "" {
		entityType := audit.EntityType(raw)
		filter.EntityType = &entityType
	}
	if raw := query.Get("entity_id"); raw != "" {
		entityID := raw
		filter.EntityID = &entityID
	}
	if raw := query.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeBadRequest, "invalid from timestamp")
		}
		filter.From = &from
	}
	if raw := query.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeBadRequest, "invalid to timestamp")
		}
		filter.To = &to
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, dErrors.New(dErrors.CodeBadRequest, "invalid limit")
		}
		filter.Limit = limit
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, dErrors.New(dErrors.CodeBadRequest, "invalid offset")
		}
		filter.Offset = offset
	}
	return filter, nil
}
