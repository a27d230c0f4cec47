package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"aidbridge/internal/contribution/models"
	"aidbridge/internal/transport/http/shared"
	id "aidbridge/pkg/domain"
	dErrors "aidbridge/pkg/domain-errors"
)

// Service defines the interface for ledger operations.
type Service interface {
	Commit(ctx context.Context, requestID id.RequestID, percentage int, amountValue *int64) (*models.Contribution, error)
	Update(ctx context.Context, contributionID id.ContributionID, percentage int) (*models.Contribution, error)
	Withdraw(ctx context.Context, contributionID id.ContributionID) error
	ListForRequest(ctx context.Context, requestID id.RequestID) ([]*models.Contribution, error)
}

// Handler exposes the contribution ledger over HTTP.
type Handler struct {
	contributions Service
	logger        *slog.Logger
}

// New creates a contribution Handler.
func New(contributions Service, logger *slog.Logger) *Handler {
	return &Handler{contributions: contributions, logger: logger}
}

// Register mounts the contribution routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/requests/{requestID}/contributions", func(r chi.Router) {
		r.Post("/", h.handleCommit)
		r.Get("/", h.handleList)
	})
	r.Route("/contributions/{contributionID}", func(r chi.Router) {
		r.Patch("/", h.handleUpdate)
		r.Delete("/", h.handleWithdraw)
	})
}

type commitRequest struct {
	Percentage  int    `json:"percentage"`
	AmountValue *int64 `json:"amount_value,omitempty"`
}

func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	contribution, err := h.contributions.Commit(r.Context(), requestID, req.Percentage, req.AmountValue)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, contribution)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	contributions, err := h.contributions.ListForRequest(r.Context(), requestID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, contributions)
}

type updateRequest struct {
	Percentage int `json:"percentage"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	contributionID, err := id.ParseContributionID(chi.URLParam(r, "contributionID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	contribution, err := h.contributions.Update(r.Context(), contributionID, req.Percentage)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, contribution)
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	contributionID, err := id.ParseContributionID(chi.URLParam(r, "contributionID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.contributions.Withdraw(r.Context(), contributionID); err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusNoContent, nil)
}
