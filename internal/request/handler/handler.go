package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"aidbridge/internal/platform/middleware"
	"aidbridge/internal/request/models"
	"aidbridge/internal/request/service"
	"aidbridge/internal/transport/http/shared"
	id "aidbridge/pkg/domain"
	dErrors "aidbridge/pkg/domain-errors"
	"aidbridge/pkg/requestcontext"
)

// Service defines the interface for request lifecycle operations.
type Service interface {
	Create(ctx context.Context, quantityRequired int, region string, urgency json.RawMessage, expiresAt *time.Time) (*models.Request, error)
	Approve(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	Claim(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	RequestRecede(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	ApproveRecede(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	Complete(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	Cancel(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	FlagStale(ctx context.Context) (int, error)
	BatchDispose(ctx context.Context, requestIDs []id.RequestID, action service.DisposeAction) ([]*models.Request, error)
	Get(ctx context.Context, requestID id.RequestID) (*models.Request, error)
}

// Handler exposes the request lifecycle over HTTP.
type Handler struct {
	requests Service
	logger   *slog.Logger
}

// New creates a request Handler.
func New(requests Service, logger *slog.Logger) *Handler {
	return &Handler{requests: requests, logger: logger}
}

// Register mounts the request routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/requests", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/{requestID}", h.handleGet)
		r.Post("/{requestID}/claim", h.handleClaim)
		r.Post("/{requestID}/recede", h.handleRequestRecede)
		r.Post("/{requestID}/complete", h.handleComplete)
		r.Post("/{requestID}/cancel", h.handleCancel)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(requestcontext.RoleAdmin, requestcontext.RoleAuditor))
			r.Post("/{requestID}/approve", h.handleApprove)
			r.Post("/{requestID}/approve-recede", h.handleApproveRecede)
			r.Post("/flag-stale", h.handleFlagStale)
			r.Post("/batch-dispose", h.handleBatchDispose)
		})
	})
}

type createRequest struct {
	QuantityRequired int             `json:"quantity_required"`
	Region           string          `json:"region"`
	Urgency          json.RawMessage `json:"urgency,omitempty"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	request, err := h.requests.Create(r.Context(), req.QuantityRequired, req.Region, req.Urgency, req.ExpiresAt)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, request)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	request, err := h.requests.Get(r.Context(), requestID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, request)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.requests.Approve)
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.requests.Claim)
}

func (h *Handler) handleRequestRecede(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.requests.RequestRecede)
}

func (h *Handler) handleApproveRecede(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.requests.ApproveRecede)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.requests.Complete)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.requests.Cancel)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, requestID id.RequestID) (*models.Request, error)) {
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	request, err := op(r.Context(), requestID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, request)
}

func (h *Handler) handleFlagStale(w http.ResponseWriter, r *http.Request) {
	flagged, err := h.requests.FlagStale(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]int{"flagged": flagged})
}

type batchDisposeRequest struct {
	RequestIDs []string `json:"request_ids"`
	Action     string   `json:"action"`
}

func (h *Handler) handleBatchDispose(w http.ResponseWriter, r *http.Request) {
	var req batchDisposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	requestIDs := make([]id.RequestID, 0, len(req.RequestIDs))
	for _, raw := range req.RequestIDs {
		requestID, err := id.ParseRequestID(raw)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		requestIDs = append(requestIDs, requestID)
	}
	disposed, err := h.requests.BatchDispose(r.Context(), requestIDs, service.DisposeAction(req.Action))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, disposed)
}
