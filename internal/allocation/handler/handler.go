package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"aidbridge/internal/allocation/models"
	"aidbridge/internal/platform/middleware"
	"aidbridge/internal/transport/http/shared"
	id "aidbridge/pkg/domain"
	dErrors "aidbridge/pkg/domain-errors"
	"aidbridge/pkg/requestcontext"
)

// Service defines the interface for allocation operations.
type Service interface {
	Create(ctx context.Context, requestID id.RequestID, donationID id.DonationID, quantity int) (*models.Allocation, error)
	AttachRoute(ctx context.Context, allocationID id.AllocationID, carrier string) (*models.Route, error)
	MarkDelivered(ctx context.Context, allocationID id.AllocationID) (*models.Allocation, error)
	ListForRequest(ctx context.Context, requestID id.RequestID) ([]*models.Allocation, error)
}

// Handler exposes the allocation engine over HTTP. Creation and route
// attachment are admin operations; the delivered signal arrives from the
// logistics integration.
type Handler struct {
	allocations Service
	logger      *slog.Logger
}

// New creates an allocation Handler.
func New(allocations Service, logger *slog.Logger) *Handler {
	return &Handler{allocations: allocations, logger: logger}
}

// Register mounts the allocation routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/allocations", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(requestcontext.RoleAdmin))
			r.Post("/", h.handleCreate)
			r.Post("/{allocationID}/routes", h.handleAttachRoute)
		})
		r.Post("/{allocationID}/delivered", h.handleMarkDelivered)
	})
	r.Get("/requests/{requestID}/allocations", h.handleListForRequest)
}

type createRequest struct {
	RequestID  string `json:"request_id"`
	DonationID string `json:"donation_id"`
	Quantity   int    `json:"quantity"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	requestID, err := id.ParseRequestID(req.RequestID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	donationID, err := id.ParseDonationID(req.DonationID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	allocation, err := h.allocations.Create(r.Context(), requestID, donationID, req.Quantity)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, allocation)
}

type attachRouteRequest struct {
	Carrier string `json:"carrier"`
}

func (h *Handler) handleAttachRoute(w http.ResponseWriter, r *http.Request) {
	allocationID, err := id.ParseAllocationID(chi.URLParam(r, "allocationID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req attachRouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	route, err := h.allocations.AttachRoute(r.Context(), allocationID, req.Carrier)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, route)
}

func (h *Handler) handleMarkDelivered(w http.ResponseWriter, r *http.Request) {
	allocationID, err := id.ParseAllocationID(chi.URLParam(r, "allocationID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	allocation, err := h.allocations.MarkDelivered(r.Context(), allocationID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, allocation)
}

func (h *Handler) handleListForRequest(w http.ResponseWriter, r *http.Request) {
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	allocations, err := h.allocations.ListForRequest(r.Context(), requestID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, allocations)
}
