package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"aidbridge/internal/donation/models"
	"aidbridge/internal/platform/middleware"
	"aidbridge/internal/transport/http/shared"
	id "aidbridge/pkg/domain"
	dErrors "aidbridge/pkg/domain-errors"
	"aidbridge/pkg/requestcontext"
)

// Service defines the interface for donation stock operations.
type Service interface {
	Create(ctx context.Context, donationType models.Type, description string, quantity int, targetedRequestID *id.RequestID, expiryDate *time.Time) (*models.Donation, error)
	Verify(ctx context.Context, donationID id.DonationID) (*models.Donation, error)
	AssignWarehouse(ctx context.Context, donationID id.DonationID, warehouseID id.WarehouseID) (*models.Donation, error)
	MarkDelivered(ctx context.Context, donationID id.DonationID) (*models.Donation, error)
	Get(ctx context.Context, donationID id.DonationID) (*models.Donation, error)
	CreateWarehouse(ctx context.Context, name, region string, capacity int) (*models.Warehouse, error)
}

// Handler exposes donation stock over HTTP. Verification is reached both by
// the admin review and by the payment webhook.
type Handler struct {
	donations Service
	logger    *slog.Logger
}

// New creates a donation Handler.
func New(donations Service, logger *slog.Logger) *Handler {
	return &Handler{donations: donations, logger: logger}
}

// Register mounts the donation routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/donations", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/{donationID}", h.handleGet)
		r.Post("/{donationID}/delivered", h.handleMarkDelivered)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(requestcontext.RoleAdmin))
			r.Post("/{donationID}/verify", h.handleVerify)
			r.Post("/{donationID}/warehouse", h.handleAssignWarehouse)
		})
	})
	r.With(middleware.RequireRole(requestcontext.RoleAdmin)).Post("/warehouses", h.handleCreateWarehouse)
}

type createRequest struct {
	Type              string     `json:"type"`
	Description       string     `json:"description,omitempty"`
	Quantity          int        `json:"quantity"`
	TargetedRequestID *string    `json:"targeted_request_id,omitempty"`
	ExpiryDate        *time.Time `json:"expiry_date,omitempty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	var targeted *id.RequestID
	if req.TargetedRequestID != nil {
		requestID, err := id.ParseRequestID(*req.TargetedRequestID)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		targeted = &requestID
	}
	donation, err := h.donations.Create(r.Context(), models.Type(req.Type), req.Description, req.Quantity, targeted, req.ExpiryDate)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, donation)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	donationID, err := id.ParseDonationID(chi.URLParam(r, "donationID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	donation, err := h.donations.Get(r.Context(), donationID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, donation)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	donationID, err := id.ParseDonationID(chi.URLParam(r, "donationID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	donation, err := h.donations.Verify(r.Context(), donationID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, donation)
}

type assignWarehouseRequest struct {
	WarehouseID string `json:"warehouse_id"`
}

func (h *Handler) handleAssignWarehouse(w http.ResponseWriter, r *http.Request) {
	donationID, err := id.ParseDonationID(chi.URLParam(r, "donationID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req assignWarehouseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	warehouseID, err := id.ParseWarehouseID(req.WarehouseID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	donation, err := h.donations.AssignWarehouse(r.Context(), donationID, warehouseID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, donation)
}

func (h *Handler) handleMarkDelivered(w http.ResponseWriter, r *http.Request) {
	donationID, err := id.ParseDonationID(chi.URLParam(r, "donationID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	donation, err := h.donations.MarkDelivered(r.Context(), donationID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, donation)
}

type createWarehouseRequest struct {
	Name     string `json:"name"`
	Region   string `json:"region"`
	Capacity int    `json:"capacity"`
}

func (h *Handler) handleCreateWarehouse(w http.ResponseWriter, r *http.Request) {
	var req createWarehouseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	warehouse, err := h.donations.CreateWarehouse(r.Context(), req.Name, req.Region, req.Capacity)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, warehouse)
}
