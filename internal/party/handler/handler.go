package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"aidbridge/internal/party/models"
	"aidbridge/internal/transport/http/shared"
	id "aidbridge/pkg/domain"
	dErrors "aidbridge/pkg/domain-errors"
)

// Service defines the interface for party operations.
type Service interface {
	Register(ctx context.Context, name string, role models.Role, phone, nationalID, region string) (*models.Party, error)
	Get(ctx context.Context, partyID id.PartyID) (*models.Party, error)
	SetVerified(ctx context.Context, partyID id.PartyID, verified bool) error
}

// Handler exposes party registration and the verification webhook. The
// verification endpoint is where the external KYC workflow reports its
// boolean outcome.
type Handler struct {
	parties Service
	logger  *slog.Logger
}

// New creates a party Handler.
func New(parties Service, logger *slog.Logger) *Handler {
	return &Handler{parties: parties, logger: logger}
}

// Register mounts the authenticated party routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/parties/{partyID}", h.handleGet)
	r.Post("/parties/{partyID}/verified", h.handleSetVerified)
}

// RegisterPublic mounts the unauthenticated registration route.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/parties", h.handleRegister)
}

type registerRequest struct {
	Name       string `json:"name"`
	Role       string `json:"role"`
	Phone      string `json:"phone,omitempty"`
	NationalID string `json:"national_id,omitempty"`
	Region     string `json:"region,omitempty"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	party, err := h.parties.Register(r.Context(), req.Name, models.Role(req.Role), req.Phone, req.NationalID, req.Region)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, party)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	partyID, err := id.ParsePartyID(chi.URLParam(r, "partyID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	party, err := h.parties.Get(r.Context(), partyID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, party)
}

type setVerifiedRequest struct {
	Verified bool `json:"verified"`
}

func (h *Handler) handleSetVerified(w http.ResponseWriter, r *http.Request) {
	partyID, err := id.ParsePartyID(chi.URLParam(r, "partyID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req setVerifiedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.parties.SetVerified(r.Context(), partyID, req.Verified); err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusNoContent, nil)
}
