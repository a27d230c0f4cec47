package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	partymodels "aidbridge/internal/party/models"
	"aidbridge/internal/transport/http/shared"
	id "aidbridge/pkg/domain"
	dErrors "aidbridge/pkg/domain-errors"
)

const accessTokenTTL = time.Hour

// PartyService resolves the party a token is issued for.
type PartyService interface {
	Get(ctx context.Context, partyID id.PartyID) (*partymodels.Party, error)
}

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	GenerateAccessToken(actorID id.PartyID, role string, expiresIn time.Duration) (string, error)
}

// Handler issues access tokens for registered parties. Credential
// verification belongs to the external identity provider; this endpoint
// binds its outcome to the engine's role model.
type Handler struct {
	parties PartyService
	issuer  TokenIssuer
	logger  *slog.Logger
}

// New creates an auth Handler.
func New(parties PartyService, issuer TokenIssuer, logger *slog.Logger) *Handler {
	return &Handler{parties: parties, issuer: issuer, logger: logger}
}

// Register mounts the token route.
func (h *Handler) Register(r chi.Router) {
	r.Post("/auth/token", h.handleToken)
}

type tokenRequest struct {
	PartyID string `json:"party_id"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	partyID, err := id.ParsePartyID(req.PartyID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	party, err := h.parties.Get(r.Context(), partyID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	token, err := h.issuer.GenerateAccessToken(party.ID, string(party.Role), accessTokenTTL)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "token signing failed", "error", err.Error())
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "could not issue token"))
		return
	}
	shared.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(accessTokenTTL.Seconds()),
	})
}
