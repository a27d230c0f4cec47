package service

import (
	"context"
	"errors"
	"fmt"

	"aidbridge/internal/party/models"
	id "aidbridge/pkg/domain"
	dErrors "aidbridge/pkg/domain-errors"
	"aidbridge/pkg/platform/sentinel"
	"aidbridge/pkg/requestcontext"
)

// Store persists parties.
type Store interface {
	Create(ctx context.Context, party *models.Party) error
	FindByID(ctx context.Context, partyID id.PartyID) (*models.Party, error)
	SetVerified(ctx context.Context, partyID id.PartyID, verified bool) error
}

// Service registers marketplace participants and records the external
// identity-verification outcome. The verification workflow itself lives
// outside this engine; only its boolean lands here.
type Service struct {
	store Store
}

// NewService builds the party service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Register creates a participant.
func (s *Service) Register(ctx context.Context, name string, role models.Role, phone, nationalID, region string) (*models.Party, error) {
	party, err := models.NewParty(id.NewPartyID(), name, role, phone, nationalID, region, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, party); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, "party already exists")
		}
		return nil, fmt.Errorf("create party: %w", err)
	}
	return party, nil
}

// Get returns a participant by id.
func (s *Service) Get(ctx context.Context, partyID id.PartyID) (*models.Party, error) {
	party, err := s.store.FindByID(ctx, partyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "party not found")
		}
		return nil, fmt.Errorf("find party: %w", err)
	}
	return party, nil
}

// SetVerified records the verification workflow's outcome.
func (s *Service) SetVerified(ctx context.Context, partyID id.PartyID, verified bool) error {
	if err := s.store.SetVerified(ctx, partyID, verified); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "party not found")
		}
		return fmt.Errorf("set verified: %w", err)
	}
	return nil
}
