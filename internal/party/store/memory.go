package store

import (
	"context"
	"sync"

	"aidbridge/internal/party/models"
	id "aidbridge/pkg/domain"
	"aidbridge/pkg/platform/sentinel"
)

// InMemory keeps parties in a map guarded by a mutex. Suitable for unit tests
// and local runs.
type InMemory struct {
	mu      sync.RWMutex
	parties map[id.PartyID]*models.Party
}

// NewInMemory creates an empty in-memory party store.
func NewInMemory() *InMemory {
	return &InMemory{parties: make(map[id.PartyID]*models.Party)}
}

// Create stores a new party.
func (s *InMemory) Create(_ context.Context, party *models.Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.parties[party.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	copied := *party
	s.parties[party.ID] = &copied
	return nil
}

// FindByID returns the party or sentinel.ErrNotFound.
func (s *InMemory) FindByID(_ context.Context, partyID id.PartyID) (*models.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	party, ok := s.parties[partyID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *party
	return &copied, nil
}

// SetVerified flips the external verification flag.
func (s *InMemory) SetVerified(_ context.Context, partyID id.PartyID, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	party, ok := s.parties[partyID]
	if !ok {
		return sentinel.ErrNotFound
	}
	party.Verified = verified
	return nil
}
