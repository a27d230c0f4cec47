package store

import (
	"context"
	"sync"

	"aidbridge/internal/contribution/models"
	id "aidbridge/pkg/domain"
	"aidbridge/pkg/platform/sentinel"
)

// InMemory keeps contributions in a map guarded by a mutex.
type InMemory struct {
	mu            sync.RWMutex
	contributions map[id.ContributionID]*models.Contribution
}

// NewInMemory creates an empty in-memory contribution store.
func NewInMemory() *InMemory {
	return &InMemory{contributions: make(map[id.ContributionID]*models.Contribution)}
}

// Create stores a new contribution.
func (s *InMemory) Create(_ context.Context, contribution *models.Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.contributions[contribution.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	copied := *contribution
	s.contributions[contribution.ID] = &copied
	return nil
}

// FindByID returns a copy of the contribution or sentinel.ErrNotFound.
func (s *InMemory) FindByID(_ context.Context, contributionID id.ContributionID) (*models.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	contribution, ok := s.contributions[contributionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *contribution
	return &copied, nil
}

// Update persists the mutated contribution.
func (s *InMemory) Update(_ context.Context, contribution *models.Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.contributions[contribution.ID]; !exists {
		return sentinel.ErrNotFound
	}
	copied := *contribution
	s.contributions[contribution.ID] = &copied
	return nil
}

// SumCommitted returns the committed percentage total for a request.
func (s *InMemory) SumCommitted(_ context.Context, requestID id.RequestID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, contribution := range s.contributions {
		if contribution.RequestID == requestID && contribution.Status == models.StatusCommitted {
			total += contribution.Percentage
		}
	}
	return total, nil
}

// FindCommittedBySupplier returns the supplier's committed contribution on a
// request, or sentinel.ErrNotFound.
func (s *InMemory) FindCommittedBySupplier(_ context.Context, requestID id.RequestID, supplierID id.PartyID) (*models.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, contribution := range s.contributions {
		if contribution.RequestID == requestID &&
			contribution.SupplierID == supplierID &&
			contribution.Status == models.StatusCommitted {
			copied := *contribution
			return &copied, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// ListCommitted returns all committed contributions for a request.
func (s *InMemory) ListCommitted(_ context.Context, requestID id.RequestID) ([]*models.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var committed []*models.Contribution
	for _, contribution := range s.contributions {
		if contribution.RequestID == requestID && contribution.Status == models.StatusCommitted {
			copied := *contribution
			committed = append(committed, &copied)
		}
	}
	return committed, nil
}
