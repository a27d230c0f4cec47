package store

import (
	"context"
	"sync"

	"aidbridge/internal/allocation/models"
	id "aidbridge/pkg/domain"
	"aidbridge/pkg/platform/sentinel"
)

// InMemory keeps allocations and routes in maps guarded by a mutex.
type InMemory struct {
	mu          sync.RWMutex
	allocations map[id.AllocationID]*models.Allocation
	routes      map[id.RouteID]*models.Route
}

// NewInMemory creates an empty in-memory allocation store.
func NewInMemory() *InMemory {
	return &InMemory{
		allocations: make(map[id.AllocationID]*models.Allocation),
		routes:      make(map[id.RouteID]*models.Route),
	}
}

// Create stores a new allocation.
func (s *InMemory) Create(_ context.Context, allocation *models.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.allocations[allocation.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	copied := *allocation
	s.allocations[allocation.ID] = &copied
	return nil
}

// FindByID returns a copy of the allocation or sentinel.ErrNotFound.
func (s *InMemory) FindByID(_ context.Context, allocationID id.AllocationID) (*models.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	allocation, ok := s.allocations[allocationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *allocation
	return &copied, nil
}

// Update persists the mutated allocation.
func (s *InMemory) Update(_ context.Context, allocation *models.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.allocations[allocation.ID]; !exists {
		return sentinel.ErrNotFound
	}
	copied := *allocation
	s.allocations[allocation.ID] = &copied
	return nil
}

// SumActiveForDonation totals quantity over non-cancelled allocations that
// reference the donation.
func (s *InMemory) SumActiveForDonation(_ context.Context, donationID id.DonationID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, allocation := range s.allocations {
		if allocation.DonationID == donationID && allocation.Status.CountsAgainstStock() {
			total += allocation.Quantity
		}
	}
	return total, nil
}

// ListForRequest returns all allocations referencing a request.
func (s *InMemory) ListForRequest(_ context.Context, requestID id.RequestID) ([]*models.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var allocations []*models.Allocation
	for _, allocation := range s.allocations {
		if allocation.RequestID == requestID {
			copied := *allocation
			allocations = append(allocations, &copied)
		}
	}
	return allocations, nil
}

// CreateRoute stores a new route.
func (s *InMemory) CreateRoute(_ context.Context, route *models.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.routes[route.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	copied := *route
	s.routes[route.ID] = &copied
	return nil
}

// ActiveRouteExists reports whether a scheduled or in-transit route already
// references the allocation.
func (s *InMemory) ActiveRouteExists(_ context.Context, allocationID id.AllocationID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, route := range s.routes {
		if route.AllocationID == allocationID && route.Status.IsActive() {
			return true, nil
		}
	}
	return false, nil
}
