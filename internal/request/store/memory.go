package store

import (
	"context"
	"sync"
	"time"

	"aidbridge/internal/request/models"
	id "aidbridge/pkg/domain"
	"aidbridge/pkg/platform/sentinel"
)

// InMemory keeps requests in a map guarded by a mutex. Row-lock semantics
// come from the unit-of-work mutex in the in-memory StoreTx, so the ForUpdate
// variant only differs for the Postgres store.
type InMemory struct {
	mu       sync.RWMutex
	requests map[id.RequestID]*models.Request
}

// NewInMemory creates an empty in-memory request store.
func NewInMemory() *InMemory {
	return &InMemory{requests: make(map[id.RequestID]*models.Request)}
}

// Create stores a new request.
func (s *InMemory) Create(_ context.Context, request *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[request.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	copied := *request
	s.requests[request.ID] = &copied
	return nil
}

// FindByID returns a copy of the request or sentinel.ErrNotFound.
func (s *InMemory) FindByID(_ context.Context, requestID id.RequestID) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(requestID)
}

// FindByIDForUpdate is FindByID here; exclusion is provided by the
// unit-of-work lock.
func (s *InMemory) FindByIDForUpdate(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	return s.FindByID(ctx, requestID)
}

// Update persists the mutated request.
func (s *InMemory) Update(_ context.Context, request *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[request.ID]; !exists {
		return sentinel.ErrNotFound
	}
	copied := *request
	s.requests[request.ID] = &copied
	return nil
}

// ListStale returns non-terminal requests created before the cutoff.
func (s *InMemory) ListStale(_ context.Context, cutoff time.Time) ([]*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stale []*models.Request
	for _, request := range s.requests {
		if !request.Status.IsTerminal() && request.CreatedAt.Before(cutoff) {
			copied := *request
			stale = append(stale, &copied)
		}
	}
	return stale, nil
}

// ListAll returns every request. Read-model input.
func (s *InMemory) ListAll(_ context.Context) ([]*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*models.Request, 0, len(s.requests))
	for _, request := range s.requests {
		copied := *request
		all = append(all, &copied)
	}
	return all, nil
}

func (s *InMemory) find(requestID id.RequestID) (*models.Request, error) {
	request, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *request
	return &copied, nil
}
