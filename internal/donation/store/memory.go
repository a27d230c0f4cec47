package store

import (
	"context"
	"sync"

	"aidbridge/internal/donation/models"
	id "aidbridge/pkg/domain"
	"aidbridge/pkg/platform/sentinel"
)

// InMemory keeps donations and warehouses in maps guarded by a mutex.
type InMemory struct {
	mu         sync.RWMutex
	donations  map[id.DonationID]*models.Donation
	warehouses map[id.WarehouseID]*models.Warehouse
}

// NewInMemory creates an empty in-memory donation store.
func NewInMemory() *InMemory {
	return &InMemory{
		donations:  make(map[id.DonationID]*models.Donation),
		warehouses: make(map[id.WarehouseID]*models.Warehouse),
	}
}

// Create stores a new donation.
func (s *InMemory) Create(_ context.Context, donation *models.Donation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.donations[donation.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	copied := *donation
	s.donations[donation.ID] = &copied
	return nil
}

// FindByID returns a copy of the donation or sentinel.ErrNotFound.
func (s *InMemory) FindByID(_ context.Context, donationID id.DonationID) (*models.Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	donation, ok := s.donations[donationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *donation
	return &copied, nil
}

// FindByIDForUpdate matches the PostgreSQL store's locking signature. The
// in-memory store has no row locks; callers serialize through the store
// transaction instead.
func (s *InMemory) FindByIDForUpdate(ctx context.Context, donationID id.DonationID) (*models.Donation, error) {
	return s.FindByID(ctx, donationID)
}

// Update persists the mutated donation.
func (s *InMemory) Update(_ context.Context, donation *models.Donation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.donations[donation.ID]; !exists {
		return sentinel.ErrNotFound
	}
	copied := *donation
	s.donations[donation.ID] = &copied
	return nil
}

// ListAll returns every donation. Read-model input.
func (s *InMemory) ListAll(_ context.Context) ([]*models.Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	donations := make([]*models.Donation, 0, len(s.donations))
	for _, donation := range s.donations {
		copied := *donation
		donations = append(donations, &copied)
	}
	return donations, nil
}

// SumNonDeliveredAtWarehouse totals the quantity of non-delivered,
// non-rejected donations assigned to a warehouse.
func (s *InMemory) SumNonDeliveredAtWarehouse(_ context.Context, warehouseID id.WarehouseID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, donation := range s.donations {
		if donation.WarehouseID == nil || *donation.WarehouseID != warehouseID {
			continue
		}
		if donation.Status == models.StatusDelivered || donation.Status == models.StatusRejected {
			continue
		}
		total += donation.Quantity
	}
	return total, nil
}

// CreateWarehouse stores a warehouse.
func (s *InMemory) CreateWarehouse(_ context.Context, warehouse *models.Warehouse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.warehouses[warehouse.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	copied := *warehouse
	s.warehouses[warehouse.ID] = &copied
	return nil
}

// FindWarehouseByID returns a copy of the warehouse or sentinel.ErrNotFound.
func (s *InMemory) FindWarehouseByID(_ context.Context, warehouseID id.WarehouseID) (*models.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	warehouse, ok := s.warehouses[warehouseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *warehouse
	return &copied, nil
}
