package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"aidbridge/internal/allocation/models"
	id "aidbridge/pkg/domain"
	"aidbridge/pkg/platform/sentinel"
)

type AllocationStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func TestAllocationStoreSuite(t *testing.T) {
	suite.Run(t, new(AllocationStoreSuite))
}

func (s *AllocationStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
}

func (s *AllocationStoreSuite) newAllocation(requestID id.RequestID, donationID id.DonationID, quantity int) *models.Allocation {
	allocation, err := models.NewAllocation(id.NewAllocationID(), requestID, donationID, quantity, id.NewPartyID(), s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, allocation))
	return allocation
}

func (s *AllocationStoreSuite) TestSumActiveForDonationSkipsCancelled() {
	donationID := id.NewDonationID()
	s.newAllocation(id.NewRequestID(), donationID, 100)
	cancelled := s.newAllocation(id.NewRequestID(), donationID, 70)
	s.newAllocation(id.NewRequestID(), id.NewDonationID(), 500)

	cancelled.Status = models.StatusCancelled
	s.Require().NoError(s.store.Update(s.ctx, cancelled))

	total, err := s.store.SumActiveForDonation(s.ctx, donationID)
	s.Require().NoError(err)
	s.Equal(100, total)
}

func (s *AllocationStoreSuite) TestListForRequest() {
	requestID := id.NewRequestID()
	first := s.newAllocation(requestID, id.NewDonationID(), 10)
	second := s.newAllocation(requestID, id.NewDonationID(), 20)
	s.newAllocation(id.NewRequestID(), id.NewDonationID(), 30)

	allocations, err := s.store.ListForRequest(s.ctx, requestID)
	s.Require().NoError(err)
	s.Require().Len(allocations, 2)
	ids := []id.AllocationID{allocations[0].ID, allocations[1].ID}
	s.Contains(ids, first.ID)
	s.Contains(ids, second.ID)
}

func (s *AllocationStoreSuite) TestActiveRouteExists() {
	allocation := s.newAllocation(id.NewRequestID(), id.NewDonationID(), 10)

	active, err := s.store.ActiveRouteExists(s.ctx, allocation.ID)
	s.Require().NoError(err)
	s.False(active)

	route := &models.Route{
		ID:           id.NewRouteID(),
		AllocationID: allocation.ID,
		Carrier:      "overland",
		Status:       models.RouteScheduled,
		ScheduledAt:  s.now,
		UpdatedAt:    s.now,
	}
	s.Require().NoError(s.store.CreateRoute(s.ctx, route))

	active, err = s.store.ActiveRouteExists(s.ctx, allocation.ID)
	s.Require().NoError(err)
	s.True(active)

	other := s.newAllocation(id.NewRequestID(), id.NewDonationID(), 5)
	s.Require().NoError(s.store.CreateRoute(s.ctx, &models.Route{
		ID:           id.NewRouteID(),
		AllocationID: other.ID,
		Carrier:      "overland",
		Status:       models.RouteCancelled,
		ScheduledAt:  s.now,
		UpdatedAt:    s.now,
	}))
	active, err = s.store.ActiveRouteExists(s.ctx, other.ID)
	s.Require().NoError(err)
	s.False(active)
}

func (s *AllocationStoreSuite) TestUpdateUnknownAllocation() {
	allocation, err := models.NewAllocation(id.NewAllocationID(), id.NewRequestID(), id.NewDonationID(), 5, id.NewPartyID(), s.now)
	s.Require().NoError(err)
	s.Require().ErrorIs(s.store.Update(s.ctx, allocation), sentinel.ErrNotFound)
}
