package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"aidbridge/internal/allocation/models"
	allocationstore "aidbridge/internal/allocation/store"
	"aidbridge/internal/conflict"
	donationmodels "aidbridge/internal/donation/models"
	donationstore "aidbridge/internal/donation/store"
	partymodels "aidbridge/internal/party/models"
	partystore "aidbridge/internal/party/store"
	requestmodels "aidbridge/internal/request/models"
	requeststore "aidbridge/internal/request/store"
	id "aidbridge/pkg/domain"
	dErrors "aidbridge/pkg/domain-errors"
	"aidbridge/pkg/platform/audit"
	auditmemory "aidbridge/pkg/platform/audit/store/memory"
	"aidbridge/pkg/platform/tx"
	"aidbridge/pkg/requestcontext"
)

type AllocationServiceSuite struct {
	suite.Suite
	ctx         context.Context
	adminCtx    context.Context
	now         time.Time
	requests    *requeststore.InMemory
	donations   *donationstore.InMemory
	allocations *allocationstore.InMemory
	parties     *partystore.InMemory
	service     *Service

	recipient *partymodels.Party
	supplier  *partymodels.Party
	request   *requestmodels.Request
	donation  *donationmodels.Donation
}

func TestAllocationServiceSuite(t *testing.T) {
	suite.Run(t, new(AllocationServiceSuite))
}

func (s *AllocationServiceSuite) SetupTest() {
	s.now = time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.requests = requeststore.NewInMemory()
	s.donations = donationstore.NewInMemory()
	s.allocations = allocationstore.NewInMemory()
	s.parties = partystore.NewInMemory()
	s.service = NewService(
		tx.NewMemoryRunner(),
		s.requests,
		s.donations,
		s.allocations,
		s.parties,
		conflict.NewGuard(),
		audit.NewPublisher(auditmemory.New()),
	)

	s.recipient = s.newParty(partymodels.RoleRecipient, true)
	s.supplier = s.newParty(partymodels.RoleSupplier, true)

	admin := s.newParty(partymodels.RoleAdmin, true)
	s.adminCtx = requestcontext.WithActor(s.ctx, admin.ID, requestcontext.RoleAdmin)

	s.request = s.newRequest(s.recipient.ID, requestmodels.StatusApproved)
	s.donation = s.newVerifiedDonation(500, nil, nil)
}

func (s *AllocationServiceSuite) newParty(role partymodels.Role, verified bool) *partymodels.Party {
	party, err := partymodels.NewParty(id.NewPartyID(), "party-"+string(role), role, "", "", "west", s.now)
	s.Require().NoError(err)
	party.Verified = verified
	s.Require().NoError(s.parties.Create(s.ctx, party))
	return party
}

func (s *AllocationServiceSuite) newRequest(recipientID id.PartyID, status requestmodels.Status) *requestmodels.Request {
	request, err := requestmodels.NewRequest(id.NewRequestID(), recipientID, 200, "west", nil, s.now, nil)
	s.Require().NoError(err)
	request.Status = status
	s.Require().NoError(s.requests.Create(s.ctx, request))
	return request
}

func (s *AllocationServiceSuite) newVerifiedDonation(quantity int, targeted *id.RequestID, expiry *time.Time) *donationmodels.Donation {
	donation, err := donationmodels.NewDonation(id.NewDonationID(), s.supplier.ID, donationmodels.TypeGoods, "blankets", quantity, targeted, expiry, s.now)
	s.Require().NoError(err)
	donation.ApplyVerification(s.now)
	s.Require().NoError(s.donations.Create(s.ctx, donation))
	return donation
}

func (s *AllocationServiceSuite) TestCreate() {
	s.Run("allocates within availability and decrements the cache", func() {
		allocation, err := s.service.Create(s.adminCtx, s.request.ID, s.donation.ID, 300)
		s.Require().NoError(err)
		s.Equal(models.StatusPending, allocation.Status)
		s.Equal(300, allocation.Quantity)

		donation, err := s.donations.FindByID(s.ctx, s.donation.ID)
		s.Require().NoError(err)
		s.Equal(donationmodels.StatusAllocated, donation.Status)
		s.Equal(200, donation.RemainingQuantity)
	})

	s.Run("rejects overallocation with the live availability", func() {
		_, err := s.service.Create(s.adminCtx, s.request.ID, s.donation.ID, 250)
		s.Require().Error(err)

		var domainErr *dErrors.Error
		s.Require().ErrorAs(err, &domainErr)
		s.Equal(dErrors.CodeConflict, domainErr.Code)
		s.Require().NotNil(domainErr.Remaining)
		s.Equal(200, *domainErr.Remaining)
	})

	s.Run("allows a second allocation that exactly drains the donation", func() {
		allocation, err := s.service.Create(s.adminCtx, s.request.ID, s.donation.ID, 200)
		s.Require().NoError(err)
		s.Equal(200, allocation.Quantity)

		donation, err := s.donations.FindByID(s.ctx, s.donation.ID)
		s.Require().NoError(err)
		s.Equal(0, donation.RemainingQuantity)
	})
}

func (s *AllocationServiceSuite) TestCreateRejections() {
	s.Run("rejects an unverified recipient", func() {
		unverified := s.newParty(partymodels.RoleRecipient, false)
		request := s.newRequest(unverified.ID, requestmodels.StatusApproved)

		_, err := s.service.Create(s.adminCtx, request.ID, s.donation.ID, 10)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("rejects an allocator whose identity matches the recipient", func() {
		recipient, err := partymodels.NewParty(id.NewPartyID(), "needy", partymodels.RoleRecipient, "+1-555-0100", "", "west", s.now)
		s.Require().NoError(err)
		recipient.Verified = true
		s.Require().NoError(s.parties.Create(s.ctx, recipient))
		request := s.newRequest(recipient.ID, requestmodels.StatusApproved)

		shadow, err := partymodels.NewParty(id.NewPartyID(), "shadow", partymodels.RoleSupplier, "+1 (555) 0100", "", "west", s.now)
		s.Require().NoError(err)
		s.Require().NoError(s.parties.Create(s.ctx, shadow))
		shadowCtx := requestcontext.WithActor(s.ctx, shadow.ID, requestcontext.RoleSupplier)

		_, err = s.service.Create(shadowCtx, request.ID, s.donation.ID, 100)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		donation, err := s.donations.FindByID(s.ctx, s.donation.ID)
		s.Require().NoError(err)
		s.Equal(500, donation.RemainingQuantity)
	})

	s.Run("rejects stock donated by the recipient's shadow account", func() {
		recipient, err := partymodels.NewParty(id.NewPartyID(), "needy-2", partymodels.RoleRecipient, "", "ID-42", "west", s.now)
		s.Require().NoError(err)
		recipient.Verified = true
		s.Require().NoError(s.parties.Create(s.ctx, recipient))
		request := s.newRequest(recipient.ID, requestmodels.StatusApproved)

		shadow, err := partymodels.NewParty(id.NewPartyID(), "shadow-2", partymodels.RoleSupplier, "", " ID-42 ", "west", s.now)
		s.Require().NoError(err)
		s.Require().NoError(s.parties.Create(s.ctx, shadow))
		donation, err := donationmodels.NewDonation(id.NewDonationID(), shadow.ID, donationmodels.TypeGoods, "rice", 80, nil, nil, s.now)
		s.Require().NoError(err)
		donation.ApplyVerification(s.now)
		s.Require().NoError(s.donations.Create(s.ctx, donation))

		_, err = s.service.Create(s.adminCtx, request.ID, donation.ID, 10)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("rejects a pending donation", func() {
		pending, err := donationmodels.NewDonation(id.NewDonationID(), s.supplier.ID, donationmodels.TypeGoods, "tents", 50, nil, nil, s.now)
		s.Require().NoError(err)
		s.Require().NoError(s.donations.Create(s.ctx, pending))

		_, err = s.service.Create(s.adminCtx, s.request.ID, pending.ID, 10)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("rejects an expired donation", func() {
		expiry := s.now.Add(time.Hour)
		expiring := s.newVerifiedDonation(50, nil, &expiry)

		lateCtx := requestcontext.WithActor(
			requestcontext.WithTime(context.Background(), s.now.Add(2*time.Hour)),
			requestcontext.ActorID(s.adminCtx),
			requestcontext.RoleAdmin,
		)
		_, err := s.service.Create(lateCtx, s.request.ID, expiring.ID, 10)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("honors a donation targeted at a different request", func() {
		other := s.newRequest(s.recipient.ID, requestmodels.StatusApproved)
		targeted := s.newVerifiedDonation(50, &other.ID, nil)

		_, err := s.service.Create(s.adminCtx, s.request.ID, targeted.ID, 10)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		_, err = s.service.Create(s.adminCtx, other.ID, targeted.ID, 10)
		s.Require().NoError(err)
	})

	s.Run("rejects non-positive quantities", func() {
		_, err := s.service.Create(s.adminCtx, s.request.ID, s.donation.ID, 0)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("cancelled allocations release their quantity", func() {
		allocation, err := s.service.Create(s.adminCtx, s.request.ID, s.donation.ID, 100)
		s.Require().NoError(err)

		allocation.Status = models.StatusCancelled
		s.Require().NoError(s.allocations.Update(s.ctx, allocation))
		donation, err := s.donations.FindByID(s.ctx, s.donation.ID)
		s.Require().NoError(err)
		donation.ReleaseAllocation(allocation.Quantity, s.now)
		s.Require().NoError(s.donations.Update(s.ctx, donation))

		second, err := s.service.Create(s.adminCtx, s.request.ID, s.donation.ID, 500)
		s.Require().NoError(err)
		s.Equal(500, second.Quantity)
	})
}

func (s *AllocationServiceSuite) TestAttachRoute() {
	s.Run("schedules a route and approves a pending request", func() {
		pendingRequest := s.newRequest(s.recipient.ID, requestmodels.StatusPending)
		allocation, err := s.service.Create(s.adminCtx, pendingRequest.ID, s.donation.ID, 50)
		s.Require().NoError(err)

		route, err := s.service.AttachRoute(s.adminCtx, allocation.ID, "northwind-logistics")
		s.Require().NoError(err)
		s.Equal(models.RouteScheduled, route.Status)
		s.Equal("northwind-logistics", route.Carrier)

		reloaded, err := s.requests.FindByID(s.ctx, pendingRequest.ID)
		s.Require().NoError(err)
		s.Equal(requestmodels.StatusApproved, reloaded.Status)

		approved, err := s.allocations.FindByID(s.ctx, allocation.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, approved.Status)
	})

	s.Run("rejects a second active route", func() {
		allocation, err := s.service.Create(s.adminCtx, s.request.ID, s.donation.ID, 50)
		s.Require().NoError(err)

		_, err = s.service.AttachRoute(s.adminCtx, allocation.ID, "first")
		s.Require().NoError(err)

		_, err = s.service.AttachRoute(s.adminCtx, allocation.ID, "second")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("rejects routes once the request has moved past approval", func() {
		claimed := s.newRequest(s.recipient.ID, requestmodels.StatusApproved)
		allocation, err := s.service.Create(s.adminCtx, claimed.ID, s.donation.ID, 50)
		s.Require().NoError(err)

		locked, err := s.requests.FindByID(s.ctx, claimed.ID)
		s.Require().NoError(err)
		locked.Status = requestmodels.StatusClaimed
		s.Require().NoError(s.requests.Update(s.ctx, locked))

		_, err = s.service.AttachRoute(s.adminCtx, allocation.ID, "late")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("unknown allocations are not found", func() {
		_, err := s.service.AttachRoute(s.adminCtx, id.NewAllocationID(), "nobody")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *AllocationServiceSuite) TestMarkDelivered() {
	allocation, err := s.service.Create(s.adminCtx, s.request.ID, s.donation.ID, 50)
	s.Require().NoError(err)

	s.Run("records the delivered signal", func() {
		delivered, err := s.service.MarkDelivered(s.adminCtx, allocation.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusDelivered, delivered.Status)
	})

	s.Run("delivery is not repeatable", func() {
		_, err := s.service.MarkDelivered(s.adminCtx, allocation.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("cancelled allocations cannot be delivered", func() {
		other, err := s.service.Create(s.adminCtx, s.request.ID, s.donation.ID, 50)
		s.Require().NoError(err)
		other.Status = models.StatusCancelled
		s.Require().NoError(s.allocations.Update(s.ctx, other))

		_, err = s.service.MarkDelivered(s.adminCtx, other.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}
