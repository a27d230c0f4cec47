package service

//go:generate mockgen -destination=mocks/mocks.go -package=mocks aidbridge/internal/request/service Scorer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	allocationmodels "aidbridge/internal/allocation/models"
	allocationstore "aidbridge/internal/allocation/store"
	"aidbridge/internal/conflict"
	contributionmodels "aidbridge/internal/contribution/models"
	contributionstore "aidbridge/internal/contribution/store"
	partymodels "aidbridge/internal/party/models"
	partystore "aidbridge/internal/party/store"
	"aidbridge/internal/request/models"
	"aidbridge/internal/request/service/mocks"
	requeststore "aidbridge/internal/request/store"
	id "aidbridge/pkg/domain"
	dErrors "aidbridge/pkg/domain-errors"
	"aidbridge/pkg/platform/audit"
	auditmemory "aidbridge/pkg/platform/audit/store/memory"
	"aidbridge/pkg/platform/tx"
	"aidbridge/pkg/requestcontext"
)

const testStaleAge = 30 * 24 * time.Hour

type recordingScorer struct {
	enqueued []id.RequestID
}

func (r *recordingScorer) Enqueue(requestID id.RequestID) {
	r.enqueued = append(r.enqueued, requestID)
}

type RequestServiceSuite struct {
	suite.Suite
	ctx           context.Context
	now           time.Time
	requests      *requeststore.InMemory
	contributions *contributionstore.InMemory
	allocations   *allocationstore.InMemory
	parties       *partystore.InMemory
	auditStore    *auditmemory.Store
	scorer        *recordingScorer
	service       *Service

	recipient *partymodels.Party
	supplier  *partymodels.Party
	admin     *partymodels.Party
}

func TestRequestServiceSuite(t *testing.T) {
	suite.Run(t, new(RequestServiceSuite))
}

func (s *RequestServiceSuite) SetupTest() {
	s.now = time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.requests = requeststore.NewInMemory()
	s.contributions = contributionstore.NewInMemory()
	s.allocations = allocationstore.NewInMemory()
	s.parties = partystore.NewInMemory()
	s.auditStore = auditmemory.New()
	s.scorer = &recordingScorer{}
	s.service = NewService(
		tx.NewMemoryRunner(),
		s.requests,
		s.contributions,
		s.allocations,
		s.parties,
		conflict.NewGuard(),
		audit.NewPublisher(s.auditStore),
		testStaleAge,
		WithScorer(s.scorer),
	)

	s.recipient = s.newParty(partymodels.RoleRecipient, "+44 20 7946 0100", "UK-R-1")
	s.supplier = s.newParty(partymodels.RoleSupplier, "+44 20 7946 0200", "UK-S-1")
	s.admin = s.newParty(partymodels.RoleAdmin, "", "")
}

func (s *RequestServiceSuite) newParty(role partymodels.Role, phone, nationalID string) *partymodels.Party {
	party, err := partymodels.NewParty(id.NewPartyID(), "party-"+string(role), role, phone, nationalID, "east", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.parties.Create(s.ctx, party))
	return party
}

func (s *RequestServiceSuite) as(party *partymodels.Party, role requestcontext.Role) context.Context {
	return requestcontext.WithActor(s.ctx, party.ID, role)
}

func (s *RequestServiceSuite) createApproved() *models.Request {
	request, err := s.service.Create(s.as(s.recipient, requestcontext.RoleRecipient), 40, "east", nil, nil)
	s.Require().NoError(err)
	approved, err := s.service.Approve(s.as(s.admin, requestcontext.RoleAdmin), request.ID)
	s.Require().NoError(err)
	return approved
}

func (s *RequestServiceSuite) claimAs(supplier *partymodels.Party, requestID id.RequestID) *models.Request {
	claimed, err := s.service.Claim(s.as(supplier, requestcontext.RoleSupplier), requestID)
	s.Require().NoError(err)
	return claimed
}

func (s *RequestServiceSuite) TestCreate() {
	s.Run("registers a pending request and enqueues a re-score", func() {
		ctx := s.as(s.recipient, requestcontext.RoleRecipient)
		request, err := s.service.Create(ctx, 25, "east", nil, nil)
		s.Require().NoError(err)
		s.Equal(models.StatusPending, request.Status)
		s.Equal(models.FundingUnfunded, request.FundingStatus)
		s.Equal([]id.RequestID{request.ID}, s.scorer.enqueued)
	})

	s.Run("rejects unknown recipients", func() {
		ctx := requestcontext.WithActor(s.ctx, id.NewPartyID(), requestcontext.RoleRecipient)
		_, err := s.service.Create(ctx, 25, "east", nil, nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("rejects non-positive quantities", func() {
		ctx := s.as(s.recipient, requestcontext.RoleRecipient)
		_, err := s.service.Create(ctx, 0, "east", nil, nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func (s *RequestServiceSuite) TestApprove() {
	ctx := s.as(s.recipient, requestcontext.RoleRecipient)
	request, err := s.service.Create(ctx, 25, "east", nil, nil)
	s.Require().NoError(err)

	approved, err := s.service.Approve(s.as(s.admin, requestcontext.RoleAdmin), request.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, approved.Status)

	_, err = s.service.Approve(s.as(s.admin, requestcontext.RoleAdmin), request.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *RequestServiceSuite) TestClaim() {
	s.Run("records the claim as a full contribution", func() {
		request := s.createApproved()
		claimed := s.claimAs(s.supplier, request.ID)

		s.Equal(models.StatusClaimed, claimed.Status)
		s.Equal(models.FundingFullyFunded, claimed.FundingStatus)
		s.Require().NotNil(claimed.AssignedSupplierID)
		s.Equal(s.supplier.ID, *claimed.AssignedSupplierID)

		claim, err := s.contributions.FindCommittedBySupplier(s.ctx, request.ID, s.supplier.ID)
		s.Require().NoError(err)
		s.Equal(100, claim.Percentage)
	})

	s.Run("rejects claiming a partially funded request with the remainder", func() {
		request := s.createApproved()
		pledge, err := contributionmodels.NewContribution(id.NewContributionID(), request.ID, s.supplier.ID, 30, nil, s.now)
		s.Require().NoError(err)
		s.Require().NoError(s.contributions.Create(s.ctx, pledge))

		other := s.newParty(partymodels.RoleSupplier, "+44 20 7946 0300", "UK-S-2")
		_, err = s.service.Claim(s.as(other, requestcontext.RoleSupplier), request.ID)
		s.Require().Error(err)

		var domainErr *dErrors.Error
		s.Require().ErrorAs(err, &domainErr)
		s.Equal(dErrors.CodeConflict, domainErr.Code)
		s.Require().NotNil(domainErr.Remaining)
		s.Equal(70, *domainErr.Remaining)
	})

	s.Run("rejects a supplier account sharing the recipient's phone", func() {
		request := s.createApproved()
		shadow := s.newParty(partymodels.RoleSupplier, "+44-20-7946-0100", "UK-X-9")

		_, err := s.service.Claim(s.as(shadow, requestcontext.RoleSupplier), request.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("rejects claiming a pending request", func() {
		ctx := s.as(s.recipient, requestcontext.RoleRecipient)
		request, err := s.service.Create(ctx, 25, "east", nil, nil)
		s.Require().NoError(err)

		_, err = s.service.Claim(s.as(s.supplier, requestcontext.RoleSupplier), request.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func (s *RequestServiceSuite) TestRecedeCycle() {
	request := s.createApproved()
	s.claimAs(s.supplier, request.ID)

	s.Run("only the assigned supplier can request recede", func() {
		other := s.newParty(partymodels.RoleSupplier, "+44 20 7946 0400", "UK-S-3")
		_, err := s.service.RequestRecede(s.as(other, requestcontext.RoleSupplier), request.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("the assigned supplier parks the request for review", func() {
		receding, err := s.service.RequestRecede(s.as(s.supplier, requestcontext.RoleSupplier), request.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusRecedeRequested, receding.Status)
	})

	s.Run("approval withdraws the claim and reopens the request", func() {
		reopened, err := s.service.ApproveRecede(s.as(s.admin, requestcontext.RoleAdmin), request.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, reopened.Status)
		s.Equal(models.FundingUnfunded, reopened.FundingStatus)
		s.Nil(reopened.AssignedSupplierID)

		total, err := s.contributions.SumCommitted(s.ctx, request.ID)
		s.Require().NoError(err)
		s.Equal(0, total)
	})

	s.Run("the reopened request can be claimed again", func() {
		other := s.newParty(partymodels.RoleSupplier, "+44 20 7946 0500", "UK-S-4")
		claimed := s.claimAs(other, request.ID)
		s.Equal(models.StatusClaimed, claimed.Status)
	})
}

func (s *RequestServiceSuite) TestComplete() {
	s.Run("completes a claimed request with no allocations", func() {
		request := s.createApproved()
		s.claimAs(s.supplier, request.ID)

		completed, err := s.service.Complete(s.as(s.recipient, requestcontext.RoleRecipient), request.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusCompleted, completed.Status)
	})

	s.Run("requires a delivered allocation when allocations exist", func() {
		request := s.createApproved()
		s.claimAs(s.supplier, request.ID)

		allocation, err := allocationmodels.NewAllocation(id.NewAllocationID(), request.ID, id.NewDonationID(), 10, s.admin.ID, s.now)
		s.Require().NoError(err)
		s.Require().NoError(s.allocations.Create(s.ctx, allocation))

		_, err = s.service.Complete(s.as(s.recipient, requestcontext.RoleRecipient), request.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

		allocation.ApplyDelivery(s.now)
		s.Require().NoError(s.allocations.Update(s.ctx, allocation))

		completed, err := s.service.Complete(s.as(s.recipient, requestcontext.RoleRecipient), request.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusCompleted, completed.Status)
	})

	s.Run("cannot complete an unclaimed request", func() {
		request := s.createApproved()
		_, err := s.service.Complete(s.as(s.recipient, requestcontext.RoleRecipient), request.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func (s *RequestServiceSuite) TestCancel() {
	s.Run("the recipient cancels their own request", func() {
		request := s.createApproved()
		cancelled, err := s.service.Cancel(s.as(s.recipient, requestcontext.RoleRecipient), request.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusCancelled, cancelled.Status)
	})

	s.Run("strangers cannot cancel", func() {
		request := s.createApproved()
		_, err := s.service.Cancel(s.as(s.supplier, requestcontext.RoleSupplier), request.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("terminal requests stay terminal", func() {
		request := s.createApproved()
		_, err := s.service.Cancel(s.as(s.recipient, requestcontext.RoleRecipient), request.ID)
		s.Require().NoError(err)

		_, err = s.service.Cancel(s.as(s.admin, requestcontext.RoleAdmin), request.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func (s *RequestServiceSuite) TestFlagStaleAndBatchDispose() {
	stale := s.createApproved()
	aged, err := s.requests.FindByID(s.ctx, stale.ID)
	s.Require().NoError(err)
	aged.CreatedAt = s.now.Add(-testStaleAge - time.Hour)
	s.Require().NoError(s.requests.Update(s.ctx, aged))

	fresh := s.createApproved()

	s.Run("flags only requests past the review threshold", func() {
		flagged, err := s.service.FlagStale(s.as(s.admin, requestcontext.RoleAdmin))
		s.Require().NoError(err)
		s.Equal(1, flagged)

		reloaded, err := s.requests.FindByID(s.ctx, stale.ID)
		s.Require().NoError(err)
		s.True(reloaded.Flagged)

		untouched, err := s.requests.FindByID(s.ctx, fresh.ID)
		s.Require().NoError(err)
		s.False(untouched.Flagged)
	})

	s.Run("flagging is idempotent", func() {
		flagged, err := s.service.FlagStale(s.as(s.admin, requestcontext.RoleAdmin))
		s.Require().NoError(err)
		s.Equal(0, flagged)
	})

	s.Run("boost clears the flag and marks the request", func() {
		disposed, err := s.service.BatchDispose(s.as(s.admin, requestcontext.RoleAdmin), []id.RequestID{stale.ID}, DisposeBoost)
		s.Require().NoError(err)
		s.Require().Len(disposed, 1)
		s.True(disposed[0].UrgencyBoosted)
		s.False(disposed[0].Flagged)
	})

	s.Run("close moves the request to its terminal state", func() {
		disposed, err := s.service.BatchDispose(s.as(s.admin, requestcontext.RoleAdmin), []id.RequestID{fresh.ID}, DisposeClose)
		s.Require().NoError(err)
		s.Require().Len(disposed, 1)
		s.Equal(models.StatusClosedNoMatch, disposed[0].Status)
	})

	s.Run("missing and terminal ids are skipped", func() {
		disposed, err := s.service.BatchDispose(
			s.as(s.admin, requestcontext.RoleAdmin),
			[]id.RequestID{id.NewRequestID(), fresh.ID},
			DisposeClose,
		)
		s.Require().NoError(err)
		s.Empty(disposed)
	})

	s.Run("unknown actions are rejected", func() {
		_, err := s.service.BatchDispose(s.as(s.admin, requestcontext.RoleAdmin), nil, DisposeAction("purge"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestCreateNotifiesScorer(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	now := time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	parties := partystore.NewInMemory()
	recipient, err := partymodels.NewParty(id.NewPartyID(), "recipient", partymodels.RoleRecipient, "", "", "east", now)
	require.NoError(t, err)
	require.NoError(t, parties.Create(ctx, recipient))

	scorer := mocks.NewMockScorer(ctrl)
	svc := NewService(
		tx.NewMemoryRunner(),
		requeststore.NewInMemory(),
		contributionstore.NewInMemory(),
		allocationstore.NewInMemory(),
		parties,
		conflict.NewGuard(),
		audit.NewPublisher(auditmemory.New()),
		testStaleAge,
		WithScorer(scorer),
	)
	actorCtx := requestcontext.WithActor(ctx, recipient.ID, requestcontext.RoleRecipient)

	scorer.EXPECT().Enqueue(gomock.Any()).Times(1)
	request, err := svc.Create(actorCtx, 15, "east", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, request)

	// A rejected create never reaches the scoring queue.
	_, err = svc.Create(actorCtx, 0, "east", nil, nil)
	require.Error(t, err)
}
