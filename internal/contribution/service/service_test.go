package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"aidbridge/internal/conflict"
	"aidbridge/internal/contribution/models"
	contributionstore "aidbridge/internal/contribution/store"
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

type ContributionServiceSuite struct {
	suite.Suite
	ctx           context.Context
	now           time.Time
	requests      *requeststore.InMemory
	contributions *contributionstore.InMemory
	parties       *partystore.InMemory
	auditStore    *auditmemory.Store
	service       *Service

	recipient *partymodels.Party
	request   *requestmodels.Request
}

func TestContributionServiceSuite(t *testing.T) {
	suite.Run(t, new(ContributionServiceSuite))
}

func (s *ContributionServiceSuite) SetupTest() {
	s.now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.requests = requeststore.NewInMemory()
	s.contributions = contributionstore.NewInMemory()
	s.parties = partystore.NewInMemory()
	s.auditStore = auditmemory.New()
	s.service = NewService(
		tx.NewMemoryRunner(),
		s.requests,
		s.contributions,
		s.parties,
		conflict.NewGuard(),
		audit.NewPublisher(s.auditStore),
	)

	s.recipient = s.newParty(partymodels.RoleRecipient, "+1-202-555-0100", "NID-R-1")
	s.request = s.newApprovedRequest(s.recipient.ID)
}

func (s *ContributionServiceSuite) newParty(role partymodels.Role, phone, nationalID string) *partymodels.Party {
	party, err := partymodels.NewParty(id.NewPartyID(), "party "+phone, role, phone, nationalID, "north", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.parties.Create(s.ctx, party))
	return party
}

func (s *ContributionServiceSuite) newApprovedRequest(recipientID id.PartyID) *requestmodels.Request {
	request, err := requestmodels.NewRequest(id.NewRequestID(), recipientID, 100, "north", nil, s.now, nil)
	s.Require().NoError(err)
	request.ApplyApproval(s.now)
	s.Require().NoError(s.requests.Create(s.ctx, request))
	return request
}

func (s *ContributionServiceSuite) asSupplier(phone, nationalID string) (context.Context, *partymodels.Party) {
	supplier := s.newParty(partymodels.RoleSupplier, phone, nationalID)
	return requestcontext.WithActor(s.ctx, supplier.ID, requestcontext.RoleSupplier), supplier
}

func (s *ContributionServiceSuite) fundingTotal() int {
	total, err := s.contributions.SumCommitted(s.ctx, s.request.ID)
	s.Require().NoError(err)
	return total
}

func (s *ContributionServiceSuite) reloadRequest() *requestmodels.Request {
	request, err := s.requests.FindByID(s.ctx, s.request.ID)
	s.Require().NoError(err)
	return request
}

func (s *ContributionServiceSuite) TestCommit() {
	s.Run("records pledge and derives partial funding", func() {
		ctx, supplier := s.asSupplier("+1-202-555-0101", "NID-S-1")

		contribution, err := s.service.Commit(ctx, s.request.ID, 60, nil)
		s.Require().NoError(err)
		s.Equal(supplier.ID, contribution.SupplierID)
		s.Equal(models.StatusCommitted, contribution.Status)

		request := s.reloadRequest()
		s.Equal(requestmodels.FundingPartiallyFunded, request.FundingStatus)
		s.Equal(requestmodels.StatusApproved, request.Status)
	})

	s.Run("rejects overcommit and reports the remaining share", func() {
		ctx, _ := s.asSupplier("+1-202-555-0102", "NID-S-2")

		_, err := s.service.Commit(ctx, s.request.ID, 50, nil)
		s.Require().Error(err)

		var domainErr *dErrors.Error
		s.Require().ErrorAs(err, &domainErr)
		s.Equal(dErrors.CodeConflict, domainErr.Code)
		s.Require().NotNil(domainErr.Remaining)
		s.Equal(40, *domainErr.Remaining)
		s.Equal(60, s.fundingTotal())
	})

	s.Run("flips the request to claimed when the sum reaches 100", func() {
		ctx, _ := s.asSupplier("+1-202-555-0103", "NID-S-3")

		_, err := s.service.Commit(ctx, s.request.ID, 40, nil)
		s.Require().NoError(err)

		request := s.reloadRequest()
		s.Equal(requestmodels.FundingFullyFunded, request.FundingStatus)
		s.Equal(requestmodels.StatusClaimed, request.Status)
		s.Equal(100, s.fundingTotal())
	})
}

func (s *ContributionServiceSuite) TestCommitRejections() {
	s.Run("rejects the recipient funding their own request", func() {
		ctx := requestcontext.WithActor(s.ctx, s.recipient.ID, requestcontext.RoleSupplier)

		_, err := s.service.Commit(ctx, s.request.ID, 10, nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("rejects a second account sharing the recipient's phone", func() {
		ctx, _ := s.asSupplier("+1 (202) 555-0100", "NID-OTHER")

		_, err := s.service.Commit(ctx, s.request.ID, 10, nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("rejects a duplicate commitment by the same supplier", func() {
		ctx, _ := s.asSupplier("+1-202-555-0104", "NID-S-4")

		_, err := s.service.Commit(ctx, s.request.ID, 20, nil)
		s.Require().NoError(err)

		_, err = s.service.Commit(ctx, s.request.ID, 20, nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Equal(20, s.fundingTotal())
	})

	s.Run("rejects an account matching an existing contributor", func() {
		ctx, _ := s.asSupplier("+1-202-555-0105", "NID-S-5")
		_, err := s.service.Commit(ctx, s.request.ID, 20, nil)
		s.Require().NoError(err)

		sameIdentityCtx, _ := s.asSupplier("+1-202-555-0106", "NID-S-5")
		_, err = s.service.Commit(sameIdentityCtx, s.request.ID, 20, nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("rejects pledges against a pending request", func() {
		pending, err := requestmodels.NewRequest(id.NewRequestID(), s.recipient.ID, 50, "north", nil, s.now, nil)
		s.Require().NoError(err)
		s.Require().NoError(s.requests.Create(s.ctx, pending))

		ctx, _ := s.asSupplier("+1-202-555-0107", "NID-S-7")
		_, err = s.service.Commit(ctx, pending.ID, 10, nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("rejects out-of-range percentages", func() {
		ctx, _ := s.asSupplier("+1-202-555-0108", "NID-S-8")

		for _, percentage := range []int{0, -5, 101} {
			_, err := s.service.Commit(ctx, s.request.ID, percentage, nil)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		}
	})

	s.Run("rejects an unauthenticated caller", func() {
		_, err := s.service.Commit(s.ctx, s.request.ID, 10, nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ContributionServiceSuite) TestUpdate() {
	ctx, supplier := s.asSupplier("+1-202-555-0110", "NID-U-1")
	contribution, err := s.service.Commit(ctx, s.request.ID, 60, nil)
	s.Require().NoError(err)

	otherCtx, _ := s.asSupplier("+1-202-555-0111", "NID-U-2")
	_, err = s.service.Commit(otherCtx, s.request.ID, 40, nil)
	s.Require().NoError(err)
	s.Equal(requestmodels.StatusClaimed, s.reloadRequest().Status)

	s.Run("only the owner can update", func() {
		_, err := s.service.Update(otherCtx, contribution.ID, 50)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("shrinking below 100 reverts the request to approved", func() {
		updated, err := s.service.Update(ctx, contribution.ID, 30)
		s.Require().NoError(err)
		s.Equal(30, updated.Percentage)

		request := s.reloadRequest()
		s.Equal(requestmodels.FundingPartiallyFunded, request.FundingStatus)
		s.Equal(requestmodels.StatusApproved, request.Status)
		s.Nil(request.AssignedSupplierID)
		_ = supplier
	})

	s.Run("rejects growth past the unfunded remainder", func() {
		_, err := s.service.Update(ctx, contribution.ID, 70)
		s.Require().Error(err)

		var domainErr *dErrors.Error
		s.Require().ErrorAs(err, &domainErr)
		s.Equal(dErrors.CodeConflict, domainErr.Code)
		s.Require().NotNil(domainErr.Remaining)
		s.Equal(60, *domainErr.Remaining)
	})

	s.Run("growing back to the remainder re-claims the request", func() {
		_, err := s.service.Update(ctx, contribution.ID, 60)
		s.Require().NoError(err)
		s.Equal(requestmodels.StatusClaimed, s.reloadRequest().Status)
	})
}

func (s *ContributionServiceSuite) TestWithdraw() {
	ctx, _ := s.asSupplier("+1-202-555-0120", "NID-W-1")
	contribution, err := s.service.Commit(ctx, s.request.ID, 100, nil)
	s.Require().NoError(err)
	s.Equal(requestmodels.StatusClaimed, s.reloadRequest().Status)

	s.Run("strangers cannot withdraw", func() {
		strangerCtx, _ := s.asSupplier("+1-202-555-0121", "NID-W-2")
		err := s.service.Withdraw(strangerCtx, contribution.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("withdrawing the sole pledge reverts the request", func() {
		s.Require().NoError(s.service.Withdraw(ctx, contribution.ID))

		request := s.reloadRequest()
		s.Equal(requestmodels.FundingUnfunded, request.FundingStatus)
		s.Equal(requestmodels.StatusApproved, request.Status)
		s.Equal(0, s.fundingTotal())
	})

	s.Run("a withdrawn contribution cannot be withdrawn again", func() {
		err := s.service.Withdraw(ctx, contribution.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("admins may withdraw on a supplier's behalf", func() {
		supplierCtx, _ := s.asSupplier("+1-202-555-0122", "NID-W-3")
		other, err := s.service.Commit(supplierCtx, s.request.ID, 25, nil)
		s.Require().NoError(err)

		admin := s.newParty(partymodels.RoleAdmin, "+1-202-555-0123", "NID-ADM")
		adminCtx := requestcontext.WithActor(s.ctx, admin.ID, requestcontext.RoleAdmin)
		s.Require().NoError(s.service.Withdraw(adminCtx, other.ID))
		s.Equal(0, s.fundingTotal())
	})
}

func (s *ContributionServiceSuite) TestAuditTrail() {
	ctx, _ := s.asSupplier("+1-202-555-0130", "NID-A-1")
	contribution, err := s.service.Commit(ctx, s.request.ID, 40, nil)
	s.Require().NoError(err)
	s.Require().NoError(s.service.Withdraw(ctx, contribution.ID))

	entries, err := s.auditStore.HistoryForEntity(s.ctx, audit.EntityContribution, contribution.ID.String())
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	actions := []audit.Action{entries[0].Action, entries[1].Action}
	s.Contains(actions, audit.ActionContribCommitted)
	s.Contains(actions, audit.ActionContribWithdrawn)
}

// TestConcurrentOvercommit drives many suppliers at the same request in
// parallel. The serialized unit of work must admit exactly one 60% pledge;
// every loser sees a conflict carrying the remaining share.
func TestConcurrentOvercommit(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	requests := requeststore.NewInMemory()
	contributions := contributionstore.NewInMemory()
	parties := partystore.NewInMemory()
	service := NewService(
		tx.NewMemoryRunner(),
		requests,
		contributions,
		parties,
		conflict.NewGuard(),
		audit.NewPublisher(auditmemory.New()),
	)

	recipient, err := partymodels.NewParty(id.NewPartyID(), "recipient", partymodels.RoleRecipient, "+1-303-555-0100", "NID-R", "south", now)
	if err != nil {
		t.Fatal(err)
	}
	if err := parties.Create(ctx, recipient); err != nil {
		t.Fatal(err)
	}
	request, err := requestmodels.NewRequest(id.NewRequestID(), recipient.ID, 100, "south", nil, now, nil)
	if err != nil {
		t.Fatal(err)
	}
	request.ApplyApproval(now)
	if err := requests.Create(ctx, request); err != nil {
		t.Fatal(err)
	}

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		supplier, err := partymodels.NewParty(id.NewPartyID(), "supplier", partymodels.RoleSupplier, "", "", "south", now)
		if err != nil {
			t.Fatal(err)
		}
		if err := parties.Create(ctx, supplier); err != nil {
			t.Fatal(err)
		}

		wg.Add(1)
		go func(supplierID id.PartyID) {
			defer wg.Done()
			actorCtx := requestcontext.WithActor(ctx, supplierID, requestcontext.RoleSupplier)
			_, err := service.Commit(actorCtx, request.ID, 60, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case dErrors.HasCode(err, dErrors.CodeConflict):
				rejected++
			default:
				t.Errorf("unexpected commit error: %v", err)
			}
		}(supplier.ID)
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one 60%% pledge to win, got %d", succeeded)
	}
	if rejected != workers-1 {
		t.Fatalf("expected %d conflict rejections, got %d", workers-1, rejected)
	}
	total, err := contributions.SumCommitted(ctx, request.ID)
	if err != nil {
		t.Fatal(err)
	}
	if total != 60 {
		t.Fatalf("committed total is %d, want 60", total)
	}
}
