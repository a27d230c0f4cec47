package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"aidbridge/internal/conflict"
	"aidbridge/internal/contribution/metrics"
	"aidbridge/internal/contribution/models"
	partymodels "aidbridge/internal/party/models"
	requestmodels "aidbridge/internal/request/models"
	id "aidbridge/pkg/domain"
	dErrors "aidbridge/pkg/domain-errors"
	"aidbridge/pkg/platform/audit"
	"aidbridge/pkg/platform/sentinel"
	"aidbridge/pkg/platform/tx"
	"aidbridge/pkg/requestcontext"
)

var tracer = otel.Tracer("aidbridge/contribution")

// RequestStore is the slice of the request store the ledger needs. Every
// mutation starts with FindByIDForUpdate so the funding sum cannot move
// between check and write.
type RequestStore interface {
	FindByIDForUpdate(ctx context.Context, requestID id.RequestID) (*requestmodels.Request, error)
	Update(ctx context.Context, request *requestmodels.Request) error
}

// Store persists contributions.
type Store interface {
	Create(ctx context.Context, contribution *models.Contribution) error
	FindByID(ctx context.Context, contributionID id.ContributionID) (*models.Contribution, error)
	Update(ctx context.Context, contribution *models.Contribution) error
	SumCommitted(ctx context.Context, requestID id.RequestID) (int, error)
	FindCommittedBySupplier(ctx context.Context, requestID id.RequestID, supplierID id.PartyID) (*models.Contribution, error)
	ListCommitted(ctx context.Context, requestID id.RequestID) ([]*models.Contribution, error)
}

// PartyStore resolves the identities the conflict guard compares.
type PartyStore interface {
	FindByID(ctx context.Context, partyID id.PartyID) (*partymodels.Party, error)
}

// Service is the contribution ledger. Commit, Update and Withdraw each run in
// one unit of work under the request row lock, re-derive the funding total
// from committed rows, and write the derived funding state back onto the
// request before commit.
type Service struct {
	runner        tx.Runner
	requests      RequestStore
	contributions Store
	parties       PartyStore
	guard         conflict.Guard
	audit         *audit.Publisher
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a logger for failure reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics enables ledger metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService builds the ledger service.
func NewService(runner tx.Runner, requests RequestStore, contributions Store, parties PartyStore, guard conflict.Guard, auditPublisher *audit.Publisher, opts ...Option) *Service {
	s := &Service{
		runner:        runner,
		requests:      requests,
		contributions: contributions,
		parties:       parties,
		guard:         guard,
		audit:         auditPublisher,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Commit records the acting supplier's percentage pledge against a request.
//
// Under the request row lock it verifies the request is accepting funding,
// rejects self-dealing and duplicate commitments, checks the pledge against
// the remaining percentage, inserts the contribution, and re-derives the
// request's funding state from the new committed sum. A pledge that lands
// the sum exactly on 100 flips the request to claimed in the same
// transaction.
func (s *Service) Commit(ctx context.Context, requestID id.RequestID, percentage int, amountValue *int64) (*models.Contribution, error) {
	ctx, span := tracer.Start(ctx, "contribution.commit")
	defer span.End()
	start := time.Now()

	if err := models.ValidatePercentage(percentage); err != nil {
		return nil, err
	}
	supplierID := requestcontext.ActorID(ctx)
	if supplierID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor")
	}

	var contribution *models.Contribution
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		request, err := s.lockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if request.Status != requestmodels.StatusApproved {
			return dErrors.Newf(dErrors.CodeInvalidState, "request in status %q is not accepting contributions", request.Status)
		}

		if err := s.rejectSelfDealing(ctx, request, supplierID); err != nil {
			return err
		}

		if _, err := s.contributions.FindCommittedBySupplier(ctx, requestID, supplierID); err == nil {
			return dErrors.New(dErrors.CodeConflict, "supplier already has a committed contribution on this request")
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return fmt.Errorf("check existing contribution: %w", err)
		}

		total, err := s.contributions.SumCommitted(ctx, requestID)
		if err != nil {
			return fmt.Errorf("sum contributions: %w", err)
		}
		remaining := 100 - total
		if percentage > remaining {
			if s.metrics != nil {
				s.metrics.IncrementConflictRejected()
			}
			return dErrors.NewConflict(
				fmt.Sprintf("pledge of %d%% exceeds the %d%% still unfunded", percentage, remaining),
				remaining,
			)
		}

		now := requestcontext.Now(ctx)
		contribution, err = models.NewContribution(id.NewContributionID(), requestID, supplierID, percentage, amountValue, now)
		if err != nil {
			return err
		}
		if err := s.contributions.Create(ctx, contribution); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, "supplier already has a committed contribution on this request")
			}
			return fmt.Errorf("create contribution: %w", err)
		}

		previousStatus := request.Status
		request.ApplyFundingTotal(total+percentage, now)
		if err := s.requests.Update(ctx, request); err != nil {
			return fmt.Errorf("update request: %w", err)
		}

		return s.audit.Emit(ctx, audit.Entry{
			Action:     audit.ActionContribCommitted,
			EntityType: audit.EntityContribution,
			EntityID:   contribution.ID.String(),
			ActorID:    supplierID,
			NewValues: map[string]any{
				"request_id":     requestID.String(),
				"percentage":     percentage,
				"funding_total":  total + percentage,
				"request_status": statusChange(previousStatus, request.Status),
			},
		})
	})
	if err != nil {
		span.RecordError(err)
		s.logFailure(ctx, "commit", requestID, err)
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementCommitted()
		s.metrics.ObserveCommit(start)
	}
	return contribution, nil
}

// Update changes the percentage of the acting supplier's committed
// contribution. The new value must fit in the unfunded remainder plus the
// contribution's own current share; the request's funding state is re-derived
// either way, so shrinking a pledge below the 100 line reverts a claimed
// request to approved.
func (s *Service) Update(ctx context.Context, contributionID id.ContributionID, percentage int) (*models.Contribution, error) {
	ctx, span := tracer.Start(ctx, "contribution.update")
	defer span.End()

	if err := models.ValidatePercentage(percentage); err != nil {
		return nil, err
	}
	actorID := requestcontext.ActorID(ctx)
	if actorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor")
	}

	var contribution *models.Contribution
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		found, err := s.contributions.FindByID(ctx, contributionID)
		if err != nil {
			return translateNotFound(err, "contribution")
		}

		request, err := s.lockRequest(ctx, found.RequestID)
		if err != nil {
			return err
		}
		// Re-read under the lock; the unlocked read only resolved the request ID.
		found, err = s.contributions.FindByID(ctx, contributionID)
		if err != nil {
			return translateNotFound(err, "contribution")
		}
		if found.SupplierID != actorID {
			return dErrors.New(dErrors.CodeForbidden, "only the contributing supplier can update a contribution")
		}
		if found.Status != models.StatusCommitted {
			return dErrors.New(dErrors.CodeInvalidState, "contribution is withdrawn")
		}

		total, err := s.contributions.SumCommitted(ctx, found.RequestID)
		if err != nil {
			return fmt.Errorf("sum contributions: %w", err)
		}
		remaining := 100 - total + found.Percentage
		if percentage > remaining {
			return dErrors.NewConflict(
				fmt.Sprintf("pledge of %d%% exceeds the %d%% available to this supplier", percentage, remaining),
				remaining,
			)
		}

		now := requestcontext.Now(ctx)
		oldPercentage := found.Percentage
		found.Percentage = percentage
		found.UpdatedAt = now
		if err := s.contributions.Update(ctx, found); err != nil {
			return fmt.Errorf("update contribution: %w", err)
		}

		previousStatus := request.Status
		newTotal := total - oldPercentage + percentage
		request.ApplyFundingTotal(newTotal, now)
		if err := s.requests.Update(ctx, request); err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		contribution = found

		return s.audit.Emit(ctx, audit.Entry{
			Action:     audit.ActionContribUpdated,
			EntityType: audit.EntityContribution,
			EntityID:   contributionID.String(),
			ActorID:    actorID,
			OldValues:  map[string]any{"percentage": oldPercentage},
			NewValues: map[string]any{
				"percentage":     percentage,
				"funding_total":  newTotal,
				"request_status": statusChange(previousStatus, request.Status),
			},
		})
	})
	if err != nil {
		span.RecordError(err)
		s.logFailure(ctx, "update", id.RequestID{}, err)
		return nil, err
	}
	return contribution, nil
}

// Withdraw retracts a committed contribution. The owning supplier or an
// admin may withdraw; the funding total drops and the request's funding
// state is re-derived, reverting claimed to approved when the sum falls
// below 100.
func (s *Service) Withdraw(ctx context.Context, contributionID id.ContributionID) error {
	ctx, span := tracer.Start(ctx, "contribution.withdraw")
	defer span.End()

	actorID := requestcontext.ActorID(ctx)
	if actorID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor")
	}

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		found, err := s.contributions.FindByID(ctx, contributionID)
		if err != nil {
			return translateNotFound(err, "contribution")
		}

		request, err := s.lockRequest(ctx, found.RequestID)
		if err != nil {
			return err
		}
		found, err = s.contributions.FindByID(ctx, contributionID)
		if err != nil {
			return translateNotFound(err, "contribution")
		}
		if found.SupplierID != actorID && requestcontext.ActorRole(ctx) != requestcontext.RoleAdmin {
			return dErrors.New(dErrors.CodeForbidden, "only the contributing supplier or an admin can withdraw")
		}
		if found.Status != models.StatusCommitted {
			return dErrors.New(dErrors.CodeInvalidState, "contribution is already withdrawn")
		}

		total, err := s.contributions.SumCommitted(ctx, found.RequestID)
		if err != nil {
			return fmt.Errorf("sum contributions: %w", err)
		}

		now := requestcontext.Now(ctx)
		found.ApplyWithdrawal(now)
		if err := s.contributions.Update(ctx, found); err != nil {
			return fmt.Errorf("update contribution: %w", err)
		}

		previousStatus := request.Status
		request.ApplyFundingTotal(total-found.Percentage, now)
		if err := s.requests.Update(ctx, request); err != nil {
			return fmt.Errorf("update request: %w", err)
		}

		return s.audit.Emit(ctx, audit.Entry{
			Action:     audit.ActionContribWithdrawn,
			EntityType: audit.EntityContribution,
			EntityID:   contributionID.String(),
			ActorID:    actorID,
			OldValues:  map[string]any{"percentage": found.Percentage},
			NewValues: map[string]any{
				"funding_total":  total - found.Percentage,
				"request_status": statusChange(previousStatus, request.Status),
			},
		})
	})
	if err != nil {
		span.RecordError(err)
		s.logFailure(ctx, "withdraw", id.RequestID{}, err)
		return err
	}
	if s.metrics != nil {
		s.metrics.IncrementWithdrawn()
	}
	return nil
}

// ListForRequest returns the committed contributions backing a request.
func (s *Service) ListForRequest(ctx context.Context, requestID id.RequestID) ([]*models.Contribution, error) {
	return s.contributions.ListCommitted(ctx, requestID)
}

// lockRequest takes the request row lock, translating store sentinels into
// domain errors. The request lock always precedes any donation lock.
func (s *Service) lockRequest(ctx context.Context, requestID id.RequestID) (*requestmodels.Request, error) {
	request, err := s.requests.FindByIDForUpdate(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "request not found")
		}
		if errors.Is(err, sentinel.ErrLockTimeout) {
			return nil, dErrors.New(dErrors.CodeConflict, "request is busy, retry")
		}
		return nil, fmt.Errorf("lock request: %w", err)
	}
	return request, nil
}

// rejectSelfDealing loads the identities involved and applies the guard: the
// recipient, and anyone already committed to the request, bars a matching
// candidate.
func (s *Service) rejectSelfDealing(ctx context.Context, request *requestmodels.Request, supplierID id.PartyID) error {
	recipient, err := s.parties.FindByID(ctx, request.RecipientID)
	if err != nil {
		return fmt.Errorf("load recipient: %w", err)
	}
	supplier, err := s.parties.FindByID(ctx, supplierID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "supplier not found")
		}
		return fmt.Errorf("load supplier: %w", err)
	}

	committed, err := s.contributions.ListCommitted(ctx, request.ID)
	if err != nil {
		return fmt.Errorf("list committed contributions: %w", err)
	}
	related := make([]conflict.Identity, 0, len(committed))
	for _, other := range committed {
		party, err := s.parties.FindByID(ctx, other.SupplierID)
		if err != nil {
			return fmt.Errorf("load contributor: %w", err)
		}
		related = append(related, identityOf(party))
	}

	if s.guard.IsSelfDealing(identityOf(recipient), identityOf(supplier), related) {
		return dErrors.New(dErrors.CodeConflict, "supplier cannot fund a request linked to their own identity")
	}
	return nil
}

func identityOf(party *partymodels.Party) conflict.Identity {
	return conflict.Identity{PartyID: party.ID, Phone: party.Phone, NationalID: party.NationalID}
}

func statusChange(from, to requestmodels.Status) string {
	if from == to {
		return string(to)
	}
	return string(from) + "->" + string(to)
}

func translateNotFound(err error, entity string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, entity+" not found")
	}
	return err
}

func (s *Service) logFailure(ctx context.Context, op string, requestID id.RequestID, err error) {
	if s.logger == nil {
		return
	}
	attrs := []any{"op", op, "error", err.Error()}
	if !requestID.IsNil() {
		attrs = append(attrs, "request_id", requestID.String())
	}
	s.logger.ErrorContext(ctx, "contribution operation failed", attrs...)
}
