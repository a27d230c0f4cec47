package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	allocationmodels "aidbridge/internal/allocation/models"
	"aidbridge/internal/conflict"
	contributionmodels "aidbridge/internal/contribution/models"
	partymodels "aidbridge/internal/party/models"
	"aidbridge/internal/request/metrics"
	"aidbridge/internal/request/models"
	id "aidbridge/pkg/domain"
	dErrors "aidbridge/pkg/domain-errors"
	"aidbridge/pkg/platform/audit"
	"aidbridge/pkg/platform/sentinel"
	"aidbridge/pkg/platform/tx"
	"aidbridge/pkg/requestcontext"
)

var tracer = otel.Tracer("aidbridge/request")

// DisposeAction selects the administrative outcome for a flagged request.
type DisposeAction string

const (
	DisposeClose DisposeAction = "close"
	DisposeBoost DisposeAction = "boost"
)

// Store persists requests.
type Store interface {
	Create(ctx context.Context, request *models.Request) error
	FindByID(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	FindByIDForUpdate(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	Update(ctx context.Context, request *models.Request) error
	ListStale(ctx context.Context, cutoff time.Time) ([]*models.Request, error)
	ListAll(ctx context.Context) ([]*models.Request, error)
}

// ContributionStore is the slice of the ledger store the lifecycle needs.
// Claim records a 100% contribution; recede approval withdraws it.
type ContributionStore interface {
	Create(ctx context.Context, contribution *contributionmodels.Contribution) error
	Update(ctx context.Context, contribution *contributionmodels.Contribution) error
	SumCommitted(ctx context.Context, requestID id.RequestID) (int, error)
	FindCommittedBySupplier(ctx context.Context, requestID id.RequestID, supplierID id.PartyID) (*contributionmodels.Contribution, error)
	ListCommitted(ctx context.Context, requestID id.RequestID) ([]*contributionmodels.Contribution, error)
}

// AllocationStore supplies the delivery evidence complete() reads.
type AllocationStore interface {
	ListForRequest(ctx context.Context, requestID id.RequestID) ([]*allocationmodels.Allocation, error)
}

// PartyStore resolves the identities the conflict guard compares.
type PartyStore interface {
	FindByID(ctx context.Context, partyID id.PartyID) (*partymodels.Party, error)
}

// Scorer re-scores a request's vulnerability rank after creation. Enqueue
// must never block and its completion is never awaited; funding and
// allocation correctness do not depend on it.
type Scorer interface {
	Enqueue(requestID id.RequestID)
}

// Service drives the request lifecycle. Every mutation locks the request
// row first, applies the guarded transition, and commits atomically with
// its audit entry.
type Service struct {
	runner        tx.Runner
	requests      Store
	contributions ContributionStore
	allocations   AllocationStore
	parties       PartyStore
	guard         conflict.Guard
	audit         *audit.Publisher
	scorer        Scorer
	staleAge      time.Duration
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

// WithMetrics enables lifecycle metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithScorer attaches the background scoring queue.
func WithScorer(scorer Scorer) Option {
	return func(s *Service) {
		s.scorer = scorer
	}
}

// NewService builds the lifecycle service. staleAge is the administrative
// review threshold for FlagStale.
func NewService(runner tx.Runner, requests Store, contributions ContributionStore, allocations AllocationStore, parties PartyStore, guard conflict.Guard, auditPublisher *audit.Publisher, staleAge time.Duration, opts ...Option) *Service {
	s := &Service{
		runner:        runner,
		requests:      requests,
		contributions: contributions,
		allocations:   allocations,
		parties:       parties,
		guard:         guard,
		audit:         auditPublisher,
		staleAge:      staleAge,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a pending request for the acting recipient and enqueues
// the background vulnerability re-score after commit.
func (s *Service) Create(ctx context.Context, quantityRequired int, region string, urgency json.RawMessage, expiresAt *time.Time) (*models.Request, error) {
	ctx, span := tracer.Start(ctx, "request.create")
	defer span.End()

	recipientID := requestcontext.ActorID(ctx)
	if recipientID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor")
	}

	var request *models.Request
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.parties.FindByID(ctx, recipientID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "recipient not found")
			}
			return fmt.Errorf("load recipient: %w", err)
		}

		now := requestcontext.Now(ctx)
		var err error
		request, err = models.NewRequest(id.NewRequestID(), recipientID, quantityRequired, region, urgency, now, expiresAt)
		if err != nil {
			return err
		}
		if err := s.requests.Create(ctx, request); err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		return s.audit.Emit(ctx, audit.Entry{
			Action:     audit.ActionRequestCreated,
			EntityType: audit.EntityRequest,
			EntityID:   request.ID.String(),
			ActorID:    recipientID,
			NewValues: map[string]any{
				"quantity_required": quantityRequired,
				"region":            region,
			},
		})
	})
	if err != nil {
		span.RecordError(err)
		s.logFailure(ctx, "create", err)
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementCreated()
	}
	if s.scorer != nil {
		s.scorer.Enqueue(request.ID)
	}
	return request, nil
}

// Approve is the admin gate before funders can see a request.
func (s *Service) Approve(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	return s.transition(ctx, requestID, "approve", audit.ActionRequestApproved,
		func(request *models.Request, now time.Time) error {
			if err := request.CanApprove(); err != nil {
				return err
			}
			request.ApplyApproval(now)
			return nil
		})
}

// Claim assigns the acting supplier as the sole funder of an approved
// request. The claim is recorded as a 100% contribution so the funding
// derivation holds for both funding paths; any existing committed
// percentage makes the request unclaimable and is reported as remaining
// capacity.
func (s *Service) Claim(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	ctx, span := tracer.Start(ctx, "request.claim")
	defer span.End()

	supplierID := requestcontext.ActorID(ctx)
	if supplierID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor")
	}

	var request *models.Request
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		request, err = s.lockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := request.CanClaim(); err != nil {
			return err
		}

		if err := s.rejectSelfDealing(ctx, request, supplierID); err != nil {
			return err
		}

		total, err := s.contributions.SumCommitted(ctx, requestID)
		if err != nil {
			return fmt.Errorf("sum contributions: %w", err)
		}
		if total > 0 {
			return dErrors.NewConflict(
				fmt.Sprintf("request is already %d%% funded and cannot be claimed whole", total),
				100-total,
			)
		}

		now := requestcontext.Now(ctx)
		claim, err := contributionmodels.NewContribution(id.NewContributionID(), requestID, supplierID, 100, nil, now)
		if err != nil {
			return err
		}
		if err := s.contributions.Create(ctx, claim); err != nil {
			return fmt.Errorf("create claim contribution: %w", err)
		}

		request.ApplyClaim(supplierID, now)
		request.ApplyFundingTotal(100, now)
		if err := s.requests.Update(ctx, request); err != nil {
			return fmt.Errorf("update request: %w", err)
		}

		return s.audit.Emit(ctx, audit.Entry{
			Action:     audit.ActionRequestClaimed,
			EntityType: audit.EntityRequest,
			EntityID:   requestID.String(),
			ActorID:    supplierID,
			NewValues: map[string]any{
				"assigned_supplier_id": supplierID.String(),
				"funding_status":       string(models.FundingFullyFunded),
			},
		})
	})
	if err != nil {
		span.RecordError(err)
		s.logFailure(ctx, "claim", err)
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementTransition(string(models.StatusClaimed))
	}
	return request, nil
}

// RequestRecede lets the assigned supplier ask to withdraw from a claimed
// request. The request parks in RecedeRequested until an admin decides.
func (s *Service) RequestRecede(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	actorID := requestcontext.ActorID(ctx)
	if actorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor")
	}
	return s.transition(ctx, requestID, "recede_request", audit.ActionRecedeRequested,
		func(request *models.Request, now time.Time) error {
			if err := request.CanRequestRecede(actorID); err != nil {
				return err
			}
			request.ApplyRecedeRequest(now)
			return nil
		})
}

// ApproveRecede releases the assigned supplier: their claim contribution is
// withdrawn and the funding state re-derived, which reopens the request as
// approved with the supplier cleared.
func (s *Service) ApproveRecede(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	ctx, span := tracer.Start(ctx, "request.approve_recede")
	defer span.End()

	adminID := requestcontext.ActorID(ctx)
	if adminID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor")
	}

	var request *models.Request
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		request, err = s.lockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := request.CanApproveRecede(); err != nil {
			return err
		}

		total, err := s.contributions.SumCommitted(ctx, requestID)
		if err != nil {
			return fmt.Errorf("sum contributions: %w", err)
		}

		now := requestcontext.Now(ctx)
		supplierID := request.AssignedSupplierID
		if supplierID != nil {
			claim, err := s.contributions.FindCommittedBySupplier(ctx, requestID, *supplierID)
			if err == nil {
				claim.ApplyWithdrawal(now)
				if err := s.contributions.Update(ctx, claim); err != nil {
					return fmt.Errorf("withdraw claim contribution: %w", err)
				}
				total -= claim.Percentage
			} else if !errors.Is(err, sentinel.ErrNotFound) {
				return fmt.Errorf("find claim contribution: %w", err)
			}
		}

		request.ApplyFundingTotal(total, now)
		if err := s.requests.Update(ctx, request); err != nil {
			return fmt.Errorf("update request: %w", err)
		}

		return s.audit.Emit(ctx, audit.Entry{
			Action:     audit.ActionRecedeApproved,
			EntityType: audit.EntityRequest,
			EntityID:   requestID.String(),
			ActorID:    adminID,
			NewValues: map[string]any{
				"status":         string(request.Status),
				"funding_status": string(request.FundingStatus),
			},
		})
	})
	if err != nil {
		span.RecordError(err)
		s.logFailure(ctx, "approve_recede", err)
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementTransition(string(models.StatusApproved))
	}
	return request, nil
}

// Complete closes out a claimed request. When allocations exist, at least
// one of them must carry the delivered signal from logistics.
func (s *Service) Complete(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	ctx, span := tracer.Start(ctx, "request.complete")
	defer span.End()

	actorID := requestcontext.ActorID(ctx)
	if actorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor")
	}

	var request *models.Request
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		request, err = s.lockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := request.CanComplete(); err != nil {
			return err
		}

		allocations, err := s.allocations.ListForRequest(ctx, requestID)
		if err != nil {
			return fmt.Errorf("list allocations: %w", err)
		}
		if len(allocations) > 0 && !anyDelivered(allocations) {
			return dErrors.New(dErrors.CodeInvalidState, "no allocation has been delivered yet")
		}

		now := requestcontext.Now(ctx)
		request.ApplyCompletion(now)
		if err := s.requests.Update(ctx, request); err != nil {
			return fmt.Errorf("update request: %w", err)
		}

		return s.audit.Emit(ctx, audit.Entry{
			Action:     audit.ActionRequestCompleted,
			EntityType: audit.EntityRequest,
			EntityID:   requestID.String(),
			ActorID:    actorID,
			NewValues:  map[string]any{"status": string(models.StatusCompleted)},
		})
	})
	if err != nil {
		span.RecordError(err)
		s.logFailure(ctx, "complete", err)
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementTransition(string(models.StatusCompleted))
	}
	return request, nil
}

// Cancel is the guarded soft-delete: the owner or an admin moves the request
// to its Cancelled terminal state instead of removing the row, so the audit
// history survives.
func (s *Service) Cancel(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	actorID := requestcontext.ActorID(ctx)
	if actorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor")
	}
	return s.transition(ctx, requestID, "cancel", audit.ActionRequestCancelled,
		func(request *models.Request, now time.Time) error {
			if request.RecipientID != actorID && requestcontext.ActorRole(ctx) != requestcontext.RoleAdmin {
				return dErrors.New(dErrors.CodeForbidden, "only the requesting recipient or an admin can cancel")
			}
			if err := request.CanCancel(); err != nil {
				return err
			}
			request.ApplyCancellation(now)
			return nil
		})
}

// FlagStale marks every non-terminal request older than the review threshold
// for administrative batch disposition. Returns the number flagged.
func (s *Service) FlagStale(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "request.flag_stale")
	defer span.End()

	actorID := requestcontext.ActorID(ctx)
	flagged := 0
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		stale, err := s.requests.ListStale(ctx, now.Add(-s.staleAge))
		if err != nil {
			return fmt.Errorf("list stale requests: %w", err)
		}
		for _, request := range stale {
			if request.Flagged {
				continue
			}
			request.Flagged = true
			request.UpdatedAt = now
			if err := s.requests.Update(ctx, request); err != nil {
				return fmt.Errorf("flag request: %w", err)
			}
			if err := s.audit.Emit(ctx, audit.Entry{
				Action:     audit.ActionRequestFlagged,
				EntityType: audit.EntityRequest,
				EntityID:   request.ID.String(),
				ActorID:    actorID,
				NewValues:  map[string]any{"flagged": true},
			}); err != nil {
				return err
			}
			flagged++
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.logFailure(ctx, "flag_stale", err)
		return 0, err
	}
	if s.metrics != nil && flagged > 0 {
		s.metrics.AddFlagged(flagged)
	}
	return flagged, nil
}

// BatchDispose applies the chosen action to each flagged request, skipping
// ids that are missing or no longer eligible. Returns the requests that
// changed.
func (s *Service) BatchDispose(ctx context.Context, requestIDs []id.RequestID, action DisposeAction) ([]*models.Request, error) {
	ctx, span := tracer.Start(ctx, "request.batch_dispose")
	defer span.End()

	if action != DisposeClose && action != DisposeBoost {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown dispose action %q", action)
	}
	actorID := requestcontext.ActorID(ctx)
	if actorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor")
	}

	var disposed []*models.Request
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		for _, requestID := range requestIDs {
			request, err := s.requests.FindByIDForUpdate(ctx, requestID)
			if err != nil {
				if errors.Is(err, sentinel.ErrNotFound) {
					continue
				}
				if errors.Is(err, sentinel.ErrLockTimeout) {
					return dErrors.New(dErrors.CodeConflict, "request is busy, retry")
				}
				return fmt.Errorf("lock request: %w", err)
			}

			var auditAction audit.Action
			switch action {
			case DisposeClose:
				if request.CanClose() != nil {
					continue
				}
				request.ApplyClosure(now)
				auditAction = audit.ActionRequestClosed
			case DisposeBoost:
				if request.Status.IsTerminal() {
					continue
				}
				request.ApplyUrgencyBoost(now)
				auditAction = audit.ActionUrgencyBoosted
			}

			if err := s.requests.Update(ctx, request); err != nil {
				return fmt.Errorf("update request: %w", err)
			}
			if err := s.audit.Emit(ctx, audit.Entry{
				Action:     auditAction,
				EntityType: audit.EntityRequest,
				EntityID:   requestID.String(),
				ActorID:    actorID,
				NewValues: map[string]any{
					"status":          string(request.Status),
					"urgency_boosted": request.UrgencyBoosted,
				},
			}); err != nil {
				return err
			}
			disposed = append(disposed, request)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.logFailure(ctx, "batch_dispose", err)
		return nil, err
	}
	return disposed, nil
}

// Get returns a request by id.
func (s *Service) Get(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "request not found")
		}
		return nil, fmt.Errorf("find request: %w", err)
	}
	return request, nil
}

// transition runs the common single-request mutation shape: lock, guard,
// apply, persist, audit.
func (s *Service) transition(ctx context.Context, requestID id.RequestID, op string, action audit.Action, apply func(request *models.Request, now time.Time) error) (*models.Request, error) {
	ctx, span := tracer.Start(ctx, "request."+op)
	defer span.End()

	var request *models.Request
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		request, err = s.lockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		previousStatus := request.Status
		now := requestcontext.Now(ctx)
		if err := apply(request, now); err != nil {
			return err
		}
		if err := s.requests.Update(ctx, request); err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		return s.audit.Emit(ctx, audit.Entry{
			Action:     action,
			EntityType: audit.EntityRequest,
			EntityID:   requestID.String(),
			ActorID:    requestcontext.ActorID(ctx),
			OldValues:  map[string]any{"status": string(previousStatus)},
			NewValues:  map[string]any{"status": string(request.Status)},
		})
	})
	if err != nil {
		span.RecordError(err)
		s.logFailure(ctx, op, err)
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementTransition(string(request.Status))
	}
	return request, nil
}

func (s *Service) lockRequest(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
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

// rejectSelfDealing bars a claim by the recipient or anyone sharing their
// identity, including identities already committed to the request.
func (s *Service) rejectSelfDealing(ctx context.Context, request *models.Request, supplierID id.PartyID) error {
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
		related = append(related, conflict.Identity{PartyID: party.ID, Phone: party.Phone, NationalID: party.NationalID})
	}

	candidate := conflict.Identity{PartyID: supplier.ID, Phone: supplier.Phone, NationalID: supplier.NationalID}
	target := conflict.Identity{PartyID: recipient.ID, Phone: recipient.Phone, NationalID: recipient.NationalID}
	if s.guard.IsSelfDealing(target, candidate, related) {
		return dErrors.New(dErrors.CodeConflict, "supplier identity matches the request recipient")
	}
	return nil
}

func anyDelivered(allocations []*allocationmodels.Allocation) bool {
	for _, allocation := range allocations {
		if allocation.Status == allocationmodels.StatusDelivered {
			return true
		}
	}
	return false
}

func (s *Service) logFailure(ctx context.Context, op string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.ErrorContext(ctx, "request operation failed", "op", op, "error", err.Error())
}
