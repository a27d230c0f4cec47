package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"aidbridge/internal/allocation/metrics"
	"aidbridge/internal/allocation/models"
	"aidbridge/internal/conflict"
	donationmodels "aidbridge/internal/donation/models"
	partymodels "aidbridge/internal/party/models"
	requestmodels "aidbridge/internal/request/models"
	id "aidbridge/pkg/domain"
	dErrors "aidbridge/pkg/domain-errors"
	"aidbridge/pkg/platform/audit"
	"aidbridge/pkg/platform/sentinel"
	"aidbridge/pkg/platform/tx"
	"aidbridge/pkg/requestcontext"
)

var tracer = otel.Tracer("aidbridge/allocation")

// RequestStore is the slice of the request store the engine needs.
type RequestStore interface {
	FindByIDForUpdate(ctx context.Context, requestID id.RequestID) (*requestmodels.Request, error)
	Update(ctx context.Context, request *requestmodels.Request) error
}

// DonationStore is the slice of the donation store the engine needs.
type DonationStore interface {
	FindByIDForUpdate(ctx context.Context, donationID id.DonationID) (*donationmodels.Donation, error)
	Update(ctx context.Context, donation *donationmodels.Donation) error
}

// Store persists allocations and delivery routes.
type Store interface {
	Create(ctx context.Context, allocation *models.Allocation) error
	FindByID(ctx context.Context, allocationID id.AllocationID) (*models.Allocation, error)
	Update(ctx context.Context, allocation *models.Allocation) error
	SumActiveForDonation(ctx context.Context, donationID id.DonationID) (int, error)
	ListForRequest(ctx context.Context, requestID id.RequestID) ([]*models.Allocation, error)
	CreateRoute(ctx context.Context, route *models.Route) error
	ActiveRouteExists(ctx context.Context, allocationID id.AllocationID) (bool, error)
}

// PartyStore resolves the recipient whose verification gates allocation.
type PartyStore interface {
	FindByID(ctx context.Context, partyID id.PartyID) (*partymodels.Party, error)
}

// Service is the allocation engine. Create holds both row locks, in the
// fixed order request-then-donation, for the whole read-modify-write
// sequence; availability is always recomputed from live allocation rows,
// never read from the remaining_quantity cache.
type Service struct {
	runner      tx.Runner
	requests    RequestStore
	donations   DonationStore
	allocations Store
	parties     PartyStore
	guard       conflict.Guard
	audit       *audit.Publisher
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a logger for failure reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics enables allocation metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService builds the allocation engine.
func NewService(runner tx.Runner, requests RequestStore, donations DonationStore, allocations Store, parties PartyStore, guard conflict.Guard, auditPublisher *audit.Publisher, opts ...Option) *Service {
	s := &Service{
		runner:      runner,
		requests:    requests,
		donations:   donations,
		allocations: allocations,
		parties:     parties,
		guard:       guard,
		audit:       auditPublisher,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create assigns quantity from a donation to a request.
//
// Both rows are locked, request first, then donation. The recipient must be
// verified, neither the allocator nor the donation supplier may share the
// recipient's identity, the donation must be available, and the quantity
// must fit within donation.quantity minus the sum over live non-cancelled
// allocation rows.
// On success the allocation is inserted pending, the donation marked
// allocated and its cache decremented, and the audit entry committed in the
// same transaction.
func (s *Service) Create(ctx context.Context, requestID id.RequestID, donationID id.DonationID, quantity int) (*models.Allocation, error) {
	ctx, span := tracer.Start(ctx, "allocation.create")
	defer span.End()
	start := time.Now()

	allocatorID := requestcontext.ActorID(ctx)
	if allocatorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor")
	}
	if quantity <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "allocation quantity must be positive")
	}

	var allocation *models.Allocation
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		request, donation, err := s.lockPair(ctx, requestID, donationID)
		if err != nil {
			return err
		}

		recipient, err := s.parties.FindByID(ctx, request.RecipientID)
		if err != nil {
			return fmt.Errorf("load recipient: %w", err)
		}
		if !recipient.Verified {
			return dErrors.New(dErrors.CodeConflict, "request recipient is not verified")
		}
		if err := s.rejectSelfDealing(ctx, recipient, allocatorID, donation.SupplierID); err != nil {
			return err
		}

		now := requestcontext.Now(ctx)
		if err := donation.CanAllocate(requestID, now); err != nil {
			return err
		}

		allocated, err := s.allocations.SumActiveForDonation(ctx, donationID)
		if err != nil {
			return fmt.Errorf("sum active allocations: %w", err)
		}
		available := donation.Quantity - allocated
		if quantity > available {
			if s.metrics != nil {
				s.metrics.IncrementConflictRejected()
			}
			return dErrors.NewConflict(
				fmt.Sprintf("requested %d units but only %d available", quantity, available),
				available,
			)
		}

		allocation, err = models.NewAllocation(id.NewAllocationID(), requestID, donationID, quantity, allocatorID, now)
		if err != nil {
			return err
		}
		if err := s.allocations.Create(ctx, allocation); err != nil {
			return fmt.Errorf("create allocation: %w", err)
		}

		donation.ApplyAllocation(quantity, now)
		if err := s.donations.Update(ctx, donation); err != nil {
			return fmt.Errorf("update donation: %w", err)
		}

		return s.audit.Emit(ctx, audit.Entry{
			Action:     audit.ActionAllocationCreated,
			EntityType: audit.EntityAllocation,
			EntityID:   allocation.ID.String(),
			ActorID:    allocatorID,
			NewValues: map[string]any{
				"request_id":  requestID.String(),
				"donation_id": donationID.String(),
				"quantity":    quantity,
				"available":   available - quantity,
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
		s.metrics.ObserveAllocate(start)
	}
	return allocation, nil
}

// AttachRoute schedules a delivery route for an allocation.
//
// The gate: the allocation's request must still be pending or approved, and
// no scheduled or in-transit route may already exist for the allocation. On
// success a pending request advances to approved, and a pending allocation
// to approved, in the same transaction as the route insert.
func (s *Service) AttachRoute(ctx context.Context, allocationID id.AllocationID, carrier string) (*models.Route, error) {
	ctx, span := tracer.Start(ctx, "allocation.attach_route")
	defer span.End()

	actorID := requestcontext.ActorID(ctx)
	if actorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor")
	}

	var route *models.Route
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		allocation, err := s.allocations.FindByID(ctx, allocationID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "allocation not found")
			}
			return fmt.Errorf("find allocation: %w", err)
		}

		request, err := s.lockRequest(ctx, allocation.RequestID)
		if err != nil {
			return err
		}
		if request.Status != requestmodels.StatusPending && request.Status != requestmodels.StatusApproved {
			return dErrors.Newf(dErrors.CodeInvalidState, "cannot attach route while request is %q", request.Status)
		}
		if err := allocation.CanAttachRoute(); err != nil {
			return err
		}

		active, err := s.allocations.ActiveRouteExists(ctx, allocationID)
		if err != nil {
			return fmt.Errorf("check active route: %w", err)
		}
		if active {
			return dErrors.New(dErrors.CodeConflict, "allocation already has an active route")
		}

		now := requestcontext.Now(ctx)
		route = &models.Route{
			ID:           id.NewRouteID(),
			AllocationID: allocationID,
			Carrier:      carrier,
			Status:       models.RouteScheduled,
			ScheduledAt:  now,
			UpdatedAt:    now,
		}
		if err := s.allocations.CreateRoute(ctx, route); err != nil {
			return fmt.Errorf("create route: %w", err)
		}

		allocation.ApplyRouteAttachment(now)
		if err := s.allocations.Update(ctx, allocation); err != nil {
			return fmt.Errorf("update allocation: %w", err)
		}

		previousStatus := request.Status
		if request.Status == requestmodels.StatusPending {
			request.ApplyApproval(now)
			if err := s.requests.Update(ctx, request); err != nil {
				return fmt.Errorf("update request: %w", err)
			}
		}

		return s.audit.Emit(ctx, audit.Entry{
			Action:     audit.ActionRouteAttached,
			EntityType: audit.EntityRoute,
			EntityID:   route.ID.String(),
			ActorID:    actorID,
			NewValues: map[string]any{
				"allocation_id":  allocationID.String(),
				"carrier":        carrier,
				"request_status": string(previousStatus) + "->" + string(request.Status),
			},
		})
	})
	if err != nil {
		span.RecordError(err)
		s.logFailure(ctx, "attach_route", err)
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementRouteAttached()
	}
	return route, nil
}

// MarkDelivered records the logistics collaborator's delivered signal on an
// allocation. This is the precondition complete() later reads.
func (s *Service) MarkDelivered(ctx context.Context, allocationID id.AllocationID) (*models.Allocation, error) {
	ctx, span := tracer.Start(ctx, "allocation.mark_delivered")
	defer span.End()

	actorID := requestcontext.ActorID(ctx)
	if actorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor")
	}

	var allocation *models.Allocation
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		found, err := s.allocations.FindByID(ctx, allocationID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "allocation not found")
			}
			return fmt.Errorf("find allocation: %w", err)
		}
		if found.Status == models.StatusCancelled {
			return dErrors.New(dErrors.CodeInvalidState, "cancelled allocation cannot be delivered")
		}
		if found.Status == models.StatusDelivered {
			return dErrors.New(dErrors.CodeInvalidState, "allocation is already delivered")
		}

		now := requestcontext.Now(ctx)
		found.ApplyDelivery(now)
		if err := s.allocations.Update(ctx, found); err != nil {
			return fmt.Errorf("update allocation: %w", err)
		}
		allocation = found

		return s.audit.Emit(ctx, audit.Entry{
			Action:     audit.ActionAllocationDelivered,
			EntityType: audit.EntityAllocation,
			EntityID:   allocationID.String(),
			ActorID:    actorID,
			NewValues:  map[string]any{"status": string(models.StatusDelivered)},
		})
	})
	if err != nil {
		span.RecordError(err)
		s.logFailure(ctx, "mark_delivered", err)
		return nil, err
	}
	return allocation, nil
}

// ListForRequest returns all allocations backing a request.
func (s *Service) ListForRequest(ctx context.Context, requestID id.RequestID) ([]*models.Allocation, error) {
	return s.allocations.ListForRequest(ctx, requestID)
}

// rejectSelfDealing bars allocations that route a recipient's own stock to
// their own request: neither the allocator nor the donation's supplier may
// share the recipient's identity.
func (s *Service) rejectSelfDealing(ctx context.Context, recipient *partymodels.Party, allocatorID, donationSupplierID id.PartyID) error {
	target := conflict.Identity{PartyID: recipient.ID, Phone: recipient.Phone, NationalID: recipient.NationalID}

	for _, partyID := range []id.PartyID{allocatorID, donationSupplierID} {
		party, err := s.parties.FindByID(ctx, partyID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "party not found")
			}
			return fmt.Errorf("load party: %w", err)
		}
		candidate := conflict.Identity{PartyID: party.ID, Phone: party.Phone, NationalID: party.NationalID}
		if s.guard.IsSelfDealing(target, candidate, nil) {
			return dErrors.New(dErrors.CodeConflict, "allocation party identity matches the request recipient")
		}
	}
	return nil
}

// lockPair takes both row locks in the globally fixed order: request first,
// then donation. No other code path may lock a donation before a request.
func (s *Service) lockPair(ctx context.Context, requestID id.RequestID, donationID id.DonationID) (*requestmodels.Request, *donationmodels.Donation, error) {
	request, err := s.lockRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	donation, err := s.donations.FindByIDForUpdate(ctx, donationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, dErrors.New(dErrors.CodeNotFound, "donation not found")
		}
		if errors.Is(err, sentinel.ErrLockTimeout) {
			return nil, nil, dErrors.New(dErrors.CodeConflict, "donation is busy, retry")
		}
		return nil, nil, fmt.Errorf("lock donation: %w", err)
	}
	return request, donation, nil
}

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

func (s *Service) logFailure(ctx context.Context, op string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.ErrorContext(ctx, "allocation operation failed", "op", op, "error", err.Error())
}
