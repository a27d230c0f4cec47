package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"aidbridge/internal/conflict"
	"aidbridge/internal/donation/metrics"
	"aidbridge/internal/donation/models"
	partymodels "aidbridge/internal/party/models"
	requestmodels "aidbridge/internal/request/models"
	id "aidbridge/pkg/domain"
	dErrors "aidbridge/pkg/domain-errors"
	"aidbridge/pkg/platform/audit"
	"aidbridge/pkg/platform/sentinel"
	"aidbridge/pkg/platform/tx"
	"aidbridge/pkg/requestcontext"
)

var tracer = otel.Tracer("aidbridge/donation")

// Store persists donations and warehouses.
type Store interface {
	Create(ctx context.Context, donation *models.Donation) error
	FindByID(ctx context.Context, donationID id.DonationID) (*models.Donation, error)
	FindByIDForUpdate(ctx context.Context, donationID id.DonationID) (*models.Donation, error)
	Update(ctx context.Context, donation *models.Donation) error
	SumNonDeliveredAtWarehouse(ctx context.Context, warehouseID id.WarehouseID) (int, error)
	CreateWarehouse(ctx context.Context, warehouse *models.Warehouse) error
	FindWarehouseByID(ctx context.Context, warehouseID id.WarehouseID) (*models.Warehouse, error)
}

// RequestStore resolves the target of a targeted donation.
type RequestStore interface {
	FindByID(ctx context.Context, requestID id.RequestID) (*requestmodels.Request, error)
}

// PartyStore resolves the identities the conflict guard compares.
type PartyStore interface {
	FindByID(ctx context.Context, partyID id.PartyID) (*partymodels.Party, error)
}

// Service manages donation stock: pledging, verification, warehouse
// assignment and the delivered signal. Verification arrives from outside
// this engine; the payment webhook and the admin review both land on
// Verify.
type Service struct {
	runner    tx.Runner
	donations Store
	requests  RequestStore
	parties   PartyStore
	guard     conflict.Guard
	audit     *audit.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a logger for failure reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics enables stock metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService builds the stock service.
func NewService(runner tx.Runner, donations Store, requests RequestStore, parties PartyStore, guard conflict.Guard, auditPublisher *audit.Publisher, opts ...Option) *Service {
	s := &Service{
		runner:    runner,
		donations: donations,
		requests:  requests,
		parties:   parties,
		guard:     guard,
		audit:     auditPublisher,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create pledges a donation for the acting supplier. A targeted donation is
// checked against the conflict guard so a recipient cannot stock their own
// request through a second account.
func (s *Service) Create(ctx context.Context, donationType models.Type, description string, quantity int, targetedRequestID *id.RequestID, expiryDate *time.Time) (*models.Donation, error) {
	ctx, span := tracer.Start(ctx, "donation.create")
	defer span.End()

	supplierID := requestcontext.ActorID(ctx)
	if supplierID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor")
	}

	var donation *models.Donation
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if targetedRequestID != nil {
			if err := s.rejectTargetedSelfDealing(ctx, *targetedRequestID, supplierID); err != nil {
				return err
			}
		}

		now := requestcontext.Now(ctx)
		var err error
		donation, err = models.NewDonation(id.NewDonationID(), supplierID, donationType, description, quantity, targetedRequestID, expiryDate, now)
		if err != nil {
			return err
		}
		if err := s.donations.Create(ctx, donation); err != nil {
			return fmt.Errorf("create donation: %w", err)
		}

		newValues := map[string]any{
			"type":     string(donationType),
			"quantity": quantity,
		}
		if targetedRequestID != nil {
			newValues["targeted_request_id"] = targetedRequestID.String()
		}
		return s.audit.Emit(ctx, audit.Entry{
			Action:     audit.ActionDonationCreated,
			EntityType: audit.EntityDonation,
			EntityID:   donation.ID.String(),
			ActorID:    supplierID,
			NewValues:  newValues,
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
	return donation, nil
}

// Verify marks a pending donation verified. Reached by the admin review for
// goods and by the payment webhook for monetary donations.
func (s *Service) Verify(ctx context.Context, donationID id.DonationID) (*models.Donation, error) {
	ctx, span := tracer.Start(ctx, "donation.verify")
	defer span.End()

	actorID := requestcontext.ActorID(ctx)
	if actorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor")
	}

	var donation *models.Donation
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		donation, err = s.lockDonation(ctx, donationID)
		if err != nil {
			return err
		}
		if err := donation.CanVerify(); err != nil {
			return err
		}

		now := requestcontext.Now(ctx)
		donation.ApplyVerification(now)
		if err := s.donations.Update(ctx, donation); err != nil {
			return fmt.Errorf("update donation: %w", err)
		}

		return s.audit.Emit(ctx, audit.Entry{
			Action:     audit.ActionDonationVerified,
			EntityType: audit.EntityDonation,
			EntityID:   donationID.String(),
			ActorID:    actorID,
			OldValues:  map[string]any{"status": string(models.StatusPending)},
			NewValues:  map[string]any{"status": string(models.StatusVerified)},
		})
	})
	if err != nil {
		span.RecordError(err)
		s.logFailure(ctx, "verify", err)
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementVerified()
	}
	return donation, nil
}

// AssignWarehouse places a donation at a storage facility. The facility's
// capacity invariant is checked here: committed non-delivered quantity plus
// the incoming donation must fit.
func (s *Service) AssignWarehouse(ctx context.Context, donationID id.DonationID, warehouseID id.WarehouseID) (*models.Donation, error) {
	ctx, span := tracer.Start(ctx, "donation.assign_warehouse")
	defer span.End()

	actorID := requestcontext.ActorID(ctx)
	if actorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor")
	}

	var donation *models.Donation
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		donation, err = s.lockDonation(ctx, donationID)
		if err != nil {
			return err
		}
		if donation.Status == models.StatusDelivered || donation.Status == models.StatusRejected {
			return dErrors.Newf(dErrors.CodeInvalidState, "cannot assign donation in status %q to a warehouse", donation.Status)
		}
		if donation.WarehouseID != nil && *donation.WarehouseID == warehouseID {
			return dErrors.New(dErrors.CodeConflict, "donation is already assigned to this warehouse")
		}

		warehouse, err := s.donations.FindWarehouseByID(ctx, warehouseID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "warehouse not found")
			}
			return fmt.Errorf("find warehouse: %w", err)
		}

		committed, err := s.donations.SumNonDeliveredAtWarehouse(ctx, warehouseID)
		if err != nil {
			return fmt.Errorf("sum warehouse stock: %w", err)
		}
		if committed+donation.Quantity > warehouse.Capacity {
			if s.metrics != nil {
				s.metrics.IncrementCapacityRejected()
			}
			return dErrors.NewConflict(
				fmt.Sprintf("warehouse holds %d of %d units; %d more do not fit", committed, warehouse.Capacity, donation.Quantity),
				warehouse.Capacity-committed,
			)
		}

		now := requestcontext.Now(ctx)
		donation.WarehouseID = &warehouseID
		donation.UpdatedAt = now
		if err := s.donations.Update(ctx, donation); err != nil {
			return fmt.Errorf("update donation: %w", err)
		}

		return s.audit.Emit(ctx, audit.Entry{
			Action:     audit.ActionDonationAssigned,
			EntityType: audit.EntityDonation,
			EntityID:   donationID.String(),
			ActorID:    actorID,
			NewValues: map[string]any{
				"warehouse_id": warehouseID.String(),
				"quantity":     donation.Quantity,
			},
		})
	})
	if err != nil {
		span.RecordError(err)
		s.logFailure(ctx, "assign_warehouse", err)
		return nil, err
	}
	return donation, nil
}

// MarkDelivered records the logistics collaborator's delivered signal on the
// donation itself.
func (s *Service) MarkDelivered(ctx context.Context, donationID id.DonationID) (*models.Donation, error) {
	ctx, span := tracer.Start(ctx, "donation.mark_delivered")
	defer span.End()

	actorID := requestcontext.ActorID(ctx)
	if actorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor")
	}

	var donation *models.Donation
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		donation, err = s.lockDonation(ctx, donationID)
		if err != nil {
			return err
		}
		if donation.Status != models.StatusAllocated {
			return dErrors.Newf(dErrors.CodeInvalidState, "cannot deliver donation in status %q", donation.Status)
		}

		now := requestcontext.Now(ctx)
		donation.ApplyDelivery(now)
		if err := s.donations.Update(ctx, donation); err != nil {
			return fmt.Errorf("update donation: %w", err)
		}

		return s.audit.Emit(ctx, audit.Entry{
			Action:     audit.ActionDonationDelivered,
			EntityType: audit.EntityDonation,
			EntityID:   donationID.String(),
			ActorID:    actorID,
			NewValues:  map[string]any{"status": string(models.StatusDelivered)},
		})
	})
	if err != nil {
		span.RecordError(err)
		s.logFailure(ctx, "mark_delivered", err)
		return nil, err
	}
	return donation, nil
}

// Get returns a donation by id.
func (s *Service) Get(ctx context.Context, donationID id.DonationID) (*models.Donation, error) {
	donation, err := s.donations.FindByID(ctx, donationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "donation not found")
		}
		return nil, fmt.Errorf("find donation: %w", err)
	}
	return donation, nil
}

// CreateWarehouse registers a storage facility.
func (s *Service) CreateWarehouse(ctx context.Context, name, region string, capacity int) (*models.Warehouse, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "warehouse name cannot be empty")
	}
	if capacity <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "warehouse capacity must be positive")
	}
	warehouse := &models.Warehouse{
		ID:       id.NewWarehouseID(),
		Name:     name,
		Region:   region,
		Capacity: capacity,
	}
	if err := s.donations.CreateWarehouse(ctx, warehouse); err != nil {
		return nil, fmt.Errorf("create warehouse: %w", err)
	}
	return warehouse, nil
}

// lockDonation takes the donation row lock. When a request row is involved
// it must already be locked; nothing in this service locks both.
func (s *Service) lockDonation(ctx context.Context, donationID id.DonationID) (*models.Donation, error) {
	donation, err := s.donations.FindByIDForUpdate(ctx, donationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "donation not found")
		}
		if errors.Is(err, sentinel.ErrLockTimeout) {
			return nil, dErrors.New(dErrors.CodeConflict, "donation is busy, retry")
		}
		return nil, fmt.Errorf("lock donation: %w", err)
	}
	return donation, nil
}

// rejectTargetedSelfDealing bars a targeted donation whose supplier matches
// the target request's recipient.
func (s *Service) rejectTargetedSelfDealing(ctx context.Context, requestID id.RequestID, supplierID id.PartyID) error {
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "targeted request not found")
		}
		return fmt.Errorf("find targeted request: %w", err)
	}
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

	candidate := conflict.Identity{PartyID: supplier.ID, Phone: supplier.Phone, NationalID: supplier.NationalID}
	target := conflict.Identity{PartyID: recipient.ID, Phone: recipient.Phone, NationalID: recipient.NationalID}
	if s.guard.IsSelfDealing(target, candidate, nil) {
		return dErrors.New(dErrors.CodeConflict, "supplier cannot target a request linked to their own identity")
	}
	return nil
}

func (s *Service) logFailure(ctx context.Context, op string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.ErrorContext(ctx, "donation operation failed", "op", op, "error", err.Error())
}
