package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"aidbridge/internal/allocation/models"
	id "aidbridge/pkg/domain"
	"aidbridge/pkg/platform/sentinel"
	txcontext "aidbridge/pkg/platform/tx"
)

const allocationColumns = `
	id, request_id, donation_id, quantity_allocated, allocator_id, status,
	allocated_at, updated_at
`

// PostgresStore persists allocations and delivery routes in PostgreSQL. All
// methods join the ambient transaction from context; SumActiveForDonation is
// the authoritative stock computation and runs under the donation row lock.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed allocation store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) querier(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Create inserts an allocation row.
func (s *PostgresStore) Create(ctx context.Context, allocation *models.Allocation) error {
	query := `
		INSERT INTO allocations (` + allocationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.querier(ctx).ExecContext(ctx, query,
		uuid.UUID(allocation.ID),
		uuid.UUID(allocation.RequestID),
		uuid.UUID(allocation.DonationID),
		allocation.Quantity,
		uuid.UUID(allocation.AllocatorID),
		string(allocation.Status),
		allocation.AllocatedAt,
		allocation.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert allocation: %w", err)
	}
	return nil
}

// FindByID returns the allocation or sentinel.ErrNotFound.
func (s *PostgresStore) FindByID(ctx context.Context, allocationID id.AllocationID) (*models.Allocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM allocations WHERE id = $1`
	return scanAllocation(s.querier(ctx).QueryRowContext(ctx, query, uuid.UUID(allocationID)))
}

// Update persists the mutated allocation.
func (s *PostgresStore) Update(ctx context.Context, allocation *models.Allocation) error {
	query := `
		UPDATE allocations
		SET status = $2, updated_at = $3
		WHERE id = $1
	`
	result, err := s.querier(ctx).ExecContext(ctx, query,
		uuid.UUID(allocation.ID),
		string(allocation.Status),
		allocation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update allocation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update allocation: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// SumActiveForDonation totals quantity over non-cancelled allocations that
// reference the donation. The remaining_quantity cache is never consulted
// here.
func (s *PostgresStore) SumActiveForDonation(ctx context.Context, donationID id.DonationID) (int, error) {
	query := `
		SELECT COALESCE(SUM(quantity_allocated), 0)
		FROM allocations
		WHERE donation_id = $1 AND status != 'cancelled'
	`
	var total int
	if err := s.querier(ctx).QueryRowContext(ctx, query, uuid.UUID(donationID)).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum active allocations: %w", err)
	}
	return total, nil
}

// ListForRequest returns all allocations referencing a request, oldest first.
func (s *PostgresStore) ListForRequest(ctx context.Context, requestID id.RequestID) ([]*models.Allocation, error) {
	query := `
		SELECT ` + allocationColumns + `
		FROM allocations
		WHERE request_id = $1
		ORDER BY allocated_at
	`
	rows, err := s.querier(ctx).QueryContext(ctx, query, uuid.UUID(requestID))
	if err != nil {
		return nil, fmt.Errorf("query allocations: %w", err)
	}
	defer rows.Close()

	var allocations []*models.Allocation
	for rows.Next() {
		allocation, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, allocation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allocations: %w", err)
	}
	return allocations, nil
}

// CreateRoute inserts a route row.
func (s *PostgresStore) CreateRoute(ctx context.Context, route *models.Route) error {
	query := `
		INSERT INTO routes (id, allocation_id, carrier, status, scheduled_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.querier(ctx).ExecContext(ctx, query,
		uuid.UUID(route.ID),
		uuid.UUID(route.AllocationID),
		route.Carrier,
		string(route.Status),
		route.ScheduledAt,
		route.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert route: %w", err)
	}
	return nil
}

// ActiveRouteExists reports whether a scheduled or in-transit route already
// references the allocation.
func (s *PostgresStore) ActiveRouteExists(ctx context.Context, allocationID id.AllocationID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM routes
			WHERE allocation_id = $1 AND status IN ('scheduled', 'in_transit')
		)
	`
	var exists bool
	if err := s.querier(ctx).QueryRowContext(ctx, query, uuid.UUID(allocationID)).Scan(&exists); err != nil {
		return false, fmt.Errorf("check active route: %w", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAllocation(row rowScanner) (*models.Allocation, error) {
	var (
		allocation   models.Allocation
		allocationID uuid.UUID
		requestID    uuid.UUID
		donationID   uuid.UUID
		allocatorID  uuid.UUID
		status       string
	)
	err := row.Scan(
		&allocationID,
		&requestID,
		&donationID,
		&allocation.Quantity,
		&allocatorID,
		&status,
		&allocation.AllocatedAt,
		&allocation.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan allocation: %w", err)
	}
	allocation.ID = id.AllocationID(allocationID)
	allocation.RequestID = id.RequestID(requestID)
	allocation.DonationID = id.DonationID(donationID)
	allocation.AllocatorID = id.PartyID(allocatorID)
	allocation.Status = models.Status(status)
	return &allocation, nil
}
