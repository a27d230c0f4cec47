package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"aidbridge/internal/donation/models"
	id "aidbridge/pkg/domain"
	"aidbridge/pkg/platform/sentinel"
	txcontext "aidbridge/pkg/platform/tx"
)

const donationColumns = `
	id, supplier_id, type, description, quantity, remaining_quantity, status,
	warehouse_id, targeted_request_id, expiry_date, created_at, updated_at
`

// PostgresStore persists donations and warehouses in PostgreSQL. All methods
// join the ambient transaction from context.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed donation store.
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

// Create inserts a donation row.
func (s *PostgresStore) Create(ctx context.Context, donation *models.Donation) error {
	query := `
		INSERT INTO donations (` + donationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.querier(ctx).ExecContext(ctx, query,
		uuid.UUID(donation.ID),
		uuid.UUID(donation.SupplierID),
		string(donation.Type),
		donation.Description,
		donation.Quantity,
		donation.RemainingQuantity,
		string(donation.Status),
		nullableWarehouse(donation.WarehouseID),
		nullableRequest(donation.TargetedRequestID),
		donation.ExpiryDate,
		donation.CreatedAt,
		donation.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert donation: %w", err)
	}
	return nil
}

// FindByID returns the donation without locking it.
func (s *PostgresStore) FindByID(ctx context.Context, donationID id.DonationID) (*models.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE id = $1`
	return scanDonation(s.querier(ctx).QueryRowContext(ctx, query, uuid.UUID(donationID)))
}

// FindByIDForUpdate takes the exclusive row lock. The request row, when one
// is involved, has already been locked by the caller.
func (s *PostgresStore) FindByIDForUpdate(ctx context.Context, donationID id.DonationID) (*models.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE id = $1 FOR UPDATE`
	donation, err := scanDonation(s.querier(ctx).QueryRowContext(ctx, query, uuid.UUID(donationID)))
	if err != nil {
		return nil, translateLockErr(err)
	}
	return donation, nil
}

// Update persists the mutated donation.
func (s *PostgresStore) Update(ctx context.Context, donation *models.Donation) error {
	query := `
		UPDATE donations
		SET status = $2, remaining_quantity = $3, warehouse_id = $4, updated_at = $5
		WHERE id = $1
	`
	result, err := s.querier(ctx).ExecContext(ctx, query,
		uuid.UUID(donation.ID),
		string(donation.Status),
		donation.RemainingQuantity,
		nullableWarehouse(donation.WarehouseID),
		donation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update donation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update donation: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// ListAll returns every donation. Read-model input.
func (s *PostgresStore) ListAll(ctx context.Context) ([]*models.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations ORDER BY created_at`
	rows, err := s.querier(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query donations: %w", err)
	}
	defer rows.Close()

	var donations []*models.Donation
	for rows.Next() {
		donation, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		donations = append(donations, donation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate donations: %w", err)
	}
	return donations, nil
}

// SumNonDeliveredAtWarehouse totals the quantity of non-delivered,
// non-rejected donations assigned to a warehouse. Input to the capacity
// check on assignment.
func (s *PostgresStore) SumNonDeliveredAtWarehouse(ctx context.Context, warehouseID id.WarehouseID) (int, error) {
	query := `
		SELECT COALESCE(SUM(quantity), 0)
		FROM donations
		WHERE warehouse_id = $1 AND status NOT IN ('delivered', 'rejected')
	`
	var total int
	if err := s.querier(ctx).QueryRowContext(ctx, query, uuid.UUID(warehouseID)).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum warehouse stock: %w", err)
	}
	return total, nil
}

// CreateWarehouse inserts a warehouse row.
func (s *PostgresStore) CreateWarehouse(ctx context.Context, warehouse *models.Warehouse) error {
	query := `
		INSERT INTO warehouses (id, name, region, capacity)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.querier(ctx).ExecContext(ctx, query,
		uuid.UUID(warehouse.ID),
		warehouse.Name,
		warehouse.Region,
		warehouse.Capacity,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert warehouse: %w", err)
	}
	return nil
}

// FindWarehouseByID returns the warehouse or sentinel.ErrNotFound.
func (s *PostgresStore) FindWarehouseByID(ctx context.Context, warehouseID id.WarehouseID) (*models.Warehouse, error) {
	query := `SELECT id, name, region, capacity FROM warehouses WHERE id = $1`
	var (
		warehouse     models.Warehouse
		warehouseUUID uuid.UUID
	)
	err := s.querier(ctx).QueryRowContext(ctx, query, uuid.UUID(warehouseID)).Scan(
		&warehouseUUID,
		&warehouse.Name,
		&warehouse.Region,
		&warehouse.Capacity,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan warehouse: %w", err)
	}
	warehouse.ID = id.WarehouseID(warehouseUUID)
	return &warehouse, nil
}

func translateLockErr(err error) error {
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "55P03" {
		return sentinel.ErrLockTimeout
	}
	return err
}

func nullableWarehouse(warehouseID *id.WarehouseID) any {
	if warehouseID == nil {
		return nil
	}
	return uuid.UUID(*warehouseID)
}

func nullableRequest(requestID *id.RequestID) any {
	if requestID == nil {
		return nil
	}
	return uuid.UUID(*requestID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDonation(row rowScanner) (*models.Donation, error) {
	var (
		donation     models.Donation
		donationID   uuid.UUID
		supplierID   uuid.UUID
		donationType string
		status       string
		warehouseID  *uuid.UUID
		targetedID   *uuid.UUID
	)
	err := row.Scan(
		&donationID,
		&supplierID,
		&donationType,
		&donation.Description,
		&donation.Quantity,
		&donation.RemainingQuantity,
		&status,
		&warehouseID,
		&targetedID,
		&donation.ExpiryDate,
		&donation.CreatedAt,
		&donation.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan donation: %w", err)
	}
	donation.ID = id.DonationID(donationID)
	donation.SupplierID = id.PartyID(supplierID)
	donation.Type = models.Type(donationType)
	donation.Status = models.Status(status)
	if warehouseID != nil {
		assigned := id.WarehouseID(*warehouseID)
		donation.WarehouseID = &assigned
	}
	if targetedID != nil {
		targeted := id.RequestID(*targetedID)
		donation.TargetedRequestID = &targeted
	}
	return &donation, nil
}
