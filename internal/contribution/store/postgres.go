package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"aidbridge/internal/contribution/models"
	id "aidbridge/pkg/domain"
	"aidbridge/pkg/platform/sentinel"
	txcontext "aidbridge/pkg/platform/tx"
)

const contributionColumns = `
	id, request_id, supplier_id, percentage, amount_value, status,
	created_at, updated_at
`

// PostgresStore persists contributions in PostgreSQL. A partial unique index
// on (request_id, supplier_id) WHERE status = 'committed' backs the
// one-committed-contribution-per-supplier invariant at the storage layer.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed contribution store.
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

// Create inserts a contribution row.
func (s *PostgresStore) Create(ctx context.Context, contribution *models.Contribution) error {
	query := `
		INSERT INTO contributions (` + contributionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.querier(ctx).ExecContext(ctx, query,
		uuid.UUID(contribution.ID),
		uuid.UUID(contribution.RequestID),
		uuid.UUID(contribution.SupplierID),
		contribution.Percentage,
		contribution.AmountValue,
		string(contribution.Status),
		contribution.CreatedAt,
		contribution.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert contribution: %w", err)
	}
	return nil
}

// FindByID returns the contribution or sentinel.ErrNotFound.
func (s *PostgresStore) FindByID(ctx context.Context, contributionID id.ContributionID) (*models.Contribution, error) {
	query := `SELECT ` + contributionColumns + ` FROM contributions WHERE id = $1`
	return scanContribution(s.querier(ctx).QueryRowContext(ctx, query, uuid.UUID(contributionID)))
}

// Update persists the mutated contribution.
func (s *PostgresStore) Update(ctx context.Context, contribution *models.Contribution) error {
	query := `
		UPDATE contributions
		SET percentage = $2, amount_value = $3, status = $4, updated_at = $5
		WHERE id = $1
	`
	result, err := s.querier(ctx).ExecContext(ctx, query,
		uuid.UUID(contribution.ID),
		contribution.Percentage,
		contribution.AmountValue,
		string(contribution.Status),
		contribution.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update contribution: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update contribution: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// SumCommitted returns the committed percentage total for a request. Called
// under the request row lock, so the sum cannot move until commit.
func (s *PostgresStore) SumCommitted(ctx context.Context, requestID id.RequestID) (int, error) {
	query := `
		SELECT COALESCE(SUM(percentage), 0)
		FROM contributions
		WHERE request_id = $1 AND status = 'committed'
	`
	var total int
	if err := s.querier(ctx).QueryRowContext(ctx, query, uuid.UUID(requestID)).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum committed contributions: %w", err)
	}
	return total, nil
}

// FindCommittedBySupplier returns the supplier's committed contribution on a
// request, or sentinel.ErrNotFound.
func (s *PostgresStore) FindCommittedBySupplier(ctx context.Context, requestID id.RequestID, supplierID id.PartyID) (*models.Contribution, error) {
	query := `
		SELECT ` + contributionColumns + `
		FROM contributions
		WHERE request_id = $1 AND supplier_id = $2 AND status = 'committed'
	`
	return scanContribution(s.querier(ctx).QueryRowContext(ctx, query,
		uuid.UUID(requestID), uuid.UUID(supplierID)))
}

// ListCommitted returns all committed contributions for a request, oldest
// first.
func (s *PostgresStore) ListCommitted(ctx context.Context, requestID id.RequestID) ([]*models.Contribution, error) {
	query := `
		SELECT ` + contributionColumns + `
		FROM contributions
		WHERE request_id = $1 AND status = 'committed'
		ORDER BY created_at
	`
	rows, err := s.querier(ctx).QueryContext(ctx, query, uuid.UUID(requestID))
	if err != nil {
		return nil, fmt.Errorf("query committed contributions: %w", err)
	}
	defer rows.Close()

	var contributions []*models.Contribution
	for rows.Next() {
		contribution, err := scanContribution(rows)
		if err != nil {
			return nil, err
		}
		contributions = append(contributions, contribution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contributions: %w", err)
	}
	return contributions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContribution(row rowScanner) (*models.Contribution, error) {
	var (
		contribution   models.Contribution
		contributionID uuid.UUID
		requestID      uuid.UUID
		supplierID     uuid.UUID
		status         string
	)
	err := row.Scan(
		&contributionID,
		&requestID,
		&supplierID,
		&contribution.Percentage,
		&contribution.AmountValue,
		&status,
		&contribution.CreatedAt,
		&contribution.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan contribution: %w", err)
	}
	contribution.ID = id.ContributionID(contributionID)
	contribution.RequestID = id.RequestID(requestID)
	contribution.SupplierID = id.PartyID(supplierID)
	contribution.Status = models.Status(status)
	return &contribution, nil
}
