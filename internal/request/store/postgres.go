package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"aidbridge/internal/request/models"
	id "aidbridge/pkg/domain"
	"aidbridge/pkg/platform/sentinel"
	txcontext "aidbridge/pkg/platform/tx"
)

const requestColumns = `
	id, recipient_id, status, funding_status, assigned_supplier_id,
	quantity_required, region, urgency, urgency_boosted, flagged,
	created_at, updated_at, expires_at
`

// PostgresStore persists requests in PostgreSQL. All methods join the ambient
// transaction from context; FindByIDForUpdate takes the exclusive row lock
// that serializes every concurrent mutation of one request.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed request store.
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

// Create inserts a request row.
func (s *PostgresStore) Create(ctx context.Context, request *models.Request) error {
	query := `
		INSERT INTO requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.querier(ctx).ExecContext(ctx, query,
		uuid.UUID(request.ID),
		uuid.UUID(request.RecipientID),
		string(request.Status),
		string(request.FundingStatus),
		nullableParty(request.AssignedSupplierID),
		request.QuantityRequired,
		request.Region,
		nullableJSON(request.Urgency),
		request.UrgencyBoosted,
		request.Flagged,
		request.CreatedAt,
		request.UpdatedAt,
		request.ExpiresAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// FindByID returns the request without locking it.
func (s *PostgresStore) FindByID(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`
	return scanRequest(s.querier(ctx).QueryRowContext(ctx, query, uuid.UUID(requestID)))
}

// FindByIDForUpdate takes the exclusive row lock. Lock order is fixed
// globally: the request row is always locked before any donation row.
func (s *PostgresStore) FindByIDForUpdate(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1 FOR UPDATE`
	request, err := scanRequest(s.querier(ctx).QueryRowContext(ctx, query, uuid.UUID(requestID)))
	if err != nil {
		return nil, translateLockErr(err)
	}
	return request, nil
}

// Update persists the mutated request.
func (s *PostgresStore) Update(ctx context.Context, request *models.Request) error {
	query := `
		UPDATE requests
		SET status = $2, funding_status = $3, assigned_supplier_id = $4,
			urgency = $5, urgency_boosted = $6, flagged = $7, updated_at = $8
		WHERE id = $1
	`
	result, err := s.querier(ctx).ExecContext(ctx, query,
		uuid.UUID(request.ID),
		string(request.Status),
		string(request.FundingStatus),
		nullableParty(request.AssignedSupplierID),
		nullableJSON(request.Urgency),
		request.UrgencyBoosted,
		request.Flagged,
		request.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// ListStale returns non-terminal requests created before the cutoff.
func (s *PostgresStore) ListStale(ctx context.Context, cutoff time.Time) ([]*models.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE created_at < $1
		  AND status NOT IN ('completed', 'closed_no_match', 'cancelled')
		ORDER BY created_at
	`
	rows, err := s.querier(ctx).QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stale requests: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

// ListAll returns every request. Read-model input.
func (s *PostgresStore) ListAll(ctx context.Context) ([]*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests ORDER BY created_at`
	rows, err := s.querier(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

// translateLockErr maps a lock-wait timeout onto the retryable sentinel so
// services surface it as a conflict, never a silent half-application.
func translateLockErr(err error) error {
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "55P03" {
		return sentinel.ErrLockTimeout
	}
	return err
}

func nullableParty(partyID *id.PartyID) any {
	if partyID == nil {
		return nil
	}
	return uuid.UUID(*partyID)
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.Request, error) {
	var (
		request       models.Request
		requestID     uuid.UUID
		recipientID   uuid.UUID
		status        string
		fundingStatus string
		supplierID    *uuid.UUID
		urgency       []byte
	)
	err := row.Scan(
		&requestID,
		&recipientID,
		&status,
		&fundingStatus,
		&supplierID,
		&request.QuantityRequired,
		&request.Region,
		&urgency,
		&request.UrgencyBoosted,
		&request.Flagged,
		&request.CreatedAt,
		&request.UpdatedAt,
		&request.ExpiresAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan request: %w", err)
	}
	request.ID = id.RequestID(requestID)
	request.RecipientID = id.PartyID(recipientID)
	request.Status = models.Status(status)
	request.FundingStatus = models.FundingStatus(fundingStatus)
	if supplierID != nil {
		assigned := id.PartyID(*supplierID)
		request.AssignedSupplierID = &assigned
	}
	if len(urgency) > 0 {
		request.Urgency = json.RawMessage(urgency)
	}
	return &request, nil
}

func scanRequests(rows *sql.Rows) ([]*models.Request, error) {
	var requests []*models.Request
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return requests, nil
}
