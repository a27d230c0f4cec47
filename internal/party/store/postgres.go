package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"aidbridge/internal/party/models"
	id "aidbridge/pkg/domain"
	"aidbridge/pkg/platform/sentinel"
	txcontext "aidbridge/pkg/platform/tx"
)

// PostgresStore persists parties in PostgreSQL. This store is pure I/O; role
// and identity rules belong in the domain model.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed party store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) querier(ctx context.Context) queryRower {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Create inserts a party row.
func (s *PostgresStore) Create(ctx context.Context, party *models.Party) error {
	query := `
		INSERT INTO parties (id, name, role, phone, national_id, region, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.querier(ctx).ExecContext(ctx, query,
		uuid.UUID(party.ID),
		party.Name,
		string(party.Role),
		party.Phone,
		party.NationalID,
		party.Region,
		party.Verified,
		party.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert party: %w", err)
	}
	return nil
}

// FindByID returns the party or sentinel.ErrNotFound.
func (s *PostgresStore) FindByID(ctx context.Context, partyID id.PartyID) (*models.Party, error) {
	query := `
		SELECT id, name, role, phone, national_id, region, verified, created_at
		FROM parties
		WHERE id = $1
	`
	return s.scanParty(s.querier(ctx).QueryRowContext(ctx, query, uuid.UUID(partyID)))
}

// SetVerified flips the external verification flag.
func (s *PostgresStore) SetVerified(ctx context.Context, partyID id.PartyID, verified bool) error {
	result, err := s.querier(ctx).ExecContext(ctx,
		`UPDATE parties SET verified = $2 WHERE id = $1`,
		uuid.UUID(partyID), verified,
	)
	if err != nil {
		return fmt.Errorf("update party verification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update party verification: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) scanParty(row *sql.Row) (*models.Party, error) {
	var (
		party   models.Party
		partyID uuid.UUID
		role    string
	)
	err := row.Scan(
		&partyID,
		&party.Name,
		&role,
		&party.Phone,
		&party.NationalID,
		&party.Region,
		&party.Verified,
		&party.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan party: %w", err)
	}
	party.ID = id.PartyID(partyID)
	party.Role = models.Role(role)
	return &party, nil
}
