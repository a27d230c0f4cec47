package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	id "aidbridge/pkg/domain"
	audit "aidbridge/pkg/platform/audit"
	txcontext "aidbridge/pkg/platform/tx"
)

const defaultPageSize = 50

// Store persists audit entries in PostgreSQL. Append joins the ambient
// transaction from context so the entry commits atomically with the mutation
// it documents, and writes a second row to the outbox table for downstream
// Kafka publication by the relay worker.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure published to Kafka. Field names match
// audit.Entry for deserialization by downstream consumers.
type outboxPayload struct {
	ID          string         `json:"ID"`
	Action      string         `json:"Action"`
	EntityType  string         `json:"EntityType"`
	EntityID    string         `json:"EntityID"`
	ActorID     string         `json:"ActorID,omitempty"`
	OldValues   map[string]any `json:"OldValues,omitempty"`
	NewValues   map[string]any `json:"NewValues,omitempty"`
	Description string         `json:"Description,omitempty"`
	RequestID   string         `json:"RequestID,omitempty"`
	CreatedAt   string         `json:"CreatedAt"`
}

// Append inserts the entry and its outbox row through the same executor.
// Inside a transaction both rows commit or roll back with the mutation.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	oldValues, err := marshalValues(entry.OldValues)
	if err != nil {
		return fmt.Errorf("marshal old values: %w", err)
	}
	newValues, err := marshalValues(entry.NewValues)
	if err != nil {
		return fmt.Errorf("marshal new values: %w", err)
	}

	exec := s.execer(ctx)

	query := `
		INSERT INTO audit_entries (
			id, action, entity_type, entity_id, actor_id,
			old_values, new_values, description,
			request_id, client_ip, user_agent, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	var actorID *uuid.UUID
	if !entry.ActorID.IsNil() {
		actor := uuid.UUID(entry.ActorID)
		actorID = &actor
	}
	if _, err := exec.ExecContext(ctx, query,
		entry.ID,
		string(entry.Action),
		string(entry.EntityType),
		entry.EntityID,
		actorID,
		oldValues,
		newValues,
		entry.Description,
		entry.RequestID,
		entry.ClientIP,
		entry.UserAgent,
		entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	payload := outboxPayload{
		ID:          entry.ID.String(),
		Action:      string(entry.Action),
		EntityType:  string(entry.EntityType),
		EntityID:    entry.EntityID,
		OldValues:   entry.OldValues,
		NewValues:   entry.NewValues,
		Description: entry.Description,
		RequestID:   entry.RequestID,
		CreatedAt:   entry.CreatedAt.Format(time.RFC3339Nano),
	}
	if !entry.ActorID.IsNil() {
		payload.ActorID = entry.ActorID.String()
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	outboxQuery := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := exec.ExecContext(ctx, outboxQuery,
		uuid.New(),
		string(entry.EntityType),
		entry.EntityID,
		string(entry.Action),
		payloadBytes,
		entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// List returns entries matching the filter, newest-first, paginated.
func (s *Store) List(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	var (
		conditions []string
		args       []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.ActorID != nil {
		conditions = append(conditions, "actor_id = "+arg(uuid.UUID(*filter.ActorID)))
	}
	if filter.Action != nil {
		conditions = append(conditions, "action = "+arg(string(*filter.Action)))
	}
	if filter.EntityType != nil {
		conditions = append(conditions, "entity_type = "+arg(string(*filter.EntityType)))
	}
	if filter.EntityID != nil {
		conditions = append(conditions, "entity_id = "+arg(*filter.EntityID))
	}
	if filter.From != nil {
		conditions = append(conditions, "created_at >= "+arg(*filter.From))
	}
	if filter.To != nil {
		conditions = append(conditions, "created_at <= "+arg(*filter.To))
	}

	query := `
		SELECT id, action, entity_type, entity_id, actor_id,
			   old_values, new_values, description,
			   request_id, client_ip, user_agent, created_at
		FROM audit_entries
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	query += " ORDER BY created_at DESC, id DESC"
	query += " LIMIT " + arg(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// HistoryForEntity returns every entry for one entity, newest-first.
func (s *Store) HistoryForEntity(ctx context.Context, entityType audit.EntityType, entityID string) ([]audit.Entry, error) {
	query := `
		SELECT id, action, entity_type, entity_id, actor_id,
			   old_values, new_values, description,
			   request_id, client_ip, user_agent, created_at
		FROM audit_entries
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC
	`
	rows, err := s.db.QueryContext(ctx, query, string(entityType), entityID)
	if err != nil {
		return nil, fmt.Errorf("query entity history: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func marshalValues(values map[string]any) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	return json.Marshal(values)
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	var entries []audit.Entry

	for rows.Next() {
		var (
			entry      audit.Entry
			action     string
			entityType string
			actorID    *uuid.UUID
			oldValues  []byte
			newValues  []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&action,
			&entityType,
			&entry.EntityID,
			&actorID,
			&oldValues,
			&newValues,
			&entry.Description,
			&entry.RequestID,
			&entry.ClientIP,
			&entry.UserAgent,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.Action = audit.Action(action)
		entry.EntityType = audit.EntityType(entityType)
		if actorID != nil {
			entry.ActorID = id.PartyID(*actorID)
		}
		if len(oldValues) > 0 {
			if err := json.Unmarshal(oldValues, &entry.OldValues); err != nil {
				return nil, fmt.Errorf("unmarshal old values: %w", err)
			}
		}
		if len(newValues) > 0 {
			if err := json.Unmarshal(newValues, &entry.NewValues); err != nil {
				return nil, fmt.Errorf("unmarshal new values: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
