package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	dErrors "aidbridge/pkg/domain-errors"
	"aidbridge/pkg/requestcontext"
)

// Publisher emits audit entries with fail-closed semantics. The caller blocks
// until persistence succeeds; on failure the calling operation MUST fail so
// the surrounding transaction rolls back.
type Publisher struct {
	store  Store
	logger *slog.Logger
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher builds a publisher over the given store.
func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit enriches the entry from context (timestamp, correlation ID, client
// metadata) and appends it. Must be called inside the unit of work that
// performed the mutation.
func (p *Publisher) Emit(ctx context.Context, entry Entry) error {
	if entry.Action == "" {
		return dErrors.New(dErrors.CodeInternal, "audit entry requires an action")
	}
	if entry.EntityType == "" || entry.EntityID == "" {
		return dErrors.New(dErrors.CodeInternal, "audit entry requires an entity reference")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = requestcontext.Now(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = requestcontext.RequestID(ctx)
	}
	if entry.ClientIP == "" {
		entry.ClientIP = requestcontext.ClientIP(ctx)
	}
	if entry.UserAgent == "" {
		entry.UserAgent = requestcontext.UserAgent(ctx)
	}

	if err := p.store.Append(ctx, entry); err != nil {
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "audit append failed",
				"action", string(entry.Action),
				"entity_type", string(entry.EntityType),
				"entity_id", entry.EntityID,
				"error", err.Error(),
			)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit entry")
	}
	return nil
}

// List exposes the filtered read side.
func (p *Publisher) List(ctx context.Context, filter Filter) ([]Entry, error) {
	return p.store.List(ctx, filter)
}

// HistoryForEntity returns the full history for one entity, newest-first.
func (p *Publisher) HistoryForEntity(ctx context.Context, entityType EntityType, entityID string) ([]Entry, error) {
	return p.store.HistoryForEntity(ctx, entityType, entityID)
}
