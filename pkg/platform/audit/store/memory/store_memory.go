package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	audit "aidbridge/pkg/platform/audit"
)

const defaultPageSize = 50

// Store is an in-memory, append-only audit store for unit tests and local
// runs. Entries are copied on the way in and out; nothing is ever mutated
// after append.
type Store struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

// New creates an empty in-memory audit store.
func New() *Store {
	return &Store{}
}

// Append records one entry.
func (s *Store) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	s.entries = append(s.entries, entry)
	return nil
}

// List returns matching entries newest-first, paginated.
func (s *Store) List(_ context.Context, filter audit.Filter) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []audit.Entry
	for _, entry := range s.entries {
		if matches(entry, filter) {
			matched = append(matched, entry)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	start := filter.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

// HistoryForEntity returns the full history for one entity, newest-first.
func (s *Store) HistoryForEntity(ctx context.Context, entityType audit.EntityType, entityID string) ([]audit.Entry, error) {
	return s.List(ctx, audit.Filter{
		EntityType: &entityType,
		EntityID:   &entityID,
		Limit:      len(s.entries) + 1,
	})
}

// Len reports the number of appended entries. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func matches(entry audit.Entry, filter audit.Filter) bool {
	if filter.ActorID != nil && entry.ActorID != *filter.ActorID {
		return false
	}
	if filter.Action != nil && entry.Action != *filter.Action {
		return false
	}
	if filter.EntityType != nil && entry.EntityType != *filter.EntityType {
		return false
	}
	if filter.EntityID != nil && entry.EntityID != *filter.EntityID {
		return false
	}
	if filter.From != nil && entry.CreatedAt.Before(*filter.From) {
		return false
	}
	if filter.To != nil && entry.CreatedAt.After(*filter.To) {
		return false
	}
	return true
}
