// audit/repository.go
package audit

import (
	"context"
	"sync"
	"time"

	aegis_errors "github.com/framelane/aegis/errors"
)

// Repository is the authoritative entry store the service verifies against.
type Repository interface {
	Save(ctx context.Context, entry Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	All(ctx context.Context) ([]Entry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryRepository keeps entries in a mutex-guarded map. The service only
// ever appends; overwriting an id through Save is exactly the tampering
// that verification exists to detect.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entries: make(map[string]Entry),
	}
}

func (r *MemoryRepository) Save(_ context.Context, entry Entry) error {
	if entry.ID == "" {
		return aegis_errors.ErrInvalidEntry
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.ID] = entry
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, aegis_errors.ErrEntryNotFound
	}
	return &entry, nil
}

func (r *MemoryRepository) All(_ context.Context) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	return out, nil
}

func (r *MemoryRepository) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, entry := range r.entries {
		if entry.Timestamp.Before(cutoff) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed, nil
}
