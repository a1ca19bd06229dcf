// Package memory keeps recent refresh runs in process when no database is configured.
package memory

import (
	"context"
	"sync"

	"github.com/upb/context-engine/models"
	"github.com/upb/context-engine/repositories"
)

// DefaultCapacity is the number of runs kept when capacity is not positive
const DefaultCapacity = 50

// RefreshRunRepository is a bounded, newest-first store of refresh runs
type RefreshRunRepository struct {
	mu       sync.RWMutex
	runs     []*models.RefreshRun
	capacity int
}

// NewRefreshRunRepository creates an in-memory repository holding at most capacity runs
func NewRefreshRunRepository(capacity int) repositories.RefreshRunRepository {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RefreshRunRepository{capacity: capacity}
}

// Insert stores a run, evicting the oldest when full
func (r *RefreshRunRepository) Insert(_ context.Context, run *models.RefreshRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs = append([]*models.RefreshRun{run}, r.runs...)
	if len(r.runs) > r.capacity {
		r.runs = r.runs[:r.capacity]
	}
	return nil
}

// ListRecent returns up to limit runs, newest first
func (r *RefreshRunRepository) ListRecent(_ context.Context, limit int) ([]*models.RefreshRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.runs) {
		limit = len(r.runs)
	}
	out := make([]*models.RefreshRun, limit)
	copy(out, r.runs[:limit])
	return out, nil
}
