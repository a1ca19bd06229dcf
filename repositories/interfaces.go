package repositories

import (
	"context"

	"github.com/upb/context-engine/models"
)

// RefreshRunRepository stores refresh cycle reports
type RefreshRunRepository interface {
	// Insert stores a completed refresh run
	Insert(ctx context.Context, run *models.RefreshRun) error

	// ListRecent returns up to limit runs, newest first
	ListRecent(ctx context.Context, limit int) ([]*models.RefreshRun, error)
}

// Repositories holds all repository instances
type Repositories struct {
	RefreshRuns RefreshRunRepository
}
