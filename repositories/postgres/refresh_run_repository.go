package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/upb/context-engine/models"
	"github.com/upb/context-engine/repositories"
)

// RefreshRunRepository implements the repositories.RefreshRunRepository interface
type RefreshRunRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRefreshRunRepository creates a new refresh run repository
func NewRefreshRunRepository(db *DB, logger *zap.Logger) repositories.RefreshRunRepository {
	return &RefreshRunRepository{
		db:     db,
		logger: logger,
	}
}

// Insert stores a refresh run; per-provider results go into a JSONB column
func (r *RefreshRunRepository) Insert(ctx context.Context, run *models.RefreshRun) error {
	query := `
		INSERT INTO refresh_runs (
			id, trigger, started_at, completed_at, provider_count, failure_count, results
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	results, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal refresh results: %w", err)
	}

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		string(run.Trigger),
		run.StartedAt,
		run.CompletedAt,
		len(run.Results),
		run.FailureCount(),
		results,
	)
	if err != nil {
		return fmt.Errorf("failed to insert refresh run: %w", err)
	}

	r.logger.Debug("refresh run inserted", zap.String("id", run.ID.String()), zap.String("trigger", string(run.Trigger)))
	return nil
}

// ListRecent returns up to limit runs, newest first
func (r *RefreshRunRepository) ListRecent(ctx context.Context, limit int) ([]*models.RefreshRun, error) {
	query := `
		SELECT id, trigger, started_at, completed_at, results
		FROM refresh_runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*models.RefreshRun, 0, limit)
	for rows.Next() {
		run := &models.RefreshRun{}
		var trigger string
		var results []byte

		if err := rows.Scan(&run.ID, &trigger, &run.StartedAt, &run.CompletedAt, &results); err != nil {
			return nil, fmt.Errorf("failed to scan refresh run: %w", err)
		}
		run.Trigger = models.RefreshTrigger(trigger)
		if err := json.Unmarshal(results, &run.Results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal refresh results for %s: %w", run.ID, err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating refresh runs: %w", err)
	}

	return runs, nil
}
