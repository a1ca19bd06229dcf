package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshTrigger identifies what started a refresh cycle
type RefreshTrigger string

const (
	RefreshTriggerStartup   RefreshTrigger = "startup"
	RefreshTriggerScheduled RefreshTrigger = "scheduled"
	RefreshTriggerManual    RefreshTrigger = "manual"
)

// RefreshStatus is the outcome of a single provider refresh
type RefreshStatus string

const (
	RefreshStatusSuccess RefreshStatus = "success"
	RefreshStatusFailed  RefreshStatus = "failed"
	RefreshStatusTimeout RefreshStatus = "timeout"
)

// ProviderRefreshResult records how one provider's refresh went
type ProviderRefreshResult struct {
	Provider      string        `json:"provider"`
	Tenant        string        `json:"tenant,omitempty"`
	Status        RefreshStatus `json:"status"`
	DocumentCount int           `json:"document_count"`
	DurationMs    int64         `json:"duration_ms"`
	Error         string        `json:"error,omitempty"`
}

// Succeeded reports whether the provider refreshed successfully
func (r ProviderRefreshResult) Succeeded() bool {
	return r.Status == RefreshStatusSuccess
}

// RefreshRun is the report of one full refresh cycle
type RefreshRun struct {
	ID          uuid.UUID               `json:"id" db:"id"`
	Trigger     RefreshTrigger          `json:"trigger" db:"trigger"`
	StartedAt   time.Time               `json:"started_at" db:"started_at"`
	CompletedAt time.Time               `json:"completed_at" db:"completed_at"`
	Results     []ProviderRefreshResult `json:"results" db:"results"` // JSONB
}

// TableName returns the table name for the RefreshRun model
func (RefreshRun) TableName() string {
	return "refresh_runs"
}

// NewRefreshRun starts a new refresh run report
func NewRefreshRun(trigger RefreshTrigger) *RefreshRun {
	return &RefreshRun{
		ID:        uuid.New(),
		Trigger:   trigger,
		StartedAt: time.Now(),
	}
}

// Complete stamps the completion time and stores the per-provider results
func (r *RefreshRun) Complete(results []ProviderRefreshResult) *RefreshRun {
	r.Results = results
	r.CompletedAt = time.Now()
	return r
}

// Success reports whether every provider refreshed successfully
func (r *RefreshRun) Success() bool {
	for _, res := range r.Results {
		if !res.Succeeded() {
			return false
		}
	}
	return true
}

// FailureCount returns the number of providers that did not refresh
func (r *RefreshRun) FailureCount() int {
	n := 0
	for _, res := range r.Results {
		if !res.Succeeded() {
			n++
		}
	}
	return n
}

// Duration returns the wall time of the run
func (r *RefreshRun) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
