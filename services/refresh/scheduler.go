// Package refresh periodically re-fetches every registered context provider.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/upb/context-engine/internal/observability"
	"github.com/upb/context-engine/models"
	"github.com/upb/context-engine/services/providers"
)

const (
	// MinInterval is the shortest accepted refresh interval
	MinInterval = time.Second

	defaultTimeout     = 30 * time.Second
	defaultConcurrency = 4
	recordTimeout      = 5 * time.Second
)

// ErrAlreadyRunning is returned by Start when the loop is already running
var ErrAlreadyRunning = errors.New("refresh scheduler already running")

// RunRecorder persists refresh run reports
type RunRecorder interface {
	Insert(ctx context.Context, run *models.RefreshRun) error
}

// Options configures a Scheduler
type Options struct {
	Interval    time.Duration
	Timeout     time.Duration // per provider refresh
	Concurrency int
	Recorder    RunRecorder
	Metrics     observability.Metrics
	Logger      *zap.Logger
}

// Scheduler refreshes all providers at startup and then on every interval
type Scheduler struct {
	registry    *providers.Registry
	interval    time.Duration
	timeout     time.Duration
	concurrency int
	recorder    RunRecorder
	metrics     observability.Metrics
	logger      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	ready     atomic.Bool
	last      atomic.Pointer[models.RefreshRun]
	recording sync.WaitGroup
}

// NewScheduler creates a scheduler over registry
func NewScheduler(registry *providers.Registry, opts Options) *Scheduler {
	if opts.Interval < MinInterval {
		opts.Interval = MinInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Scheduler{
		registry:    registry,
		interval:    opts.Interval,
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		recorder:    opts.Recorder,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
}

// Interval returns the effective refresh interval
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start launches the background loop. The first cycle runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)

	s.logger.Info("refresh scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("timeout", s.timeout),
		zap.Int("concurrency", s.concurrency),
	)
	return nil
}

// Stop cancels the loop, including any in-flight refreshes, and waits for it
// and for pending run records to finish. Safe to call when not started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		s.logger.Info("refresh scheduler stopped")
	}
	s.recording.Wait()
}

// RefreshNow runs a full cycle synchronously and returns its report
func (s *Scheduler) RefreshNow(ctx context.Context) *models.RefreshRun {
	return s.runCycle(ctx, models.RefreshTriggerManual)
}

// Ready reports whether at least one cycle has completed
func (s *Scheduler) Ready() bool {
	return s.ready.Load()
}

// LastRun returns the most recent cycle report, or nil before the first one
func (s *Scheduler) LastRun() *models.RefreshRun {
	return s.last.Load()
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.runCycle(ctx, models.RefreshTriggerStartup)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx, models.RefreshTriggerScheduled)
		}
	}
}

// runCycle refreshes global providers and then each tenant's providers.
// Refreshes run concurrently but results keep that order.
func (s *Scheduler) runCycle(ctx context.Context, trigger models.RefreshTrigger) *models.RefreshRun {
	run := models.NewRefreshRun(trigger)
	regs := s.registry.All()
	results := make([]models.ProviderRefreshResult, len(regs))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, reg := range regs {
		i, reg := i, reg
		g.Go(func() error {
			results[i] = s.refreshOne(ctx, reg)
			return nil
		})
	}
	_ = g.Wait()

	run.Complete(results)
	s.last.Store(run)
	s.ready.Store(true)

	s.metrics.RecordRefreshCycle(ctx, string(trigger), run.Duration(), run.FailureCount())
	s.logger.Info("refresh cycle complete",
		zap.String("run_id", run.ID.String()),
		zap.String("trigger", string(trigger)),
		zap.Int("providers", len(results)),
		zap.Int("failures", run.FailureCount()),
		zap.Duration("duration", run.Duration()),
	)

	s.record(ctx, run)
	return run
}

// refreshOne runs a single provider refresh under the per-provider timeout.
// The refresh runs in its own goroutine so a provider that ignores its context
// is abandoned at the deadline instead of stalling the cycle.
func (s *Scheduler) refreshOne(parent context.Context, reg providers.Registration) models.ProviderRefreshResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("refresh panicked: %v", r)
			}
		}()
		done <- reg.Provider.Refresh(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	res := models.ProviderRefreshResult{
		Provider:   reg.Name,
		Tenant:     reg.Tenant,
		Status:     models.RefreshStatusSuccess,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		res.Status = models.RefreshStatusFailed
		if errors.Is(err, context.DeadlineExceeded) {
			res.Status = models.RefreshStatusTimeout
		}
		res.Error = err.Error()

		s.logger.Error("provider refresh failed",
			append(observability.ProviderFields(reg.Name, reg.Tenant),
				zap.String("status", string(res.Status)),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			)...,
		)
	}
	res.DocumentCount = len(reg.Provider.Documents())

	s.metrics.RecordProviderRefresh(ctx, reg.Name, reg.Tenant, string(res.Status), time.Since(start))
	return res
}

func (s *Scheduler) record(ctx context.Context, run *models.RefreshRun) {
	if s.recorder == nil {
		return
	}

	s.recording.Add(1)
	go func() {
		defer s.recording.Done()

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()

		if err := s.recorder.Insert(rctx, run); err != nil {
			s.logger.Warn("failed to record refresh run",
				zap.String("run_id", run.ID.String()),
				zap.Error(err),
			)
		}
	}()
}
