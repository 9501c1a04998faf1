package console

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	ward "github.com/ward-ops/ward/sdk"
)

// DefaultInfraRefreshInterval is how often the background task refreshes
// the infrastructure feed. Policy and catalog refresh only on explicit
// user actions to bound backend load.
const DefaultInfraRefreshInterval = 10 * time.Second

// StatusSynchronizer composes the three status feeds — policy, infrastructure,
// and tool catalog — into one periodically refreshed view. Each feed fails
// independently: a failed load keeps the previous snapshot, records a scoped
// error, and never blocks the other feeds. The feeds are not an atomic
// snapshot; policy and infrastructure may disagree by up to one refresh cycle.
type StatusSynchronizer struct {
	client   *ward.Client
	logger   *slog.Logger
	interval time.Duration

	mu         sync.Mutex
	policy     *ward.PolicyStatus
	infra      *ward.InfrastructureStatus
	catalog    *ward.ToolCatalog
	policyErr  error
	infraErr   error
	catalogErr error
	task       *Task
	onUpdate   func()
}

// NewStatusSynchronizer creates a synchronizer over the given client.
// Interval zero means DefaultInfraRefreshInterval.
func NewStatusSynchronizer(client *ward.Client, logger *slog.Logger, interval time.Duration) *StatusSynchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInfraRefreshInterval
	}
	return &StatusSynchronizer{
		client:   client,
		logger:   logger.With("component", "status_sync"),
		interval: interval,
	}
}

// OnUpdate registers a callback invoked after any feed changes. Must be set
// before Initialize or StartAutoRefresh.
func (s *StatusSynchronizer) OnUpdate(fn func()) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// Initialize loads all three feeds concurrently. Each feed's error is
// scoped to that feed; the returned error joins whatever failed so the
// caller can log it, but partial data is already available through the
// accessors.
func (s *StatusSynchronizer) Initialize(ctx context.Context) error {
	return s.Refresh(ctx)
}

// Refresh repeats the concurrent three-feed load on demand.
func (s *StatusSynchronizer) Refresh(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, 3)

	wg.Add(3)
	go func() {
		defer wg.Done()
		errs[0] = s.RefreshPolicy(ctx)
	}()
	go func() {
		defer wg.Done()
		errs[1] = s.RefreshInfrastructure(ctx)
	}()
	go func() {
		defer wg.Done()
		errs[2] = s.RefreshCatalog(ctx)
	}()
	wg.Wait()

	return errors.Join(errs...)
}

// RefreshPolicy reloads the policy feed only.
func (s *StatusSynchronizer) RefreshPolicy(ctx context.Context) error {
	status, err := s.client.PolicyStatus(ctx)

	s.mu.Lock()
	s.policyErr = err
	if err == nil {
		s.policy = status
	}
	notify := s.onUpdate
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("policy feed refresh failed", "error", err)
		return err
	}
	if notify != nil {
		notify()
	}
	return nil
}

// RefreshInfrastructure reloads the infrastructure feed only.
func (s *StatusSynchronizer) RefreshInfrastructure(ctx context.Context) error {
	status, err := s.client.InfrastructureStatus(ctx)

	s.mu.Lock()
	s.infraErr = err
	if err == nil {
		s.infra = status
	}
	notify := s.onUpdate
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("infrastructure feed refresh failed", "error", err)
		return err
	}
	if notify != nil {
		notify()
	}
	return nil
}

// RefreshCatalog reloads the tool catalog feed only.
func (s *StatusSynchronizer) RefreshCatalog(ctx context.Context) error {
	catalog, err := s.client.ToolCatalog(ctx)

	s.mu.Lock()
	s.catalogErr = err
	if err == nil {
		s.catalog = catalog
	}
	notify := s.onUpdate
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("catalog feed refresh failed", "error", err)
		return err
	}
	if notify != nil {
		notify()
	}
	return nil
}

// StartAutoRefresh begins the recurring infrastructure refresh. A running
// refresh task is stopped before the new one starts, so at most one exists.
func (s *StatusSynchronizer) StartAutoRefresh(ctx context.Context) {
	s.mu.Lock()
	prior := s.task
	s.task = nil
	s.mu.Unlock()
	if prior != nil {
		prior.Stop()
	}

	task := StartTicker(ctx, s.interval, func(ctx context.Context) bool {
		// A failed tick is logged inside RefreshInfrastructure; the next
		// scheduled tick retries naturally.
		_ = s.RefreshInfrastructure(ctx)
		return true
	})

	s.mu.Lock()
	s.task = task
	s.mu.Unlock()
}

// Stop cancels the recurring refresh. Safe to call without StartAutoRefresh.
func (s *StatusSynchronizer) Stop() {
	s.mu.Lock()
	task := s.task
	s.task = nil
	s.mu.Unlock()
	if task != nil {
		task.Stop()
	}
}

// Policy returns the last good policy snapshot and the feed's current error.
// Both can be non-nil at once: stale data plus a failing refresh.
func (s *StatusSynchronizer) Policy() (*ward.PolicyStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy, s.policyErr
}

// Infrastructure returns the last good health snapshot and the feed's error.
func (s *StatusSynchronizer) Infrastructure() (*ward.InfrastructureStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infra, s.infraErr
}

// Catalog returns the last good tool catalog and the feed's error.
func (s *StatusSynchronizer) Catalog() (*ward.ToolCatalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog, s.catalogErr
}
