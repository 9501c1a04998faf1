package console

import (
	"context"
	"log/slog"
	"sync"
	"time"

	ward "github.com/ward-ops/ward/sdk"
)

// GrantLifecycleTracker manages the time-bounded emergency grant. The
// client never runs its own countdown: remaining time is re-derived from
// the server-reported absolute expiry at every read, so client and server
// clocks cannot drift apart between refreshes.
type GrantLifecycleTracker struct {
	client *ward.Client
	status *StatusSynchronizer
	logger *slog.Logger

	mu            sync.Mutex
	pendingRevoke bool
}

// NewGrantLifecycleTracker creates a tracker bound to the synchronizer's
// policy feed.
func NewGrantLifecycleTracker(client *ward.Client, status *StatusSynchronizer, logger *slog.Logger) *GrantLifecycleTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &GrantLifecycleTracker{
		client: client,
		status: status,
		logger: logger.With("component", "grant_tracker"),
	}
}

// Grant requests a new time-bounded grant. Whether a request during an
// active grant rejects or overwrites is the server's decision; the client
// renders whatever state the follow-up refresh reports.
func (g *GrantLifecycleTracker) Grant(ctx context.Context, durationSeconds int, reason string) (*ward.GrantResponse, error) {
	resp, err := g.client.GrantTemporary(ctx, durationSeconds, reason)
	if err != nil {
		return nil, err
	}
	g.logger.Info("temporary grant requested",
		"duration_seconds", durationSeconds,
		"expiry_time", resp.ExpiryTime,
	)

	g.mu.Lock()
	g.pendingRevoke = false
	g.mu.Unlock()

	if err := g.status.RefreshPolicy(ctx); err != nil {
		// The grant went through; the stale display heals on the next refresh.
		g.logger.Warn("policy refresh after grant failed", "error", err)
	}
	return resp, nil
}

// Extend asks the server to push the expiry forward and re-derives
// remaining time from the new authoritative expiry.
func (g *GrantLifecycleTracker) Extend(ctx context.Context, additionalSeconds int) (*ward.GrantResponse, error) {
	resp, err := g.client.ExtendTemporary(ctx, additionalSeconds)
	if err != nil {
		return nil, err
	}
	g.logger.Info("temporary grant extended",
		"additional_seconds", additionalSeconds,
		"expiry_time", resp.ExpiryTime,
	)

	if err := g.status.RefreshPolicy(ctx); err != nil {
		g.logger.Warn("policy refresh after extend failed", "error", err)
	}
	return resp, nil
}

// Revoke requests immediate termination. Until the next refresh confirms
// the grant is gone, PendingRevoke reports true so the UI can show a
// pending state instead of assuming success.
func (g *GrantLifecycleTracker) Revoke(ctx context.Context) error {
	if err := g.client.RevokeTemporary(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	g.pendingRevoke = true
	g.mu.Unlock()

	if err := g.status.RefreshPolicy(ctx); err != nil {
		g.logger.Warn("policy refresh after revoke failed", "error", err)
	}
	return nil
}

// Remaining returns max(0, expiry − now) based on the last refreshed
// server expiry. Zero when no grant is known.
func (g *GrantLifecycleTracker) Remaining(now time.Time) time.Duration {
	status, _ := g.status.Policy()
	if status == nil || status.Grant.ExpiryTime == nil {
		return 0
	}
	remaining := status.Grant.ExpiryTime.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Active reports whether the grant should render as active: the server
// says so and the derived remaining time has not hit zero. A grant whose
// expiry has passed is inactive even before the server confirms it.
func (g *GrantLifecycleTracker) Active(now time.Time) bool {
	status, _ := g.status.Policy()
	if status == nil || !status.Grant.Active {
		return false
	}
	return g.Remaining(now) > 0
}

// PendingRevoke reports whether a revoke has been requested but not yet
// confirmed by a policy refresh.
func (g *GrantLifecycleTracker) PendingRevoke() bool {
	status, _ := g.status.Policy()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pendingRevoke && status != nil && !status.Grant.Active {
		// Refresh confirmed the revoke.
		g.pendingRevoke = false
	}
	return g.pendingRevoke
}
