package console

import (
	"context"
	"errors"
	"log/slog"

	ward "github.com/ward-ops/ward/sdk"
)

// ErrNoServices is returned when a scope declaration names no services.
var ErrNoServices = errors.New("incident scope requires at least one service")

// IncidentScopeTracker declares and clears the incident's affected-service
// scope. It is a pure request/response pass-through: the client never
// infers scope from service health, it only reflects what the backend
// reports on the next policy refresh.
type IncidentScopeTracker struct {
	client *ward.Client
	status *StatusSynchronizer
	logger *slog.Logger
}

// NewIncidentScopeTracker creates a tracker bound to the synchronizer's
// policy feed.
func NewIncidentScopeTracker(client *ward.Client, status *StatusSynchronizer, logger *slog.Logger) *IncidentScopeTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &IncidentScopeTracker{
		client: client,
		status: status,
		logger: logger.With("component", "incident_tracker"),
	}
}

// SetScope declares the incident scope. The only client-side validation is
// a non-empty service list; everything else is the backend's call.
func (t *IncidentScopeTracker) SetScope(ctx context.Context, services []string, incidentType, reason string) error {
	if len(services) == 0 {
		return ErrNoServices
	}

	if err := t.client.SetIncidentScope(ctx, services, incidentType, reason); err != nil {
		return err
	}
	t.logger.Info("incident scope declared",
		"services", services,
		"incident_type", incidentType,
	)
	return t.status.RefreshPolicy(ctx)
}

// ClearScope clears the declared scope.
func (t *IncidentScopeTracker) ClearScope(ctx context.Context) error {
	if err := t.client.ClearIncidentScope(ctx); err != nil {
		return err
	}
	t.logger.Info("incident scope cleared")
	return t.status.RefreshPolicy(ctx)
}

// Scope returns the backend-reported scope from the last policy refresh,
// or nil when none is declared. A scope is either fully present or absent,
// never partially set.
func (t *IncidentScopeTracker) Scope() *ward.IncidentScope {
	status, _ := t.status.Policy()
	if status == nil {
		return nil
	}
	return status.Scope
}
