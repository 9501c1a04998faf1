package console

import (
	"context"
	"log/slog"

	ward "github.com/ward-ops/ward/sdk"
)

// PolicyModeController switches the backend's operational mode. There is no
// optimistic mode switch: the displayed mode only changes when a refresh
// after a successful request confirms it.
type PolicyModeController struct {
	client *ward.Client
	status *StatusSynchronizer
	logger *slog.Logger
}

// NewPolicyModeController creates a controller bound to the synchronizer
// that owns the displayed state.
func NewPolicyModeController(client *ward.Client, status *StatusSynchronizer, logger *slog.Logger) *PolicyModeController {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyModeController{
		client: client,
		status: status,
		logger: logger.With("component", "mode_controller"),
	}
}

// SetMode requests the mode change and, on success, forces a full policy
// and catalog resync — a mode change can invalidate the active grant and
// repartition allowed/blocked tools. On failure the displayed mode is left
// unchanged and the error is surfaced to the caller.
func (c *PolicyModeController) SetMode(ctx context.Context, mode string) error {
	resp, err := c.client.SetMode(ctx, mode)
	if err != nil {
		return err
	}
	c.logger.Info("mode changed", "mode", resp.NewMode)

	if err := c.status.RefreshPolicy(ctx); err != nil {
		return err
	}
	return c.status.RefreshCatalog(ctx)
}

// CurrentMode returns the last confirmed mode, or "" when the policy feed
// has never loaded.
func (c *PolicyModeController) CurrentMode() string {
	status, _ := c.status.Policy()
	if status == nil {
		return ""
	}
	return status.CurrentMode
}
