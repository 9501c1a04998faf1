package console

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	ward "github.com/ward-ops/ward/sdk"
)

// ValidationError reports tool arguments rejected client-side against the
// catalog's parameter schema, before any request is sent.
type ValidationError struct {
	// Tool is the tool whose arguments were rejected.
	Tool string
	// Missing are the required parameter names that were absent.
	Missing []string
}

// Error returns a human-readable description of the missing arguments.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %q missing required arguments: %s", e.Tool, strings.Join(e.Missing, ", "))
}

// ToolInvoker sends single tool-execution requests and interprets the
// tri-state result. A policy violation is a successfully returned result
// variant, rendered distinctly from true failures — never an error.
type ToolInvoker struct {
	client *ward.Client
	status *StatusSynchronizer
	logger *slog.Logger
}

// NewToolInvoker creates an invoker bound to the synchronizer's catalog
// and infrastructure feeds.
func NewToolInvoker(client *ward.Client, status *StatusSynchronizer, logger *slog.Logger) *ToolInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolInvoker{
		client: client,
		status: status,
		logger: logger.With("component", "tool_invoker"),
	}
}

// Execute runs (or shadow-runs) a tool. When the catalog schema for the
// tool is known, required arguments are checked client-side and a
// *ValidationError is returned without touching the network. After any
// completed execution — REAL or SHADOW — the infrastructure feed is
// refreshed unconditionally; a contract-compliant backend produces no
// observable delta for SHADOW calls, so the extra refresh is harmless.
func (inv *ToolInvoker) Execute(ctx context.Context, toolName string, args map[string]any, mode ward.ExecutionMode) (*ward.ToolResult, error) {
	if err := inv.validateArgs(toolName, args); err != nil {
		return nil, err
	}

	result, err := inv.client.ExecuteTool(ctx, ward.ExecuteRequest{
		ToolName:      toolName,
		Arguments:     args,
		ExecutionMode: mode,
	})
	if err != nil {
		return nil, err
	}

	switch {
	case result.PolicyViolation:
		inv.logger.Info("tool blocked by policy",
			"tool", toolName,
			"mode", mode,
			"blocked_reason", result.BlockedReason,
		)
	case result.Success:
		inv.logger.Info("tool executed", "tool", toolName, "mode", mode)
	default:
		inv.logger.Warn("tool execution failed", "tool", toolName, "error", result.Error)
	}

	if err := inv.status.RefreshInfrastructure(ctx); err != nil {
		inv.logger.Warn("infrastructure refresh after execution failed", "error", err)
	}
	return result, nil
}

// validateArgs checks required parameters against the cached catalog
// schema. An unknown tool passes through untouched: the backend owns the
// catalog and its error text is surfaced verbatim.
func (inv *ToolInvoker) validateArgs(toolName string, args map[string]any) error {
	catalog, _ := inv.status.Catalog()
	if catalog == nil {
		return nil
	}
	tool := catalog.ToolByName(toolName)
	if tool == nil {
		return nil
	}

	var missing []string
	for name, spec := range tool.Parameters {
		if !spec.Required {
			continue
		}
		if v, ok := args[name]; !ok || v == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &ValidationError{Tool: toolName, Missing: missing}
}
