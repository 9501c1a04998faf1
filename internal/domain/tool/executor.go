package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ward-ops/ward/internal/domain/infra"
)

// Executor dispatches validated, policy-approved calls to the estate. It
// assumes policy has already run: it enforces argument schemas and fleet
// bounds, nothing else.
type Executor struct {
	catalog *Catalog
	cloud   *infra.Cloud
	logger  *slog.Logger
}

// NewExecutor binds the catalog to the simulated estate.
func NewExecutor(catalog *Catalog, cloud *infra.Cloud, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		catalog: catalog,
		cloud:   cloud,
		logger:  logger.With("component", "tool_executor"),
	}
}

// Execute runs one call. In shadow mode, mutating tools return a predicted
// impact instead of changing state; read-only tools run normally since they
// have no side effects to withhold.
func (x *Executor) Execute(ctx context.Context, name string, args map[string]any, shadow bool) (any, error) {
	args, err := x.catalog.ValidateArgs(name, args)
	if err != nil {
		return nil, err
	}

	switch name {
	case "list_services":
		services := x.cloud.ListServices()
		out := make([]map[string]any, 0, len(services))
		for _, svc := range services {
			out = append(out, serviceView(svc))
		}
		return map[string]any{"services": out}, nil

	case "get_service_status":
		svcName, _ := args["service_name"].(string)
		svc, err := x.cloud.ServiceStatus(svcName)
		if err != nil {
			return nil, err
		}
		return serviceView(svc), nil

	case "read_logs":
		svcName, _ := args["service_name"].(string)
		lines, err := infra.IntArg(args, "lines")
		if err != nil {
			return nil, err
		}
		entries, err := x.cloud.ReadLogs(svcName, lines)
		if err != nil {
			return nil, err
		}
		return map[string]any{"service": svcName, "lines": entries}, nil

	case "restart_service":
		if shadow {
			return x.cloud.PredictImpact(name, args)
		}
		svcName, _ := args["service_name"].(string)
		svc, err := x.cloud.RestartService(ctx, svcName)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"service":       svc.Name,
			"health":        svc.Health,
			"restart_count": svc.RestartCount,
		}, nil

	case "scale_fleet":
		if shadow {
			return x.cloud.PredictImpact(name, args)
		}
		count, err := infra.IntArg(args, "count")
		if err != nil {
			return nil, err
		}
		previous, current, err := x.cloud.ScaleFleet(ctx, count)
		if err != nil {
			return nil, err
		}
		return map[string]any{"previous_size": previous, "fleet_size": current}, nil

	case "delete_database":
		// Policy blocks this in every mode. Reaching here means the caller
		// bypassed validation, so refuse outright.
		return nil, errors.New("delete_database refused: destructive operation")

	default:
		return nil, fmt.Errorf("tool %q has no handler", name)
	}
}

func serviceView(svc infra.Service) map[string]any {
	view := map[string]any{
		"name":          svc.Name,
		"health":        svc.Health,
		"restart_count": svc.RestartCount,
	}
	if !svc.LastRestart.IsZero() {
		view["last_restart"] = svc.LastRestart
	}
	return view
}
