package infra

import "fmt"

// PredictImpact produces the shadow-mode result for a mutating tool: what
// the call would have done, derived from current state, with no state
// change and no action log entry.
func (c *Cloud) PredictImpact(tool string, args map[string]any) (map[string]any, error) {
	switch tool {
	case "restart_service":
		name, _ := args["service_name"].(string)
		svc, err := c.ServiceStatus(name)
		if err != nil {
			return nil, err
		}
		risk := "moderate"
		recommendation := "service is healthy; a restart causes avoidable downtime"
		if svc.Health != HealthHealthy {
			risk = "low"
			recommendation = "restart is the standard recovery for a " + svc.Health + " service"
		}
		return map[string]any{
			"simulated":                  true,
			"service":                    svc.Name,
			"current_health":             svc.Health,
			"predicted_health":           HealthHealthy,
			"estimated_downtime_seconds": 5,
			"risk_level":                 risk,
			"recommendation":             recommendation,
		}, nil

	case "scale_fleet":
		count, err := IntArg(args, "count")
		if err != nil {
			return nil, err
		}
		if count < MinFleetSize || count > MaxFleetSize {
			return nil, fmt.Errorf("fleet size %d out of range [%d, %d]", count, MinFleetSize, MaxFleetSize)
		}
		st := c.Status()
		delta := count - st.FleetSize
		risk := "low"
		if delta < 0 {
			risk = "moderate"
		}
		return map[string]any{
			"simulated":       true,
			"current_fleet":   st.FleetSize,
			"predicted_fleet": count,
			"delta":           delta,
			"risk_level":      risk,
			"recommendation":  scaleAdvice(delta),
		}, nil

	default:
		return nil, fmt.Errorf("no impact model for tool %q", tool)
	}
}

func scaleAdvice(delta int) string {
	switch {
	case delta > 0:
		return "scaling up adds capacity with no expected disruption"
	case delta < 0:
		return "scaling down reduces headroom; confirm current load first"
	default:
		return "fleet already at the requested size"
	}
}

// IntArg extracts an integer argument, accepting the float64 form JSON
// decoding produces.
func IntArg(args map[string]any, key string) (int, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("argument %q is not a number", key)
	}
}
