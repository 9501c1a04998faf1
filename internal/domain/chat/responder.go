package chat

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RunResult is the outcome of one tool call made on the agent's behalf.
// It mirrors the tri-state execution result: success, policy violation, or
// failure.
type RunResult struct {
	Success         bool
	PolicyViolation bool
	BlockedReason   string
	Err             string
	Payload         any
}

// ToolRunner executes a tool call through the full policy chain.
type ToolRunner interface {
	Run(ctx context.Context, tool string, args map[string]any) RunResult
}

// ScriptedResponder is the built-in operations agent: it matches a user
// message to one of the known intents, runs the corresponding tool, and
// narrates the turn as a thought/action/observation trace. Tool calls go
// through the same policy chain as direct executions, so a blocked call
// produces a blocked agent message, not an error.
type ScriptedResponder struct {
	runner   ToolRunner
	services []string
}

// NewScriptedResponder binds the responder to a tool runner and the known
// service names used for target extraction.
func NewScriptedResponder(runner ToolRunner, services []string) *ScriptedResponder {
	return &ScriptedResponder{runner: runner, services: services}
}

var numberPattern = regexp.MustCompile(`\b(\d+)\b`)

// Respond produces the agent's reply for one user message.
func (r *ScriptedResponder) Respond(ctx context.Context, userText string) Reply {
	text := strings.ToLower(userText)

	switch {
	case strings.Contains(text, "restart"):
		service := r.findService(text)
		if service == "" {
			return Reply{Content: "Which service should I restart? I manage: " + strings.Join(r.services, ", ")}
		}
		return r.runTool(ctx,
			fmt.Sprintf("The user wants %s restarted. I'll issue the restart.", service),
			"restart_service",
			map[string]any{"service_name": service},
			fmt.Sprintf("Restarted %s; it is back to healthy.", service),
		)

	case strings.Contains(text, "scale"):
		m := numberPattern.FindStringSubmatch(text)
		if m == nil {
			return Reply{Content: "How many instances should the fleet run?"}
		}
		count, _ := strconv.Atoi(m[1])
		return r.runTool(ctx,
			fmt.Sprintf("The user wants the fleet at %d instances. I'll scale it.", count),
			"scale_fleet",
			map[string]any{"count": count},
			fmt.Sprintf("Fleet scaled to %d instances.", count),
		)

	case strings.Contains(text, "log"):
		service := r.findService(text)
		if service == "" {
			return Reply{Content: "Which service's logs do you want? I manage: " + strings.Join(r.services, ", ")}
		}
		return r.runTool(ctx,
			fmt.Sprintf("The user wants recent logs from %s. I'll pull them.", service),
			"read_logs",
			map[string]any{"service_name": service, "lines": 20},
			fmt.Sprintf("Here are the latest log lines from %s.", service),
		)

	case strings.Contains(text, "delete") && strings.Contains(text, "database"):
		return r.runTool(ctx,
			"The user is asking me to delete the database. I'll attempt it and let policy decide.",
			"delete_database",
			map[string]any{"db_name": "production-db"},
			"Database deleted.",
		)

	case strings.Contains(text, "status") || strings.Contains(text, "health") || strings.Contains(text, "service"):
		return r.runTool(ctx,
			"The user wants an overview of the estate. I'll list every service.",
			"list_services",
			nil,
			"Listed all services with their current health.",
		)

	default:
		return Reply{Content: "I can check service status, read logs, restart services, and scale the fleet. What do you need?"}
	}
}

// runTool executes one tool and narrates the outcome. The three result
// variants each get a distinct observation and final message.
func (r *ScriptedResponder) runTool(ctx context.Context, thought, tool string, args map[string]any, successText string) Reply {
	steps := []Step{
		{Thought: thought},
		{Action: fmt.Sprintf("%s(%s)", tool, formatArgs(args))},
	}

	result := r.runner.Run(ctx, tool, args)
	switch {
	case result.PolicyViolation:
		steps = append(steps, Step{Observation: "Blocked by policy: " + result.BlockedReason})
		return Reply{
			Content:  fmt.Sprintf("I can't do that: %s", result.BlockedReason),
			ToolUsed: tool,
			Blocked:  true,
			Steps:    steps,
		}
	case result.Success:
		steps = append(steps, Step{Observation: observationFor(result.Payload)})
		return Reply{Content: successText, ToolUsed: tool, Steps: steps}
	default:
		steps = append(steps, Step{Observation: "Execution failed: " + result.Err})
		return Reply{
			Content:  fmt.Sprintf("That didn't work: %s", result.Err),
			ToolUsed: tool,
			Steps:    steps,
		}
	}
}

func (r *ScriptedResponder) findService(text string) string {
	for _, svc := range r.services {
		if strings.Contains(text, svc) {
			return svc
		}
		// Accept the bare prefix too: "restart web" matches web-server.
		if prefix, _, ok := strings.Cut(svc, "-"); ok && strings.Contains(text, prefix) {
			return svc
		}
	}
	return ""
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, 0, len(args))
	for k, v := range args {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ", ")
}

func observationFor(payload any) string {
	if payload == nil {
		return "Done."
	}
	return fmt.Sprintf("Result: %v", payload)
}
