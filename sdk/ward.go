// Package ward provides a Go client for the Ward guardian backend API.
//
// The backend governs a simulated cloud estate through an operational-mode
// policy engine. This package covers the full HTTP contract: policy status
// and mode changes, temporary grants, incident scope, infrastructure
// status, the tool catalog, tool execution, and the asynchronous chat
// transcript. All calls take a context and return typed errors; transport
// failures are reported as *ConnectivityError and non-2xx responses as
// *APIError.
//
// Quick start:
//
//	client := ward.NewClient(ward.WithServerAddr("http://localhost:8000"))
//
//	status, err := client.PolicyStatus(ctx)
//	if err != nil {
//	    var conn *ward.ConnectivityError
//	    if errors.As(err, &conn) {
//	        // backend unreachable, degrade and retry later
//	    }
//	}
package ward

import (
	"encoding/json"
	"time"
)

// ExecutionMode selects between a real tool execution and a dry run.
type ExecutionMode string

const (
	// ModeReal executes the tool against the (simulated) infrastructure.
	ModeReal ExecutionMode = "REAL"

	// ModeShadow asks the backend for a pre-flight impact report. The
	// backend must not mutate infrastructure state for shadow calls.
	ModeShadow ExecutionMode = "SHADOW"
)

// ModeInfo describes one operational mode from the policy table.
type ModeInfo struct {
	// Description is the human-readable summary of the mode.
	Description string `json:"description"`

	// AllowedTools are the tool names permitted in this mode.
	AllowedTools []string `json:"allowed_tools"`

	// BlockedTools are the tool names rejected in this mode.
	BlockedTools []string `json:"blocked_tools"`
}

// GlobalRules are policy rules that apply in every mode.
type GlobalRules struct {
	// AlwaysBlocked lists tools that no mode may execute.
	AlwaysBlocked []string `json:"always_blocked"`
}

// GrantStatus reports the state of the temporary emergency grant.
type GrantStatus struct {
	// Active is true while a grant is in force server-side.
	Active bool `json:"active"`

	// ExpiryTime is the authoritative absolute expiry. Nil when inactive.
	ExpiryTime *time.Time `json:"expiry_time,omitempty"`

	// RemainingSeconds is the server's view of the time left. Clients
	// should re-derive remaining time from ExpiryTime rather than count
	// this value down locally.
	RemainingSeconds float64 `json:"remaining_seconds"`

	// BaseMode is the mode the system reverts to when the grant ends.
	BaseMode string `json:"base_mode,omitempty"`
}

// IncidentScope is the declared set of services affected by an incident.
type IncidentScope struct {
	// AffectedServices are the only services modification tools may touch
	// while the scope is in force.
	AffectedServices []string `json:"affected_services"`

	// IncidentType categorizes the incident (e.g. "outage").
	IncidentType string `json:"incident_type"`

	// Reason is the operator-supplied justification.
	Reason string `json:"reason"`

	// DeclaredAt is when the scope was declared.
	DeclaredAt time.Time `json:"declared_at"`
}

// PolicyStatus is the policy feed snapshot returned by GET /policy/status.
type PolicyStatus struct {
	CurrentMode  string              `json:"current_mode"`
	AllowedTools []string            `json:"allowed_tools"`
	BlockedTools []string            `json:"blocked_tools"`
	Modes        map[string]ModeInfo `json:"modes"`
	GlobalRules  GlobalRules         `json:"global_rules"`
	Grant        GrantStatus         `json:"grant"`

	// Scope is nil when no incident scope is declared.
	Scope *IncidentScope `json:"incident_scope,omitempty"`
}

// ActionRecord is one entry of the infrastructure action log.
type ActionRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
}

// InfrastructureStatus is the health feed returned by GET /infrastructure/status.
type InfrastructureStatus struct {
	// Services maps service name to health: healthy, degraded, or critical.
	Services map[string]string `json:"services"`

	FleetSize    int `json:"fleet_size"`
	MaxFleetSize int `json:"max_fleet_size"`

	// RecentActions are the newest entries of the action log, oldest first.
	RecentActions []ActionRecord `json:"recent_actions"`
}

// ParamSpec describes a single tool parameter.
type ParamSpec struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// Tool is one invocable operation from the catalog.
type Tool struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Category    string               `json:"category"`
	Parameters  map[string]ParamSpec `json:"parameters"`
}

// QuickAction is a pre-filled tool invocation the UI can offer as one click.
type QuickAction struct {
	Label     string         `json:"label"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolCatalog is the catalog feed returned by GET /tools/catalog.
type ToolCatalog struct {
	Tools        []Tool        `json:"tools"`
	QuickActions []QuickAction `json:"quick_actions"`
}

// ToolByName returns the catalog entry for name, or nil if unknown.
func (c *ToolCatalog) ToolByName(name string) *Tool {
	for i := range c.Tools {
		if c.Tools[i].Name == name {
			return &c.Tools[i]
		}
	}
	return nil
}

// ExecuteRequest is the body of POST /tools/execute.
type ExecuteRequest struct {
	ToolName      string         `json:"tool_name"`
	Arguments     map[string]any `json:"arguments"`
	ExecutionMode ExecutionMode  `json:"execution_mode"`
}

// ToolResult is the tri-state outcome of a tool execution. Exactly one of
// the three variants holds: Success with Result, PolicyViolation with
// BlockedReason, or Error. The variants are never combined.
type ToolResult struct {
	Success         bool            `json:"success"`
	Result          json.RawMessage `json:"result,omitempty"`
	PolicyViolation bool            `json:"policy_violation"`
	BlockedReason   string          `json:"blocked_reason,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// ChatStep is one entry of an agent message's reasoning trace.
type ChatStep struct {
	Thought     string `json:"thought,omitempty"`
	Action      string `json:"action,omitempty"`
	Observation string `json:"observation,omitempty"`
}

// ChatMessage is a single transcript entry. Messages are append-only and
// ordered by the server; clients must not reorder or deduplicate them.
type ChatMessage struct {
	ID        string     `json:"id"`
	Role      string     `json:"role"` // user, agent, or system
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	ToolUsed  string     `json:"tool_used,omitempty"`
	Blocked   bool       `json:"blocked,omitempty"`
	Steps     []ChatStep `json:"steps,omitempty"`
}

// ChatSnapshot is the full transcript state for one session.
type ChatSnapshot struct {
	SessionID    string        `json:"session_id"`
	Messages     []ChatMessage `json:"messages"`
	IsProcessing bool          `json:"is_processing"`
}

// SetModeResponse is returned by POST /policy/set-mode.
type SetModeResponse struct {
	Success      bool     `json:"success"`
	NewMode      string   `json:"new_mode"`
	AllowedTools []string `json:"allowed_tools"`
}

// GrantResponse is returned by the grant and extend endpoints.
type GrantResponse struct {
	Success    bool      `json:"success"`
	ExpiryTime time.Time `json:"expiry_time"`
	Mode       string    `json:"mode"`
}
