// Package policy implements the mode-based engine that gates every tool
// execution: the mode table with its allowed/blocked partitions, globally
// blocked tools, the time-bounded temporary grant, the incident scope, and
// optional CEL guards over tool arguments.
package policy

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode is one operational mode from the policy table.
type Mode struct {
	// Description is a human-readable summary shown in status views.
	Description string `yaml:"description"`
	// AllowedTools are permitted in this mode.
	AllowedTools []string `yaml:"allowed_tools"`
	// BlockedTools are rejected in this mode.
	BlockedTools []string `yaml:"blocked_tools"`
	// Rationale is appended to violation reasons for blocked tools.
	Rationale string `yaml:"rationale"`
	// ServiceRestrictions enables the incident-scope check: modification
	// tools may only target unhealthy services inside the declared scope.
	ServiceRestrictions bool `yaml:"service_restrictions"`
}

// GlobalRules apply in every mode, before any mode rule is consulted.
type GlobalRules struct {
	// AlwaysBlocked lists tools no mode may execute.
	AlwaysBlocked []string `yaml:"always_blocked"`
}

// Guard is an optional CEL predicate over a tool's arguments. When the
// expression evaluates to false the call is blocked with Message.
type Guard struct {
	Tool       string `yaml:"tool"`
	Expression string `yaml:"expression"`
	Message    string `yaml:"message"`
}

// Document is the full policy configuration.
type Document struct {
	PolicyName  string          `yaml:"policy_name"`
	Version     string          `yaml:"version"`
	DefaultMode string          `yaml:"default_mode"`
	Modes       map[string]Mode `yaml:"modes"`
	GlobalRules GlobalRules     `yaml:"global_rules"`
	Guards      []Guard         `yaml:"guards"`

	// ModificationTools mutate infrastructure state and are therefore
	// subject to the incident-scope check in restricted modes.
	ModificationTools []string `yaml:"modification_tools"`
}

// LoadDocument reads and validates a policy document from a YAML file.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the document's structural invariants: the default mode
// exists, each mode's allowed and blocked sets are disjoint, and every
// globally blocked tool appears in each mode's blocked set.
func (d *Document) Validate() error {
	if len(d.Modes) == 0 {
		return fmt.Errorf("policy defines no modes")
	}
	if d.DefaultMode == "" {
		return fmt.Errorf("policy has no default_mode")
	}
	if _, ok := d.Modes[d.DefaultMode]; !ok {
		return fmt.Errorf("default_mode %q is not a defined mode", d.DefaultMode)
	}

	for name, mode := range d.Modes {
		allowed := toSet(mode.AllowedTools)
		blocked := toSet(mode.BlockedTools)

		for tool := range allowed {
			if _, both := blocked[tool]; both {
				return fmt.Errorf("mode %s: tool %q is both allowed and blocked", name, tool)
			}
		}
		for _, tool := range d.GlobalRules.AlwaysBlocked {
			if _, ok := blocked[tool]; !ok {
				return fmt.Errorf("mode %s: globally blocked tool %q missing from blocked_tools", name, tool)
			}
		}
	}
	return nil
}

// CheckCatalog verifies that each mode's allowed and blocked sets together
// cover exactly the given catalog names, so a catalog tool can never fall
// through the partition.
func (d *Document) CheckCatalog(catalogNames []string) error {
	want := toSet(catalogNames)
	for name, mode := range d.Modes {
		got := toSet(append(append([]string{}, mode.AllowedTools...), mode.BlockedTools...))
		if len(got) != len(want) {
			return fmt.Errorf("mode %s: allowed+blocked covers %d tools, catalog has %d", name, len(got), len(want))
		}
		for tool := range want {
			if _, ok := got[tool]; !ok {
				return fmt.Errorf("mode %s: catalog tool %q is neither allowed nor blocked", name, tool)
			}
		}
	}
	return nil
}

// ModeNames returns the defined mode names, sorted.
func (d *Document) ModeNames() []string {
	names := make([]string, 0, len(d.Modes))
	for name := range d.Modes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

// Scope is a declared incident scope. Exactly one scope is in force at a
// time or none; it is never partially set.
type Scope struct {
	AffectedServices []string
	IncidentType     string
	Reason           string
	DeclaredAt       time.Time
}

// Covers reports whether the scope includes the given service.
func (s *Scope) Covers(service string) bool {
	for _, svc := range s.AffectedServices {
		if svc == service {
			return true
		}
	}
	return false
}

// Violation is the structured reason a tool call was declined. It is a
// policy outcome, not an execution failure, and callers are expected to
// surface it as such.
type Violation struct {
	// Tool is the tool that was declined.
	Tool string
	// Mode is the mode that was active at evaluation time.
	Mode string
	// Reason is the user-facing explanation.
	Reason string
}

// Error returns the user-facing violation text.
func (v *Violation) Error() string {
	return v.Reason
}

// DefaultDocument returns the built-in policy shipped with the reference
// backend: NORMAL is read-only, EMERGENCY adds corrective tools, and
// delete_database is blocked everywhere.
func DefaultDocument() *Document {
	return &Document{
		PolicyName:  "ops-guardrails",
		Version:     "2.0",
		DefaultMode: "NORMAL",
		Modes: map[string]Mode{
			"NORMAL": {
				Description:  "Read-only monitoring; no corrective actions",
				AllowedTools: []string{"list_services", "get_service_status", "read_logs"},
				BlockedTools: []string{"restart_service", "scale_fleet", "delete_database"},
				Rationale:    "corrective actions require EMERGENCY mode",
			},
			"EMERGENCY": {
				Description:         "Incident response; corrective actions permitted",
				AllowedTools:        []string{"list_services", "get_service_status", "read_logs", "restart_service", "scale_fleet"},
				BlockedTools:        []string{"delete_database"},
				Rationale:           "destructive operations stay blocked",
				ServiceRestrictions: true,
			},
		},
		GlobalRules: GlobalRules{
			AlwaysBlocked: []string{"delete_database"},
		},
		ModificationTools: []string{"restart_service", "scale_fleet", "delete_database"},
		Guards: []Guard{
			{
				Tool:       "scale_fleet",
				Expression: `!("count" in args) || (int(args["count"]) >= 1 && int(args["count"]) <= 100)`,
				Message:    "fleet size must stay between 1 and 100 instances",
			},
		},
	}
}
