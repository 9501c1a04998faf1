// Package tool defines the operations catalog and the executor that binds
// catalog names to the simulated infrastructure.
package tool

import "fmt"

// Categories group tools by what they can do to the estate.
const (
	CategoryRead        = "read"
	CategoryModify      = "modify"
	CategoryDestructive = "destructive"
)

// Param describes one tool parameter.
type Param struct {
	// Type is the JSON type name: string, integer, boolean.
	Type string
	// Description is shown in catalog listings.
	Description string
	// Required marks parameters the caller must supply.
	Required bool
	// Default is the value applied when an optional parameter is absent.
	Default any
}

// Definition is one catalog entry.
type Definition struct {
	Name        string
	Description string
	Category    string
	Params      map[string]Param
}

// QuickAction is a pre-filled invocation offered to the UI.
type QuickAction struct {
	Label string
	Tool  string
	Args  map[string]any
}

// ValidationError reports arguments rejected against a definition's schema.
type ValidationError struct {
	Tool    string
	Missing []string
}

// Error returns a human-readable description of the missing arguments.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %q missing required arguments: %v", e.Tool, e.Missing)
}

// ErrUnknownTool reports a name absent from the catalog.
type ErrUnknownTool struct {
	Name string
}

// Error names the unknown tool.
func (e *ErrUnknownTool) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}
