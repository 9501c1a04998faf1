package tool

import "sort"

// Catalog is the fixed operations catalog. Definitions never change at
// runtime; per-mode availability is the policy engine's concern.
type Catalog struct {
	defs    map[string]Definition
	ordered []Definition
	quick   []QuickAction
}

// NewCatalog builds the built-in catalog.
func NewCatalog() *Catalog {
	defs := []Definition{
		{
			Name:        "list_services",
			Description: "List every managed service and its current health",
			Category:    CategoryRead,
			Params:      map[string]Param{},
		},
		{
			Name:        "get_service_status",
			Description: "Detailed status for one service",
			Category:    CategoryRead,
			Params: map[string]Param{
				"service_name": {Type: "string", Description: "Service to inspect", Required: true},
			},
		},
		{
			Name:        "read_logs",
			Description: "Recent log lines for one service",
			Category:    CategoryRead,
			Params: map[string]Param{
				"service_name": {Type: "string", Description: "Service to read logs from", Required: true},
				"lines":        {Type: "integer", Description: "Number of lines", Default: 20},
			},
		},
		{
			Name:        "restart_service",
			Description: "Restart a service, returning it to healthy",
			Category:    CategoryModify,
			Params: map[string]Param{
				"service_name": {Type: "string", Description: "Service to restart", Required: true},
			},
		},
		{
			Name:        "scale_fleet",
			Description: "Set the instance fleet size",
			Category:    CategoryModify,
			Params: map[string]Param{
				"count": {Type: "integer", Description: "Target instance count", Required: true},
			},
		},
		{
			Name:        "delete_database",
			Description: "Drop the primary database (never permitted)",
			Category:    CategoryDestructive,
			Params: map[string]Param{
				"db_name": {Type: "string", Description: "Name of the database", Required: true},
			},
		},
	}

	byName := make(map[string]Definition, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
	}
	return &Catalog{
		defs:    byName,
		ordered: defs,
		quick: []QuickAction{
			{Label: "Check all services", Tool: "list_services"},
			{Label: "Web server logs", Tool: "read_logs", Args: map[string]any{"service_name": "web-server", "lines": 20}},
			{Label: "Restart web server", Tool: "restart_service", Args: map[string]any{"service_name": "web-server"}},
			{Label: "Scale fleet to 5", Tool: "scale_fleet", Args: map[string]any{"count": 5}},
		},
	}
}

// Definitions returns every entry in catalog order.
func (c *Catalog) Definitions() []Definition {
	return c.ordered
}

// QuickActions returns the pre-filled invocations.
func (c *Catalog) QuickActions() []QuickAction {
	return c.quick
}

// Names returns the catalog's tool names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.defs))
	for name := range c.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the definition for name.
func (c *Catalog) Lookup(name string) (Definition, bool) {
	d, ok := c.defs[name]
	return d, ok
}

// ValidateArgs checks a call against the definition: the tool must exist
// and every required parameter must be present and non-nil. Returns the
// arguments with defaults applied.
func (c *Catalog) ValidateArgs(name string, args map[string]any) (map[string]any, error) {
	def, ok := c.defs[name]
	if !ok {
		return nil, &ErrUnknownTool{Name: name}
	}

	out := make(map[string]any, len(args)+len(def.Params))
	for k, v := range args {
		out[k] = v
	}

	var missing []string
	for pname, p := range def.Params {
		v, present := out[pname]
		if !present || v == nil {
			if p.Required {
				missing = append(missing, pname)
				continue
			}
			if p.Default != nil {
				out[pname] = p.Default
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &ValidationError{Tool: name, Missing: missing}
	}
	return out, nil
}
