// Package infra simulates the managed estate: a fixed set of services with
// health states, an instance fleet with hard bounds, and the tool handlers
// that read and mutate them. Every mutation is recorded to the action log
// and health changes are pushed to the policy engine.
package infra

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Health states a service can be in.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthCritical = "critical"
)

// Fleet bounds. The policy guard enforces the same range; infra enforces it
// again so the invariant holds even for calls that bypass policy.
const (
	MinFleetSize     = 1
	MaxFleetSize     = 100
	DefaultFleetSize = 3
)

// DefaultServices are the simulated services and their initial health.
var DefaultServices = map[string]string{
	"web-server":    HealthHealthy,
	"api-gateway":   HealthHealthy,
	"database":      HealthHealthy,
	"cache":         HealthHealthy,
	"load-balancer": HealthHealthy,
}

// ActionEntry is one recorded infrastructure action.
type ActionEntry struct {
	Timestamp time.Time
	Action    string
	Details   map[string]any
}

// ActionLog persists the action history backing recent_actions.
type ActionLog interface {
	Record(ctx context.Context, entry ActionEntry) error
	Recent(ctx context.Context, limit int) ([]ActionEntry, error)
}

// Service is one simulated service.
type Service struct {
	Name         string
	Health       string
	RestartCount int
	LastRestart  time.Time
}

// Cloud is the simulated estate. All state lives behind one mutex; the
// health-change callback is invoked outside it.
type Cloud struct {
	logger *slog.Logger
	log    ActionLog
	clock  func() time.Time

	// onHealthChange receives the full unhealthy-service list after any
	// health transition.
	onHealthChange func([]string)

	mu        sync.Mutex
	services  map[string]*Service
	fleetSize int
}

// CloudOption configures optional cloud behavior.
type CloudOption func(*Cloud)

// WithActionLog sets the persistent action log.
func WithActionLog(log ActionLog) CloudOption {
	return func(c *Cloud) { c.log = log }
}

// WithHealthListener registers the callback fired after health changes.
func WithHealthListener(fn func(unhealthy []string)) CloudOption {
	return func(c *Cloud) { c.onHealthChange = fn }
}

// WithCloudClock overrides the time source.
func WithCloudClock(clock func() time.Time) CloudOption {
	return func(c *Cloud) { c.clock = clock }
}

// NewCloud builds the estate with the default services, all healthy, and
// the default fleet size.
func NewCloud(logger *slog.Logger, opts ...CloudOption) *Cloud {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cloud{
		logger:    logger.With("component", "infra"),
		clock:     time.Now,
		services:  make(map[string]*Service, len(DefaultServices)),
		fleetSize: DefaultFleetSize,
	}
	for name, health := range DefaultServices {
		c.services[name] = &Service{Name: name, Health: health}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status is a consistent snapshot of the estate.
type Status struct {
	Services  map[string]string
	FleetSize int
	MaxFleet  int
}

// Status returns service health and fleet size under one lock acquisition.
func (c *Cloud) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	services := make(map[string]string, len(c.services))
	for name, svc := range c.services {
		services[name] = svc.Health
	}
	return Status{Services: services, FleetSize: c.fleetSize, MaxFleet: MaxFleetSize}
}

// RecentActions returns the newest log entries, oldest first. Without a
// configured log it returns nil.
func (c *Cloud) RecentActions(ctx context.Context, limit int) ([]ActionEntry, error) {
	if c.log == nil {
		return nil, nil
	}
	return c.log.Recent(ctx, limit)
}

// ListServices returns every service, sorted by name.
func (c *Cloud) ListServices() []Service {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Service, 0, len(c.services))
	for _, svc := range c.services {
		out = append(out, *svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ServiceStatus returns one service's state.
func (c *Cloud) ServiceStatus(name string) (Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	svc, ok := c.services[name]
	if !ok {
		return Service{}, fmt.Errorf("unknown service %q", name)
	}
	return *svc, nil
}

// ReadLogs synthesizes recent log lines for a service. Line count is
// clamped to [1, 200].
func (c *Cloud) ReadLogs(name string, lines int) ([]string, error) {
	c.mu.Lock()
	svc, ok := c.services[name]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("unknown service %q", name)
	}
	health := svc.Health
	c.mu.Unlock()

	if lines < 1 {
		lines = 10
	}
	if lines > 200 {
		lines = 200
	}

	now := c.clock().UTC()
	out := make([]string, 0, lines)
	for i := lines - 1; i >= 0; i-- {
		ts := now.Add(-time.Duration(i) * time.Second).Format(time.RFC3339)
		switch health {
		case HealthCritical:
			out = append(out, fmt.Sprintf("%s ERROR %s: connection pool exhausted, requests failing", ts, name))
		case HealthDegraded:
			out = append(out, fmt.Sprintf("%s WARN %s: elevated latency, p99 above threshold", ts, name))
		default:
			out = append(out, fmt.Sprintf("%s INFO %s: request served", ts, name))
		}
	}
	return out, nil
}

// RestartService restarts a service, returning it to healthy.
func (c *Cloud) RestartService(ctx context.Context, name string) (Service, error) {
	c.mu.Lock()
	svc, ok := c.services[name]
	if !ok {
		c.mu.Unlock()
		return Service{}, fmt.Errorf("unknown service %q", name)
	}
	previous := svc.Health
	svc.Health = HealthHealthy
	svc.RestartCount++
	svc.LastRestart = c.clock().UTC()
	result := *svc
	unhealthy := c.unhealthyLocked()
	c.mu.Unlock()

	c.logger.Info("service restarted", "service", name, "previous_health", previous)
	c.record(ctx, "restart_service", map[string]any{
		"service":         name,
		"previous_health": previous,
	})
	c.notifyHealth(unhealthy)
	return result, nil
}

// ScaleFleet sets the instance count, enforcing the fleet bounds.
func (c *Cloud) ScaleFleet(ctx context.Context, count int) (previous, current int, err error) {
	if count < MinFleetSize || count > MaxFleetSize {
		return 0, 0, fmt.Errorf("fleet size %d out of range [%d, %d]", count, MinFleetSize, MaxFleetSize)
	}

	c.mu.Lock()
	previous = c.fleetSize
	c.fleetSize = count
	c.mu.Unlock()

	c.logger.Info("fleet scaled", "from", previous, "to", count)
	c.record(ctx, "scale_fleet", map[string]any{"from": previous, "to": count})
	return previous, count, nil
}

// SimulateIncident degrades the named services (or a built-in default set
// per incident type when none are given) and pushes the new health to the
// policy engine. Returns the services affected.
func (c *Cloud) SimulateIncident(ctx context.Context, incidentType string, services []string) ([]string, error) {
	if len(services) == 0 {
		services = defaultIncidentTargets(incidentType)
	}

	c.mu.Lock()
	affected := make([]string, 0, len(services))
	for _, name := range services {
		svc, ok := c.services[name]
		if !ok {
			c.mu.Unlock()
			return nil, fmt.Errorf("unknown service %q", name)
		}
		svc.Health = incidentHealth(incidentType)
		affected = append(affected, name)
	}
	unhealthy := c.unhealthyLocked()
	c.mu.Unlock()

	c.logger.Warn("incident simulated", "incident_type", incidentType, "services", affected)
	c.record(ctx, "simulate_incident", map[string]any{
		"incident_type": incidentType,
		"services":      affected,
	})
	c.notifyHealth(unhealthy)
	return affected, nil
}

// SetHealth forces one service to a health state. This is the simulation
// hook behind the simulate-incident endpoint.
func (c *Cloud) SetHealth(ctx context.Context, name, health string) error {
	switch health {
	case HealthHealthy, HealthDegraded, HealthCritical:
	default:
		return fmt.Errorf("unknown health state %q", health)
	}

	c.mu.Lock()
	svc, ok := c.services[name]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown service %q", name)
	}
	previous := svc.Health
	svc.Health = health
	unhealthy := c.unhealthyLocked()
	c.mu.Unlock()

	c.logger.Warn("service health forced", "service", name, "from", previous, "to", health)
	c.record(ctx, "simulate_incident", map[string]any{
		"service": name,
		"from":    previous,
		"to":      health,
	})
	c.notifyHealth(unhealthy)
	return nil
}

// Unhealthy returns the services currently below healthy.
func (c *Cloud) Unhealthy() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unhealthyLocked()
}

func (c *Cloud) unhealthyLocked() []string {
	var out []string
	for name, svc := range c.services {
		if svc.Health != HealthHealthy {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (c *Cloud) notifyHealth(unhealthy []string) {
	if c.onHealthChange != nil {
		c.onHealthChange(unhealthy)
	}
}

func (c *Cloud) record(ctx context.Context, action string, details map[string]any) {
	if c.log == nil {
		return
	}
	entry := ActionEntry{Timestamp: c.clock().UTC(), Action: action, Details: details}
	if err := c.log.Record(ctx, entry); err != nil {
		c.logger.Warn("action log write failed", "action", action, "error", err)
	}
}

func incidentHealth(incidentType string) string {
	switch incidentType {
	case "latency", "degradation":
		return HealthDegraded
	default:
		return HealthCritical
	}
}

func defaultIncidentTargets(incidentType string) []string {
	switch incidentType {
	case "database_outage":
		return []string{"database", "api-gateway"}
	case "cache_failure":
		return []string{"cache", "web-server"}
	default:
		return []string{"web-server"}
	}
}
