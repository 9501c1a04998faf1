package policy

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Engine holds the authoritative policy state: the active mode, the
// temporary grant, the incident scope, and the compiled guards. All reads
// and writes go through the engine's mutex; every state change bumps a
// generation counter that invalidates the decision cache.
type Engine struct {
	logger *slog.Logger
	doc    *Document
	guards map[string][]guardProgram
	cache  *decisionCache

	modTools      map[string]struct{}
	alwaysBlocked map[string]struct{}

	clock func() time.Time

	mu         sync.Mutex
	generation uint64
	mode       string
	scope      *Scope
	unhealthy  map[string]struct{}

	grantActive bool
	grantExpiry time.Time
	grantBase   string
	grantReason string
	grantSeq    uint64
	grantTimer  *time.Timer
}

// EngineOption configures optional engine behavior.
type EngineOption func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine validates the document, compiles its guards, and starts in the
// default mode with no grant and no scope.
func NewEngine(doc *Document, logger *slog.Logger, opts ...EngineOption) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	guards, err := compileGuards(doc.Guards)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		logger:        logger.With("component", "policy_engine"),
		doc:           doc,
		guards:        guards,
		cache:         newDecisionCache(),
		modTools:      toSet(doc.ModificationTools),
		alwaysBlocked: toSet(doc.GlobalRules.AlwaysBlocked),
		clock:         time.Now,
		mode:          doc.DefaultMode,
		unhealthy:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// CurrentMode returns the active mode name.
func (e *Engine) CurrentMode() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetMode switches the active mode. An explicit mode change supersedes any
// running grant: the grant is cancelled rather than left to expire into a
// mode the operator just abandoned.
func (e *Engine) SetMode(mode string) error {
	if _, ok := e.doc.Modes[mode]; !ok {
		return fmt.Errorf("unknown mode %q (valid: %v)", mode, e.doc.ModeNames())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.grantActive {
		e.clearGrantLocked()
	}
	e.mode = mode
	e.generation++
	e.logger.Info("mode changed", "mode", mode)
	return nil
}

// SetUnhealthy replaces the engine's view of unhealthy services. The
// infrastructure layer pushes this after every health change so the
// incident-scope check sees current health.
func (e *Engine) SetUnhealthy(services []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unhealthy = toSet(services)
	e.generation++
}

// SetScope declares the incident scope, replacing any previous one.
func (e *Engine) SetScope(services []string, incidentType, reason string) error {
	if len(services) == 0 {
		return fmt.Errorf("incident scope requires at least one service")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.scope = &Scope{
		AffectedServices: append([]string{}, services...),
		IncidentType:     incidentType,
		Reason:           reason,
		DeclaredAt:       e.clock().UTC(),
	}
	e.generation++
	e.logger.Info("incident scope declared", "services", services, "incident_type", incidentType)
	return nil
}

// ClearScope removes the declared scope. Clearing an absent scope is a
// no-op.
func (e *Engine) ClearScope() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scope == nil {
		return
	}
	e.scope = nil
	e.generation++
	e.logger.Info("incident scope cleared")
}

// Scope returns a copy of the declared scope, or nil.
func (e *Engine) Scope() *Scope {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scope == nil {
		return nil
	}
	cp := *e.scope
	cp.AffectedServices = append([]string{}, e.scope.AffectedServices...)
	return &cp
}

// Status is a point-in-time snapshot of the engine for status endpoints.
type Status struct {
	CurrentMode  string
	AllowedTools []string
	BlockedTools []string
	Modes        map[string]Mode
	GlobalRules  GlobalRules
	Grant        GrantStatus
	Scope        *Scope
}

// Snapshot returns the full engine state under one lock acquisition so the
// mode, grant, and scope in the result are mutually consistent.
func (e *Engine) Snapshot() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	mode := e.doc.Modes[e.mode]
	st := Status{
		CurrentMode:  e.mode,
		AllowedTools: append([]string{}, mode.AllowedTools...),
		BlockedTools: append([]string{}, mode.BlockedTools...),
		Modes:        e.doc.Modes,
		GlobalRules:  e.doc.GlobalRules,
		Grant:        e.grantStatusLocked(),
	}
	sort.Strings(st.AllowedTools)
	sort.Strings(st.BlockedTools)
	if e.scope != nil {
		cp := *e.scope
		cp.AffectedServices = append([]string{}, e.scope.AffectedServices...)
		st.Scope = &cp
	}
	return st
}

// ToolAllowed reports whether a tool would pass the mode partition right
// now, ignoring scope and guards. Used to annotate catalog listings.
func (e *Engine) ToolAllowed(tool string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.alwaysBlocked[tool]; ok {
		return false
	}
	mode := e.doc.Modes[e.mode]
	for _, t := range mode.AllowedTools {
		if t == tool {
			return true
		}
	}
	return false
}

// Validate evaluates one tool call against the full rule chain, in order:
// global rules, the mode's blocked list, the mode's allowlist, the incident
// scope, then the CEL guards. A non-nil *Violation means the call is
// declined; a non-nil error means evaluation itself failed.
func (e *Engine) Validate(tool string, args map[string]any) (*Violation, error) {
	e.mu.Lock()
	generation := e.generation
	mode := e.mode
	scope := e.scope
	unhealthy := e.unhealthy
	e.mu.Unlock()

	key, cacheable := e.cache.key(generation, mode, tool, args)
	if cacheable {
		if v, ok := e.cache.get(key); ok {
			return v, nil
		}
	}

	v, err := e.validate(mode, scope, unhealthy, tool, args)
	if err != nil {
		return nil, err
	}
	if cacheable {
		e.cache.put(key, v)
	}
	return v, nil
}

func (e *Engine) validate(modeName string, scope *Scope, unhealthy map[string]struct{}, tool string, args map[string]any) (*Violation, error) {
	if _, ok := e.alwaysBlocked[tool]; ok {
		return &Violation{
			Tool:   tool,
			Mode:   modeName,
			Reason: fmt.Sprintf("'%s' is blocked by global policy: this operation is never permitted", tool),
		}, nil
	}

	mode := e.doc.Modes[modeName]
	for _, t := range mode.BlockedTools {
		if t == tool {
			return &Violation{
				Tool:   tool,
				Mode:   modeName,
				Reason: fmt.Sprintf("'%s' is blocked in %s mode: %s", tool, modeName, mode.Rationale),
			}, nil
		}
	}

	inAllowlist := false
	for _, t := range mode.AllowedTools {
		if t == tool {
			inAllowlist = true
			break
		}
	}
	if !inAllowlist {
		return &Violation{
			Tool:   tool,
			Mode:   modeName,
			Reason: fmt.Sprintf("'%s' is not in the %s mode allowlist", tool, modeName),
		}, nil
	}

	if v := e.checkScope(mode, modeName, scope, unhealthy, tool, args); v != nil {
		return v, nil
	}

	for _, g := range e.guards[tool] {
		ok, err := g.eval(tool, modeName, args)
		if err != nil {
			// Fail closed: a guard that cannot be evaluated blocks the call.
			return &Violation{
				Tool:   tool,
				Mode:   modeName,
				Reason: fmt.Sprintf("'%s' blocked: guard evaluation failed: %v", tool, err),
			}, nil
		}
		if !ok {
			return &Violation{Tool: tool, Mode: modeName, Reason: g.message}, nil
		}
	}
	return nil, nil
}

// checkScope enforces the incident scope: in a restricted mode with a
// declared scope, a modification tool that names a target service may only
// touch services that are both inside the scope and unhealthy.
func (e *Engine) checkScope(mode Mode, modeName string, scope *Scope, unhealthy map[string]struct{}, tool string, args map[string]any) *Violation {
	if scope == nil || !mode.ServiceRestrictions {
		return nil
	}
	if _, isMod := e.modTools[tool]; !isMod {
		return nil
	}

	target := serviceArg(args)
	if target == "" {
		// Fleet-wide operations carry no service target and pass through.
		return nil
	}
	if !scope.Covers(target) {
		return &Violation{
			Tool:   tool,
			Mode:   modeName,
			Reason: fmt.Sprintf("'%s' on %q is outside the declared incident scope (affected: %v)", tool, target, scope.AffectedServices),
		}
	}
	if _, bad := unhealthy[target]; !bad {
		return &Violation{
			Tool:   tool,
			Mode:   modeName,
			Reason: fmt.Sprintf("'%s' on %q blocked: service is healthy and inside an active incident scope", tool, target),
		}
	}
	return nil
}

func serviceArg(args map[string]any) string {
	for _, key := range []string{"service_name", "service"} {
		if v, ok := args[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// CacheStats returns the decision cache's cumulative hit and miss counts.
func (e *Engine) CacheStats() (hits, misses uint64) {
	return e.cache.Stats()
}
