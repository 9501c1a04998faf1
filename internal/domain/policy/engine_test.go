package policy

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultDocument(), nil, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func mustValidate(t *testing.T, e *Engine, tool string, args map[string]any) *Violation {
	t.Helper()
	v, err := e.Validate(tool, args)
	if err != nil {
		t.Fatalf("Validate(%s): %v", tool, err)
	}
	return v
}

func TestEngineDefaultsToNormalMode(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	if got := e.CurrentMode(); got != "NORMAL" {
		t.Fatalf("CurrentMode = %q, want NORMAL", got)
	}
	if v := mustValidate(t, e, "list_services", nil); v != nil {
		t.Fatalf("list_services blocked in NORMAL: %v", v)
	}
}

func TestEngineBlocksModeRestrictedTool(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	v := mustValidate(t, e, "restart_service", map[string]any{"service_name": "web-server"})
	if v == nil {
		t.Fatal("restart_service allowed in NORMAL mode")
	}
	if !strings.Contains(v.Reason, "NORMAL") {
		t.Errorf("violation reason %q does not name the mode", v.Reason)
	}
	if v.Mode != "NORMAL" {
		t.Errorf("violation mode = %q, want NORMAL", v.Mode)
	}
}

func TestEngineGlobalBlockAppliesInEveryMode(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	for _, mode := range []string{"NORMAL", "EMERGENCY"} {
		if err := e.SetMode(mode); err != nil {
			t.Fatalf("SetMode(%s): %v", mode, err)
		}
		v := mustValidate(t, e, "delete_database", nil)
		if v == nil {
			t.Fatalf("delete_database allowed in %s mode", mode)
		}
		if !strings.Contains(v.Reason, "global") {
			t.Errorf("mode %s: reason %q does not mention global policy", mode, v.Reason)
		}
	}
}

func TestEngineRejectsUnknownMode(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	if err := e.SetMode("PANIC"); err == nil {
		t.Fatal("SetMode accepted unknown mode")
	}
	if got := e.CurrentMode(); got != "NORMAL" {
		t.Errorf("mode changed to %q after rejected switch", got)
	}
}

func TestEngineRejectsUnlistedTool(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	v := mustValidate(t, e, "format_disk", nil)
	if v == nil {
		t.Fatal("unlisted tool passed validation")
	}
	if !strings.Contains(v.Reason, "allowlist") {
		t.Errorf("reason %q does not mention the allowlist", v.Reason)
	}
}

func TestGrantElevatesAndExpiryReverts(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	expiry, err := e.GrantTemporary(80*time.Millisecond, "incident 42")
	if err != nil {
		t.Fatalf("GrantTemporary: %v", err)
	}
	if expiry.Before(time.Now()) {
		t.Error("expiry is in the past")
	}
	if got := e.CurrentMode(); got != "EMERGENCY" {
		t.Fatalf("mode after grant = %q, want EMERGENCY", got)
	}
	if v := mustValidate(t, e, "restart_service", map[string]any{"service_name": "web-server"}); v != nil {
		t.Fatalf("restart_service blocked under grant: %v", v)
	}

	waitForMode(t, e, "NORMAL", time.Second)

	st := e.GrantStatus()
	if st.Active {
		t.Error("grant still active after expiry")
	}
	if v := mustValidate(t, e, "restart_service", map[string]any{"service_name": "web-server"}); v == nil {
		t.Error("restart_service allowed after grant expired")
	}
}

func TestGrantExtendPushesExpiry(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	first, err := e.GrantTemporary(50*time.Millisecond, "short")
	if err != nil {
		t.Fatalf("GrantTemporary: %v", err)
	}
	second, err := e.ExtendTemporary(300 * time.Millisecond)
	if err != nil {
		t.Fatalf("ExtendTemporary: %v", err)
	}
	if !second.After(first) {
		t.Fatalf("extended expiry %v not after original %v", second, first)
	}

	// Past the original expiry but inside the extension.
	time.Sleep(120 * time.Millisecond)
	if got := e.CurrentMode(); got != "EMERGENCY" {
		t.Fatalf("mode = %q before extended expiry, want EMERGENCY", got)
	}
	waitForMode(t, e, "NORMAL", time.Second)
}

func TestGrantRevokeRevertsImmediately(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	if _, err := e.GrantTemporary(time.Minute, "oops"); err != nil {
		t.Fatalf("GrantTemporary: %v", err)
	}
	if err := e.RevokeTemporary(); err != nil {
		t.Fatalf("RevokeTemporary: %v", err)
	}
	if got := e.CurrentMode(); got != "NORMAL" {
		t.Fatalf("mode after revoke = %q, want NORMAL", got)
	}
	if err := e.RevokeTemporary(); !errors.Is(err, ErrNoGrant) {
		t.Fatalf("second revoke err = %v, want ErrNoGrant", err)
	}
}

func TestGrantReplacementKeepsOriginalBase(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	if _, err := e.GrantTemporary(time.Minute, "first"); err != nil {
		t.Fatalf("first grant: %v", err)
	}
	if _, err := e.GrantTemporary(time.Minute, "second"); err != nil {
		t.Fatalf("second grant: %v", err)
	}

	st := e.GrantStatus()
	if st.BaseMode != "NORMAL" {
		t.Fatalf("base mode = %q after replacement, want NORMAL", st.BaseMode)
	}
	if err := e.RevokeTemporary(); err != nil {
		t.Fatalf("RevokeTemporary: %v", err)
	}
	if got := e.CurrentMode(); got != "NORMAL" {
		t.Fatalf("mode after revoke = %q, want NORMAL", got)
	}
}

func TestGrantDurationBounds(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	if _, err := e.GrantTemporary(0, ""); !errors.Is(err, ErrGrantDuration) {
		t.Errorf("zero duration err = %v, want ErrGrantDuration", err)
	}
	if _, err := e.GrantTemporary(2*time.Hour, ""); !errors.Is(err, ErrGrantDuration) {
		t.Errorf("over-limit duration err = %v, want ErrGrantDuration", err)
	}
	if _, err := e.ExtendTemporary(time.Minute); !errors.Is(err, ErrNoGrant) {
		t.Errorf("extend without grant err = %v, want ErrNoGrant", err)
	}
}

func TestExplicitModeChangeCancelsGrant(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	if _, err := e.GrantTemporary(time.Minute, "incident"); err != nil {
		t.Fatalf("GrantTemporary: %v", err)
	}
	if err := e.SetMode("NORMAL"); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if st := e.GrantStatus(); st.Active {
		t.Error("grant survived an explicit mode change")
	}
}

func TestScopeRestrictsModificationTargets(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	if err := e.SetMode("EMERGENCY"); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	e.SetUnhealthy([]string{"web-server"})
	if err := e.SetScope([]string{"web-server"}, "outage", "web tier down"); err != nil {
		t.Fatalf("SetScope: %v", err)
	}

	// In-scope and unhealthy: allowed.
	if v := mustValidate(t, e, "restart_service", map[string]any{"service_name": "web-server"}); v != nil {
		t.Errorf("in-scope unhealthy target blocked: %v", v)
	}
	// Out of scope: blocked.
	if v := mustValidate(t, e, "restart_service", map[string]any{"service_name": "database"}); v == nil {
		t.Error("out-of-scope target allowed")
	}
	// In scope but healthy: blocked.
	if err := e.SetScope([]string{"web-server", "api-gateway"}, "outage", "x"); err != nil {
		t.Fatalf("SetScope: %v", err)
	}
	if v := mustValidate(t, e, "restart_service", map[string]any{"service_name": "api-gateway"}); v == nil {
		t.Error("healthy in-scope target allowed")
	}
	// No service target: scope does not apply.
	if v := mustValidate(t, e, "scale_fleet", map[string]any{"count": 5}); v != nil {
		t.Errorf("fleet-wide tool blocked by scope: %v", v)
	}
}

func TestScopeClearRemovesRestriction(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	if err := e.SetMode("EMERGENCY"); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if err := e.SetScope([]string{"cache"}, "latency", "x"); err != nil {
		t.Fatalf("SetScope: %v", err)
	}
	if v := mustValidate(t, e, "restart_service", map[string]any{"service_name": "web-server"}); v == nil {
		t.Fatal("out-of-scope target allowed while scope declared")
	}

	e.ClearScope()
	if v := mustValidate(t, e, "restart_service", map[string]any{"service_name": "web-server"}); v != nil {
		t.Errorf("target still blocked after scope cleared: %v", v)
	}
	if e.Scope() != nil {
		t.Error("Scope() non-nil after clear")
	}
}

func TestScopeRequiresServices(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	if err := e.SetScope(nil, "outage", "x"); err == nil {
		t.Fatal("empty scope accepted")
	}
}

func TestGuardBlocksOutOfRangeArguments(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	if err := e.SetMode("EMERGENCY"); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	v := mustValidate(t, e, "scale_fleet", map[string]any{"count": 150})
	if v == nil {
		t.Fatal("scale_fleet count=150 passed the guard")
	}
	if !strings.Contains(v.Reason, "between 1 and 100") {
		t.Errorf("guard reason = %q", v.Reason)
	}
	if v := mustValidate(t, e, "scale_fleet", map[string]any{"count": 50}); v != nil {
		t.Errorf("scale_fleet count=50 blocked: %v", v)
	}
}

func TestDecisionCacheInvalidatesOnStateChange(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	args := map[string]any{"service_name": "web-server"}
	if v := mustValidate(t, e, "restart_service", args); v == nil {
		t.Fatal("restart_service allowed in NORMAL")
	}
	if v := mustValidate(t, e, "restart_service", args); v == nil {
		t.Fatal("cached decision flipped")
	}
	hits, _ := e.CacheStats()
	if hits == 0 {
		t.Error("repeated identical validation never hit the cache")
	}

	if err := e.SetMode("EMERGENCY"); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if v := mustValidate(t, e, "restart_service", args); v != nil {
		t.Errorf("stale cached violation served after mode change: %v", v)
	}
}

func TestDocumentValidation(t *testing.T) {
	t.Parallel()

	doc := DefaultDocument()
	if err := doc.Validate(); err != nil {
		t.Fatalf("default document invalid: %v", err)
	}

	overlap := DefaultDocument()
	m := overlap.Modes["NORMAL"]
	m.BlockedTools = append(m.BlockedTools, "list_services")
	overlap.Modes["NORMAL"] = m
	if err := overlap.Validate(); err == nil {
		t.Error("overlapping allowed/blocked sets accepted")
	}

	missing := DefaultDocument()
	missing.DefaultMode = "CALM"
	if err := missing.Validate(); err == nil {
		t.Error("unknown default_mode accepted")
	}

	leak := DefaultDocument()
	m = leak.Modes["EMERGENCY"]
	m.BlockedTools = nil
	leak.Modes["EMERGENCY"] = m
	if err := leak.Validate(); err == nil {
		t.Error("globally blocked tool missing from a mode's blocked set accepted")
	}
}

func TestDocumentCheckCatalog(t *testing.T) {
	t.Parallel()

	doc := DefaultDocument()
	catalog := []string{
		"list_services", "get_service_status", "read_logs",
		"restart_service", "scale_fleet", "delete_database",
	}
	if err := doc.CheckCatalog(catalog); err != nil {
		t.Fatalf("CheckCatalog: %v", err)
	}
	if err := doc.CheckCatalog(append(catalog, "reboot_planet")); err == nil {
		t.Error("catalog tool outside the partition accepted")
	}
}

func waitForMode(t *testing.T, e *Engine, want string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if e.CurrentMode() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("mode never became %q (now %q)", want, e.CurrentMode())
}
