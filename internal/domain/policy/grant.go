package policy

import (
	"errors"
	"fmt"
	"time"
)

// Grant lifecycle errors.
var (
	// ErrNoGrant is returned when extending or revoking without an active grant.
	ErrNoGrant = errors.New("no active temporary grant")
	// ErrGrantDuration is returned for non-positive or over-limit durations.
	ErrGrantDuration = errors.New("grant duration out of range")
)

// MaxGrantDuration bounds a single grant or extension.
const MaxGrantDuration = time.Hour

// GrantStatus is the externally visible grant state.
type GrantStatus struct {
	Active    bool
	Expiry    time.Time
	Remaining time.Duration
	BaseMode  string
	Reason    string
}

// GrantedMode is the mode a temporary grant elevates into.
const GrantedMode = "EMERGENCY"

// GrantTemporary elevates to EMERGENCY until the absolute expiry, then
// reverts to the mode that was active before the grant. Granting while a
// grant is already running replaces it but keeps the original base mode, so
// expiry always returns to where the operator started.
func (e *Engine) GrantTemporary(d time.Duration, reason string) (time.Time, error) {
	if d <= 0 || d > MaxGrantDuration {
		return time.Time{}, fmt.Errorf("%w: %s", ErrGrantDuration, d)
	}
	if _, ok := e.doc.Modes[GrantedMode]; !ok {
		return time.Time{}, fmt.Errorf("policy defines no %s mode to grant into", GrantedMode)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	base := e.mode
	if e.grantActive {
		base = e.grantBase
		e.grantTimer.Stop()
	}

	expiry := e.clock().Add(d).UTC()
	e.grantActive = true
	e.grantExpiry = expiry
	e.grantBase = base
	e.grantReason = reason
	e.grantSeq++
	e.mode = GrantedMode
	e.generation++

	seq := e.grantSeq
	e.grantTimer = time.AfterFunc(d, func() { e.expireGrant(seq) })

	e.logger.Info("temporary grant active",
		"duration", d,
		"expiry", expiry,
		"base_mode", base,
		"reason", reason,
	)
	return expiry, nil
}

// ExtendTemporary pushes the expiry of the running grant forward.
func (e *Engine) ExtendTemporary(additional time.Duration) (time.Time, error) {
	if additional <= 0 || additional > MaxGrantDuration {
		return time.Time{}, fmt.Errorf("%w: %s", ErrGrantDuration, additional)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.grantActive {
		return time.Time{}, ErrNoGrant
	}

	e.grantExpiry = e.grantExpiry.Add(additional)
	e.grantSeq++
	seq := e.grantSeq

	e.grantTimer.Stop()
	e.grantTimer = time.AfterFunc(e.grantExpiry.Sub(e.clock()), func() { e.expireGrant(seq) })

	e.logger.Info("temporary grant extended", "additional", additional, "expiry", e.grantExpiry)
	return e.grantExpiry, nil
}

// RevokeTemporary ends the grant immediately and reverts to the base mode.
func (e *Engine) RevokeTemporary() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.grantActive {
		return ErrNoGrant
	}
	e.clearGrantLocked()
	e.logger.Info("temporary grant revoked", "mode", e.mode)
	return nil
}

// GrantStatus returns the current grant state. Remaining is derived from
// the absolute expiry at call time and never goes negative.
func (e *Engine) GrantStatus() GrantStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.grantStatusLocked()
}

func (e *Engine) grantStatusLocked() GrantStatus {
	if !e.grantActive {
		return GrantStatus{}
	}
	remaining := e.grantExpiry.Sub(e.clock())
	if remaining < 0 {
		remaining = 0
	}
	return GrantStatus{
		Active:    true,
		Expiry:    e.grantExpiry,
		Remaining: remaining,
		BaseMode:  e.grantBase,
		Reason:    e.grantReason,
	}
}

// expireGrant is the timer callback. The sequence number identifies the
// timer's grant incarnation: a grant replaced or extended after the timer
// was armed leaves a stale sequence behind, and the stale firing is ignored.
func (e *Engine) expireGrant(seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.grantActive || seq != e.grantSeq {
		return
	}
	base := e.grantBase
	e.clearGrantLocked()
	e.logger.Info("temporary grant expired", "reverted_to", base)
}

// clearGrantLocked reverts to the base mode, clears the incident scope, and
// drops all grant state. Caller holds e.mu.
func (e *Engine) clearGrantLocked() {
	if e.grantTimer != nil {
		e.grantTimer.Stop()
	}
	e.mode = e.grantBase
	e.grantActive = false
	e.grantExpiry = time.Time{}
	e.grantBase = ""
	e.grantReason = ""
	e.grantTimer = nil
	e.scope = nil
	e.generation++
}
