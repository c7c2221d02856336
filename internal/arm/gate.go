package arm

import (
	"errors"
	"sync"
	"time"
)

// ErrNotArmed is returned by Check when a destructive command arrives
// while the gate is disarmed or the arm window has lapsed.
var ErrNotArmed = errors.New("not armed")

// Gate is the time-boxed authorization for destructive commands.
// Expiry is evaluated lazily on Check; there is no background timer.
// A successful destructive Check consumes the arm, so a duplicated or
// retried chat message cannot re-trigger execution.
type Gate struct {
	requireArm bool
	ttl        time.Duration

	mu        sync.Mutex
	armed     bool
	armedBy   int64
	expiresAt time.Time
}

func NewGate(requireArm bool, ttl time.Duration) *Gate {
	return &Gate{requireArm: requireArm, ttl: ttl}
}

// RequestArm arms the gate (or re-arms it, resetting the expiry) and
// returns the new expiry.
func (g *Gate) RequestArm(user int64, now time.Time) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = true
	g.armedBy = user
	g.expiresAt = now.Add(g.ttl)
	return g.expiresAt
}

// Check authorizes a command at the given instant. Destructive
// commands consume the arm on success.
func (g *Gate) Check(now time.Time, destructive bool) error {
	if !g.requireArm {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.armed {
		return ErrNotArmed
	}
	if !now.Before(g.expiresAt) {
		g.armed = false
		return ErrNotArmed
	}
	if destructive {
		g.armed = false
	}
	return nil
}

func (g *Gate) Disarm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = false
}

// Status reports the current arm state without consuming it. The
// lazy-expiry rule applies here too.
func (g *Gate) Status(now time.Time) (armed bool, armedBy int64, expiresAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.armed && !now.Before(g.expiresAt) {
		g.armed = false
	}
	if !g.armed {
		return false, 0, time.Time{}
	}
	return true, g.armedBy, g.expiresAt
}

func (g *Gate) Required() bool { return g.requireArm }
