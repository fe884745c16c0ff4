// Package session implements the idle auto-lock timer of an unlocked vault.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/forest6511/pwvault/pkg/clock"
)

// DefaultTimeout matches the default auto-lock setting of 10 minutes.
const DefaultTimeout = 10 * time.Minute

// ErrInvalidTimeout is returned for a non-positive timeout.
var ErrInvalidTimeout = errors.New("session: timeout must be positive")

// Timer tracks one authenticated session and expires it after a period of
// inactivity. The zero value is not usable; call New.
//
// Expiry is a UI transition back to the locked state. It is never a failed
// authentication and has no effect on the lockout counter.
type Timer struct {
	mu     sync.Mutex
	clock  clock.Clock
	logger *zap.Logger

	timeout time.Duration // applies from the next Start or Touch

	active          bool
	authenticatedAt time.Time
	lastActivity    time.Time
	deadline        time.Time

	handle     clock.Timer
	generation uint64
	onExpire   func()
}

// New returns a stopped Timer using the default timeout.
func New(c clock.Clock, logger *zap.Logger) *Timer {
	if c == nil {
		c = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timer{clock: c, logger: logger, timeout: DefaultTimeout}
}

// OnExpire registers fn to run once each time a session expires. fn runs
// without the timer's lock held, so it may call back into the Timer.
func (t *Timer) OnExpire(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExpire = fn
}

// Start begins a session armed to expire timeout from now. Any previous
// session is replaced without firing its expiry callback.
func (t *Timer) Start(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, timeout)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.timeout = timeout
	t.active = true
	t.authenticatedAt = now
	t.lastActivity = now
	t.armLocked(now)

	t.logger.Debug("session started", zap.Duration("timeout", timeout))
	return nil
}

// Touch records user activity and re-arms the deadline from now. It returns
// false, expiring the session, when the session had already expired.
func (t *Timer) Touch() bool {
	t.mu.Lock()
	now := t.clock.Now()
	if !t.active {
		t.mu.Unlock()
		return false
	}
	if t.expiredLocked(now) {
		fn := t.expireLocked()
		t.mu.Unlock()
		if fn != nil {
			fn()
		}
		return false
	}
	t.lastActivity = now
	t.armLocked(now)
	t.mu.Unlock()
	return true
}

// IsExpired reports whether the session is invalid at now: never started,
// stopped, past the armed deadline, or idle for longer than the configured
// timeout. It does not change state.
func (t *Timer) IsExpired(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.active || t.expiredLocked(now)
}

// Check is the status check: if the session has expired at the clock's
// current time it is ended and the expiry callback runs. It reports whether
// the session is still valid.
func (t *Timer) Check() bool {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return false
	}
	if !t.expiredLocked(t.clock.Now()) {
		t.mu.Unlock()
		return true
	}
	fn := t.expireLocked()
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
	return false
}

// SetTimeout changes the idle timeout. The armed deadline is left alone; the
// new value is used from the next Start or Touch.
func (t *Timer) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, timeout)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = timeout
	return nil
}

// Timeout returns the configured idle timeout.
func (t *Timer) Timeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeout
}

// Stop ends the session without running the expiry callback.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = false
	t.cancelLocked()
}

// Active reports whether a session is in progress. An active session may
// still be expired if its deadline passed and nobody has checked yet.
func (t *Timer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Remaining returns the time left before the armed deadline at now.
func (t *Timer) Remaining(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active || t.expiredLocked(now) {
		return 0
	}
	return t.deadline.Sub(now)
}

// AuthenticatedAt returns when the current session started.
func (t *Timer) AuthenticatedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.authenticatedAt
}

// LastActivity returns the time of the last Start or successful Touch.
func (t *Timer) LastActivity() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActivity
}

func (t *Timer) expiredLocked(now time.Time) bool {
	return !now.Before(t.deadline) || now.Sub(t.lastActivity) >= t.timeout
}

// armLocked cancels the old handle and schedules a new one. Caller holds
// t.mu.
func (t *Timer) armLocked(now time.Time) {
	t.cancelLocked()
	t.deadline = now.Add(t.timeout)
	gen := t.generation
	t.handle = t.clock.AfterFunc(t.timeout, func() { t.fire(gen) })
}

func (t *Timer) cancelLocked() {
	t.generation++
	if t.handle != nil {
		t.handle.Stop()
		t.handle = nil
	}
}

// fire runs when an armed handle elapses.
func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.generation || !t.active {
		t.mu.Unlock()
		return
	}
	t.handle = nil
	fn := t.expireLocked()
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// expireLocked ends the session and returns the callback to run once the
// lock is released.
func (t *Timer) expireLocked() func() {
	idle := t.clock.Now().Sub(t.lastActivity)
	t.active = false
	t.cancelLocked()
	t.logger.Info("session expired", zap.Duration("idle", idle))
	return t.onExpire
}
