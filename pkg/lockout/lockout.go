// Package lockout implements the failed-attempt lockout for the master
// secret.
//
// The machine has two states, Unlocked(n) and Locked(until). Reaching
// MaxAttempts consecutive failures moves it to Locked with a deadline that is
// persisted, so a restart mid-lock resumes with the same deadline instead of
// a fresh one. Expiry is evaluated lazily by CheckStatus; Watch adds an
// optional countdown callback for display layers.
package lockout

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/forest6511/pwvault/pkg/clock"
	"github.com/forest6511/pwvault/pkg/store"
)

// Defaults
const (
	DefaultMaxAttempts = 3
	DefaultDuration    = 60 * time.Second

	// StoreKey is the key the attempt state is persisted under.
	StoreKey = "lockout"
)

// ErrLockedOut is matched by every *LockedOutError.
var ErrLockedOut = errors.New("lockout: too many failed attempts")

// LockedOutError rejects an attempt made while locked.
type LockedOutError struct {
	Remaining time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("lockout: too many failed attempts, try again in %s", FormatRemaining(e.Remaining))
}

// Is reports ErrLockedOut as the sentinel for this error.
func (e *LockedOutError) Is(target error) bool {
	return target == ErrLockedOut
}

// Options configures a Machine. Zero values take the defaults.
type Options struct {
	MaxAttempts int
	Duration    time.Duration
	Clock       clock.Clock
	Logger      *zap.Logger
}

// Status is a point-in-time view of the machine.
type Status struct {
	Locked bool
	// Remaining is the time left on the lock, zero when unlocked.
	Remaining time.Duration
	// FailureCount is the number of consecutive failures since the last
	// success or expiry.
	FailureCount int
	// AttemptsLeft is how many failures remain before the lock engages.
	AttemptsLeft int
}

// state is the persisted form.
type state struct {
	FailureCount  int    `json:"failure_count"`
	LockedUntilMs *int64 `json:"locked_until_ms,omitempty"`
}

// Machine is the lockout state machine. All transitions are serialized.
type Machine struct {
	mu       sync.Mutex
	store    store.Store
	clock    clock.Clock
	logger   *zap.Logger
	max      int
	duration time.Duration

	count int
	until time.Time // zero while unlocked

	watch      clock.Timer
	generation uint64
}

// New loads the persisted state from s and recovers from a restart. An
// unexpired deadline resumes Locked and an expired one is cleared to
// Unlocked(0). Without a deadline the machine resumes Unlocked with the stored
// failure count rather than zero, so a restart never grants fresh attempts.
func New(s store.Store, opts Options) (*Machine, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Duration <= 0 {
		opts.Duration = DefaultDuration
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	m := &Machine{
		store:    s,
		clock:    opts.Clock,
		logger:   opts.Logger,
		max:      opts.MaxAttempts,
		duration: opts.Duration,
	}

	st, err := m.load()
	if err != nil {
		return nil, err
	}

	switch {
	case st.LockedUntilMs == nil:
		m.count = st.FailureCount
		if m.count >= m.max {
			// A count at the limit without a deadline cannot be produced by
			// this package. Treat it as the last allowed failure.
			m.count = m.max - 1
		}
	default:
		until := time.UnixMilli(*st.LockedUntilMs)
		if !m.clock.Now().Before(until) {
			m.logger.Debug("persisted lock expired during downtime", zap.Time("until", until))
			if err := m.clear(); err != nil {
				return nil, err
			}
		} else {
			m.count = m.max
			m.until = until
			m.logger.Info("resuming active lockout", zap.Time("until", until))
		}
	}

	return m, nil
}

// MaxAttempts returns the configured failure limit.
func (m *Machine) MaxAttempts() int {
	return m.max
}

// Duration returns the configured lock length.
func (m *Machine) Duration() time.Duration {
	return m.duration
}

// CheckStatus evaluates the machine at now. An expired lock transitions to
// Unlocked(0) and its persisted deadline is cleared. The remaining time is
// derived from the deadline on every call.
func (m *Machine) CheckStatus(now time.Time) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkLocked(now)
}

// Check is CheckStatus at the machine clock's current time.
func (m *Machine) Check() (Status, error) {
	return m.CheckStatus(m.clock.Now())
}

// Guard returns a *LockedOutError while locked and nil otherwise.
func (m *Machine) Guard() error {
	st, err := m.Check()
	if err != nil {
		return err
	}
	if st.Locked {
		return &LockedOutError{Remaining: st.Remaining}
	}
	return nil
}

// RecordFailure counts a wrong secret and returns the attempts left before
// the lock engages, 0 when this failure engaged it. While locked it returns
// a *LockedOutError and leaves the count untouched.
func (m *Machine) RecordFailure() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	st, err := m.checkLocked(now)
	if err != nil {
		return 0, err
	}
	if st.Locked {
		return 0, &LockedOutError{Remaining: st.Remaining}
	}

	next := state{FailureCount: m.count + 1}
	var until time.Time
	if next.FailureCount >= m.max {
		until = now.Add(m.duration)
		ms := until.UnixMilli()
		next.LockedUntilMs = &ms
	}

	if err := m.save(next); err != nil {
		return 0, err
	}
	m.count = next.FailureCount
	m.until = until

	if !until.IsZero() {
		m.logger.Warn("lockout engaged",
			zap.Int("failures", m.count),
			zap.Duration("duration", m.duration),
			zap.Time("until", until))
		return 0, nil
	}

	left := m.max - m.count
	m.logger.Debug("failed attempt recorded", zap.Int("failures", m.count), zap.Int("attempts_left", left))
	return left, nil
}

// RecordSuccess resets the count and clears the persisted state. While
// locked it returns a *LockedOutError.
func (m *Machine) RecordSuccess() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.checkLocked(m.clock.Now())
	if err != nil {
		return err
	}
	if st.Locked {
		return &LockedOutError{Remaining: st.Remaining}
	}
	if m.count == 0 {
		return nil
	}
	return m.clear()
}

// Unlock clears any lock and count regardless of state. It is the explicit
// unlock used by a full reset.
func (m *Machine) Unlock() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopWatchLocked()
	return m.clear()
}

// Watch arms a countdown that calls onUnlock once the current lock expires.
// It returns false when the machine is not locked. Re-arming cancels the
// previous countdown, and a countdown left over from an older lock never
// fires for a newer one.
func (m *Machine) Watch(onUnlock func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopWatchLocked()
	if m.until.IsZero() {
		return false
	}
	m.armLocked(m.generation, onUnlock)
	return true
}

// armLocked schedules the countdown for the current deadline. Caller holds
// m.mu.
func (m *Machine) armLocked(gen uint64, onUnlock func()) {
	until := m.until
	m.watch = m.clock.AfterFunc(until.Sub(m.clock.Now()), func() {
		m.mu.Lock()
		if gen != m.generation || !m.until.Equal(until) {
			m.mu.Unlock()
			return
		}
		st, err := m.checkLocked(m.clock.Now())
		if err == nil && st.Locked {
			// Woke early against the wall clock.
			m.armLocked(gen, onUnlock)
			m.mu.Unlock()
			return
		}
		m.watch = nil
		m.mu.Unlock()

		if err != nil {
			m.logger.Warn("failed to clear expired lockout", zap.Error(err))
			return
		}
		if onUnlock != nil {
			onUnlock()
		}
	})
}

// StopWatch cancels the countdown armed by Watch.
func (m *Machine) StopWatch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopWatchLocked()
}

func (m *Machine) stopWatchLocked() {
	m.generation++
	if m.watch != nil {
		m.watch.Stop()
		m.watch = nil
	}
}

// checkLocked is CheckStatus with m.mu held.
func (m *Machine) checkLocked(now time.Time) (Status, error) {
	if !m.until.IsZero() {
		if now.Before(m.until) {
			return Status{
				Locked:       true,
				Remaining:    m.until.Sub(now),
				FailureCount: m.count,
			}, nil
		}
		if err := m.clear(); err != nil {
			return Status{}, err
		}
		m.logger.Info("lockout expired")
	}
	return Status{FailureCount: m.count, AttemptsLeft: m.max - m.count}, nil
}

// clear deletes the persisted state and resets to Unlocked(0). Caller holds
// m.mu.
func (m *Machine) clear() error {
	if err := m.store.Delete(StoreKey); err != nil {
		return fmt.Errorf("lockout: failed to clear state: %w", err)
	}
	m.count = 0
	m.until = time.Time{}
	return nil
}

func (m *Machine) load() (state, error) {
	raw, ok, err := m.store.Get(StoreKey)
	if err != nil {
		return state{}, fmt.Errorf("lockout: failed to read state: %w", err)
	}
	if !ok {
		return state{}, nil
	}

	var st state
	if err := json.Unmarshal([]byte(raw), &st); err != nil || st.FailureCount < 0 {
		// Corrupted state resets, as an unreadable lock file would.
		m.logger.Warn("discarding corrupted lockout state", zap.Error(err))
		return state{}, nil
	}
	return st, nil
}

func (m *Machine) save(st state) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("lockout: failed to marshal state: %w", err)
	}
	if err := m.store.Set(StoreKey, string(data)); err != nil {
		return fmt.Errorf("lockout: failed to write state: %w", err)
	}
	return nil
}

// FormatRemaining renders a lock countdown as whole seconds, rounding up so
// a display never shows 0s while still locked.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	secs := (d + time.Second - 1) / time.Second
	return fmt.Sprintf("%ds", secs)
}
