// Package vault is the core of pwvault. Service ties the master secret, the
// failed-attempt lockout, the idle session timer and the encrypted record
// list together behind one mutex, so at most one authentication attempt or
// state change is in flight at a time.
//
// Authentication flow:
//
//	Authenticate(candidate)
//	  -> lockout check (locked: reject immediately, the secret is not touched)
//	  -> derive KEK from candidate, open the wrapped data key
//	  -> success: reset the counter, hold the data key, start the session
//	  -> failure: count it, possibly engaging the lock
package vault

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/forest6511/pwvault/pkg/audit"
	"github.com/forest6511/pwvault/pkg/clock"
	"github.com/forest6511/pwvault/pkg/crypto"
	"github.com/forest6511/pwvault/pkg/lockout"
	"github.com/forest6511/pwvault/pkg/password"
	"github.com/forest6511/pwvault/pkg/session"
	"github.com/forest6511/pwvault/pkg/store"
)

// Options configures a Service.
type Options struct {
	Store  store.Store
	Clock  clock.Clock
	Logger *zap.Logger
	// Audit is optional. When set, every operation is recorded.
	Audit *audit.Logger
	// Source tags audit events (audit.SourceCLI by default).
	Source string

	// KDF defaults to crypto.DefaultKDFParams. Existing vaults keep the
	// parameters they were created with.
	KDF crypto.KDFParams

	MaxAttempts  int
	LockDuration time.Duration

	// Defaults are the settings used until the user saves their own.
	Defaults Settings

	// OnLock runs after the vault locks itself because the session expired.
	OnLock func()
}

// Service is the vault core.
type Service struct {
	mu       sync.Mutex
	store    store.Store
	clock    clock.Clock
	logger   *zap.Logger
	auditLog *audit.Logger
	source   string
	kdf      crypto.KDFParams
	defaults Settings
	onLock   func()

	lockout *lockout.Machine
	session *session.Timer

	dek []byte // data key, nil while locked
}

// AuthResult is the outcome of an authentication attempt. Exactly one of
// OK, RemainingAttempts > 0 or LockedFor > 0 describes it.
type AuthResult struct {
	OK                bool
	RemainingAttempts int
	LockedFor         time.Duration
}

// Err converts a failed result into ErrInvalidPassword or a
// *lockout.LockedOutError.
func (r AuthResult) Err() error {
	switch {
	case r.OK:
		return nil
	case r.LockedFor > 0:
		return &lockout.LockedOutError{Remaining: r.LockedFor}
	default:
		return fmt.Errorf("%w: %d attempts left", ErrInvalidPassword, r.RemainingAttempts)
	}
}

// Status is a snapshot for status displays. It never contains secrets.
type Status struct {
	Initialized      bool          `json:"initialized"`
	Unlocked         bool          `json:"unlocked"`
	LockedOut        bool          `json:"locked_out"`
	LockRemaining    time.Duration `json:"lock_remaining"`
	FailureCount     int           `json:"failure_count"`
	AttemptsLeft     int           `json:"attempts_left"`
	SessionRemaining time.Duration `json:"session_remaining"`
	AutoLock         int           `json:"auto_lock_minutes"`
}

// New builds a Service over opts.Store and runs lockout restart recovery.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("vault: store is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Source == "" {
		opts.Source = audit.SourceCLI
	}
	if opts.KDF == (crypto.KDFParams{}) {
		opts.KDF = crypto.DefaultKDFParams()
	}
	if err := opts.KDF.Validate(); err != nil {
		return nil, err
	}
	if opts.Defaults == (Settings{}) {
		opts.Defaults = DefaultSettings()
	}
	if err := opts.Defaults.Validate(); err != nil {
		return nil, err
	}

	machine, err := lockout.New(opts.Store, lockout.Options{
		MaxAttempts: opts.MaxAttempts,
		Duration:    opts.LockDuration,
		Clock:       opts.Clock,
		Logger:      opts.Logger.Named("lockout"),
	})
	if err != nil {
		return nil, err
	}

	s := &Service{
		store:    opts.Store,
		clock:    opts.Clock,
		logger:   opts.Logger,
		auditLog: opts.Audit,
		source:   opts.Source,
		kdf:      opts.KDF,
		defaults: opts.Defaults,
		onLock:   opts.OnLock,
		lockout:  machine,
		session:  session.New(opts.Clock, opts.Logger.Named("session")),
	}
	s.session.OnExpire(s.expire)
	return s, nil
}

// IsInitialized reports whether a master password has been set up.
func (s *Service) IsInitialized() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok, err := s.loadMaster()
	return ok, err
}

// Setup creates the master password on first run and leaves the vault
// unlocked.
func (s *Service) Setup(secret, confirm string) error {
	if err := validateNewSecret(secret, confirm); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok, err := s.loadMaster()
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyInitialized
	}

	dek, err := crypto.RandomBytes(crypto.KeyLength)
	if err != nil {
		return fmt.Errorf("vault: failed to generate data key: %w", err)
	}
	m, err := newMasterRecord(secret, dek, s.kdf, s.clock.Now())
	if err != nil {
		crypto.SecureWipe(dek)
		return err
	}
	if err := s.saveMaster(m); err != nil {
		crypto.SecureWipe(dek)
		return err
	}

	if err := s.lockout.Unlock(); err != nil {
		s.logger.Warn("failed to clear stale lockout state", zap.Error(err))
	}
	if err := s.unlockLocked(dek); err != nil {
		return err
	}
	s.event(audit.OpVaultSetup, "", nil)
	s.logger.Info("vault set up")
	return nil
}

// Authenticate checks candidate against the master secret. A locked-out
// attempt is rejected without deriving a key and without counting. Only
// storage failures are returned as errors.
func (s *Service) Authenticate(candidate string) (AuthResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res, locked, err := s.lockedOutLocked(); err != nil || locked {
		return res, err
	}

	m, ok, err := s.loadMaster()
	if err != nil {
		return AuthResult{}, err
	}
	if !ok {
		return AuthResult{}, ErrNotInitialized
	}

	res, dek, err := s.verifyLocked(m, candidate)
	if err != nil || !res.OK {
		return res, err
	}

	if err := s.unlockLocked(dek); err != nil {
		return AuthResult{}, err
	}
	s.event(audit.OpAuthSuccess, "", nil)
	s.logger.Info("vault unlocked")
	return res, nil
}

// lockedOutLocked reports an active lockout as a rejected result. Caller
// holds s.mu.
func (s *Service) lockedOutLocked() (AuthResult, bool, error) {
	st, err := s.lockout.Check()
	if err != nil {
		return AuthResult{}, false, err
	}
	if !st.Locked {
		return AuthResult{}, false, nil
	}
	s.eventResult(audit.OpAuthLockedOut, audit.ResultDenied, map[string]any{
		"remaining_ms": st.Remaining.Milliseconds(),
	})
	return AuthResult{LockedFor: st.Remaining}, true, nil
}

// verifyLocked runs one counted attempt against m. On success it returns the
// data key and the counter has been reset. Caller holds s.mu.
func (s *Service) verifyLocked(m *masterRecord, candidate string) (AuthResult, []byte, error) {
	if res, locked, err := s.lockedOutLocked(); err != nil || locked {
		return res, nil, err
	}

	dek, err := m.unwrap(candidate)
	if err != nil {
		if !errors.Is(err, ErrInvalidPassword) {
			return AuthResult{}, nil, err
		}

		left, err := s.lockout.RecordFailure()
		if err != nil {
			var locked *lockout.LockedOutError
			if errors.As(err, &locked) {
				return AuthResult{LockedFor: locked.Remaining}, nil, nil
			}
			return AuthResult{}, nil, err
		}
		s.eventResult(audit.OpAuthFailed, audit.ResultDenied, map[string]any{"attempts_left": left})
		if left == 0 {
			s.event(audit.OpAuthLockedOut, "", map[string]any{
				"duration_ms": s.lockout.Duration().Milliseconds(),
			})
			return AuthResult{LockedFor: s.lockout.Duration()}, nil, nil
		}
		return AuthResult{RemainingAttempts: left}, nil, nil
	}

	if err := s.lockout.RecordSuccess(); err != nil {
		crypto.SecureWipe(dek)
		return AuthResult{}, nil, err
	}
	return AuthResult{OK: true}, dek, nil
}

// unlockLocked installs dek, keys the audit log and starts the session.
// Caller holds s.mu.
func (s *Service) unlockLocked(dek []byte) error {
	settings, err := s.loadSettings()
	if err != nil {
		crypto.SecureWipe(dek)
		return err
	}

	if s.dek != nil {
		crypto.SecureWipe(s.dek)
	}
	s.dek = dek

	if s.auditLog != nil {
		if err := s.auditLog.SetHMACKey(dek); err != nil {
			s.logger.Warn("failed to initialize audit logger", zap.Error(err))
		}
	}

	if err := s.session.Start(settings.Timeout()); err != nil {
		return err
	}
	s.event(audit.OpSessionStart, "", map[string]any{"timeout_minutes": settings.AutoLock})
	return nil
}

// ChangeSecret replaces the master secret. A wrong current secret counts as
// a failed attempt and is reported like Authenticate's result.
func (s *Service) ChangeSecret(current, next, confirm string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok, err := s.loadMaster()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotInitialized
	}

	res, dek, err := s.verifyLocked(m, current)
	if err != nil {
		return err
	}
	if !res.OK {
		return res.Err()
	}
	defer crypto.SecureWipe(dek)

	if err := validateNewSecret(next, confirm); err != nil {
		return err
	}

	nm, err := newMasterRecord(next, dek, m.KDF, s.clock.Now())
	if err != nil {
		return err
	}
	nm.CreatedAt = m.CreatedAt
	if err := s.saveMaster(nm); err != nil {
		return err
	}

	if s.auditLog != nil && s.dek == nil {
		// Key the log for this event only if the vault was locked.
		if err := s.auditLog.SetHMACKey(dek); err == nil {
			defer s.auditLog.ClearKey()
		}
	}
	s.event(audit.OpSecretChange, "", nil)
	s.logger.Info("master password changed")
	return nil
}

// Reset deletes the master secret, records, settings, lockout state and
// audit trail, and locks the vault. It is the explicit unlock of an active
// lockout.
func (s *Service) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lockLocked()

	for _, key := range []string{recordsKey, settingsKey, masterKey} {
		if err := s.store.Delete(key); err != nil {
			return fmt.Errorf("vault: failed to delete %s: %w", key, err)
		}
	}
	if err := s.lockout.Unlock(); err != nil {
		return err
	}

	if s.auditLog != nil {
		if err := s.auditLog.Purge(); err != nil {
			s.logger.Warn("failed to purge audit log", zap.Error(err))
		}
	}
	// Buffered until the next setup keys a new chain.
	s.event(audit.OpVaultReset, "", nil)
	s.logger.Warn("vault reset, all data deleted")
	return nil
}

// Lock forgets the data key and ends the session.
func (s *Service) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dek != nil {
		s.event(audit.OpVaultLock, "", nil)
	}
	s.lockLocked()
}

// lockLocked wipes the key and stops the session. Caller holds s.mu.
func (s *Service) lockLocked() {
	s.session.Stop()
	if s.dek == nil {
		return
	}
	crypto.SecureWipe(s.dek)
	s.dek = nil
	if s.auditLog != nil {
		s.auditLog.ClearKey()
	}
}

// expire is the session expiry callback. It never holds s.mu on entry. A
// callback that waited on s.mu while a new session started finds the session
// active again and leaves it alone.
func (s *Service) expire() {
	s.mu.Lock()
	if s.dek == nil || s.session.Active() {
		s.mu.Unlock()
		return
	}
	s.event(audit.OpSessionExpired, "", nil)
	s.lockLocked()
	s.mu.Unlock()

	s.logger.Info("vault auto-locked after inactivity")
	if s.onLock != nil {
		s.onLock()
	}
}

// IsLocked reports whether the data key is absent.
func (s *Service) IsLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dek == nil
}

// TouchSession records user activity. It returns ErrVaultLocked when no
// session exists and ErrSessionExpired, locking the vault, when the session
// had already timed out.
func (s *Service) TouchSession() error {
	s.mu.Lock()
	unlocked := s.dek != nil
	s.mu.Unlock()
	if !unlocked {
		return ErrVaultLocked
	}

	// Touch may run the expiry callback, which takes s.mu.
	if !s.session.Touch() {
		s.expire()
		return ErrSessionExpired
	}
	return nil
}

// IsSessionExpired reports whether the session is invalid at now. It does
// not change any state.
func (s *Service) IsSessionExpired(now time.Time) bool {
	s.mu.Lock()
	locked := s.dek == nil
	s.mu.Unlock()
	return locked || s.session.IsExpired(now)
}

// requireUnlockedLocked fails unless a valid session holds the data key.
// Caller holds s.mu.
func (s *Service) requireUnlockedLocked() error {
	if s.dek == nil {
		return ErrVaultLocked
	}
	if s.session.IsExpired(s.clock.Now()) {
		s.event(audit.OpSessionExpired, "", nil)
		s.lockLocked()
		return ErrSessionExpired
	}
	return nil
}

// LockStatus evaluates the lockout now, clearing an expired lock.
func (s *Service) LockStatus() (lockout.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockout.Check()
}

// WatchLockout arms the countdown display callback for the active lock.
// See lockout.Machine.Watch.
func (s *Service) WatchLockout(onUnlock func()) bool {
	return s.lockout.Watch(onUnlock)
}

// StopLockoutWatch cancels the countdown armed by WatchLockout.
func (s *Service) StopLockoutWatch() {
	s.lockout.StopWatch()
}

// Status returns a snapshot of the vault state.
func (s *Service) Status() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Status
	_, ok, err := s.loadMaster()
	if err != nil {
		return Status{}, err
	}
	st.Initialized = ok

	ls, err := s.lockout.Check()
	if err != nil {
		return Status{}, err
	}
	st.LockedOut = ls.Locked
	st.LockRemaining = ls.Remaining
	st.FailureCount = ls.FailureCount
	st.AttemptsLeft = ls.AttemptsLeft

	settings, err := s.loadSettings()
	if err != nil {
		return Status{}, err
	}
	st.AutoLock = settings.AutoLock

	now := s.clock.Now()
	st.Unlocked = s.dek != nil && !s.session.IsExpired(now)
	if st.Unlocked {
		st.SessionRemaining = s.session.Remaining(now)
	}
	return st, nil
}

// Settings returns the saved settings merged over the defaults.
func (s *Service) Settings() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSettings()
}

// UpdateSettings validates and saves settings. The new auto-lock timeout
// re-arms the running session from now.
func (s *Service) UpdateSettings(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if err := s.TouchSession(); err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.requireUnlockedLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.saveSettings(settings); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.session.SetTimeout(settings.Timeout()); err != nil {
		s.mu.Unlock()
		return err
	}
	s.event(audit.OpSettingsUpdate, "", map[string]any{
		"auto_lock_minutes": settings.AutoLock,
		"theme":             string(settings.Theme),
	})
	s.mu.Unlock()

	return s.TouchSession()
}

// Generate returns a random password. It needs no session.
func (s *Service) Generate(opts password.Options) (string, error) {
	return password.Generate(opts)
}

// Score rates a password. It needs no session.
func (s *Service) Score(p string) password.Strength {
	return password.Score(p)
}

// MaxAttempts returns the configured failure limit.
func (s *Service) MaxAttempts() int {
	return s.lockout.MaxAttempts()
}

// event records a successful operation. Caller holds s.mu.
func (s *Service) event(op, target string, ctx map[string]any) {
	if s.auditLog == nil {
		return
	}
	if err := s.auditLog.Log(op, s.source, audit.ResultSuccess, target, nil, ctx); err != nil {
		s.logger.Warn("failed to write audit event", zap.String("op", op), zap.Error(err))
	}
}

func (s *Service) eventResult(op, result string, ctx map[string]any) {
	if s.auditLog == nil {
		return
	}
	if err := s.auditLog.Log(op, s.source, result, "", nil, ctx); err != nil {
		s.logger.Warn("failed to write audit event", zap.String("op", op), zap.Error(err))
	}
}
