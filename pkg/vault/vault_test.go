package vault

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/pwvault/pkg/audit"
	"github.com/forest6511/pwvault/pkg/backup"
	"github.com/forest6511/pwvault/pkg/clock"
	"github.com/forest6511/pwvault/pkg/crypto"
	"github.com/forest6511/pwvault/pkg/lockout"
	"github.com/forest6511/pwvault/pkg/password"
	"github.com/forest6511/pwvault/pkg/store"
)

const (
	testSecret = "correct horse battery"
	wrongGuess = "wrong password!"
)

var (
	epoch      = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	testParams = crypto.KDFParams{Time: 1, Memory: 8 * 1024, Threads: 1}
)

type fixture struct {
	svc   *Service
	store store.Store
	clock *clock.Fake
	audit *audit.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: store.NewMemory(), clock: clock.NewFake(epoch)}
	f.audit = audit.NewLogger(t.TempDir(), f.clock, nil)
	f.svc = f.restart(t)
	return f
}

// restart builds a new Service over the same store, as a new process would.
func (f *fixture) restart(t *testing.T) *Service {
	t.Helper()
	svc, err := New(Options{Store: f.store, Clock: f.clock, Audit: f.audit, KDF: testParams})
	require.NoError(t, err)
	return svc
}

func setUp(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	require.NoError(t, f.svc.Setup(testSecret, testSecret))
	return f
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestSetup(t *testing.T) {
	f := newFixture(t)

	ok, err := f.svc.IsInitialized()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.svc.Setup(testSecret, testSecret))
	assert.False(t, f.svc.IsLocked(), "setup leaves the vault unlocked")

	ok, err = f.svc.IsInitialized()
	require.NoError(t, err)
	assert.True(t, ok)

	raw, _, err := f.store.Get(masterKey)
	require.NoError(t, err)
	assert.NotContains(t, raw, testSecret, "the secret must never be stored")

	assert.ErrorIs(t, f.svc.Setup(testSecret, testSecret), ErrAlreadyInitialized)
}

func TestSetupValidation(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		confirm string
		field   string
	}{
		{"mismatch", testSecret, testSecret + "x", "confirmation"},
		{"too short", "abcde", "abcde", "password"},
		{"too long", strings.Repeat("a", MaxPasswordLength+1), strings.Repeat("a", MaxPasswordLength+1), "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			err := f.svc.Setup(tt.secret, tt.confirm)

			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.field, ve.Field)
			assert.True(t, IsValidation(err))

			ok, err := f.svc.IsInitialized()
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSetupAcceptsMinimumLength(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Setup("abcdef", "abcdef"))

	f.svc.Lock()
	res, err := f.svc.Authenticate("abcdef")
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestAuthenticateNotInitialized(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Authenticate(testSecret)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestAuthenticateSuccess(t *testing.T) {
	f := setUp(t)
	f.svc.Lock()
	require.True(t, f.svc.IsLocked())

	res, err := f.svc.Authenticate(testSecret)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.NoError(t, res.Err())
	assert.False(t, f.svc.IsLocked())
	assert.False(t, f.svc.IsSessionExpired(f.clock.Now()))
}

func TestAuthenticateNormalizesSecret(t *testing.T) {
	f := newFixture(t)
	composed := "caf\u00e9-secret"
	decomposed := "cafe\u0301-secret"
	require.NoError(t, f.svc.Setup(composed, composed))
	f.svc.Lock()

	res, err := f.svc.Authenticate(decomposed)
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestLockoutAfterThreeFailures(t *testing.T) {
	f := setUp(t)
	f.svc.Lock()

	res, err := f.svc.Authenticate(wrongGuess)
	require.NoError(t, err)
	assert.Equal(t, AuthResult{RemainingAttempts: 2}, res)
	assert.ErrorIs(t, res.Err(), ErrInvalidPassword)

	res, err = f.svc.Authenticate(wrongGuess)
	require.NoError(t, err)
	assert.Equal(t, AuthResult{RemainingAttempts: 1}, res)

	res, err = f.svc.Authenticate(wrongGuess)
	require.NoError(t, err)
	assert.Equal(t, AuthResult{LockedFor: lockout.DefaultDuration}, res)
	assert.ErrorIs(t, res.Err(), lockout.ErrLockedOut)

	// Even the right secret is rejected without being checked.
	f.clock.Advance(5 * time.Second)
	res, err = f.svc.Authenticate(testSecret)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, 55*time.Second, res.LockedFor)
	assert.True(t, f.svc.IsLocked())
}

func TestLockoutSurvivesRestart(t *testing.T) {
	f := setUp(t)
	f.svc.Lock()
	for i := 0; i < 3; i++ {
		_, err := f.svc.Authenticate(wrongGuess)
		require.NoError(t, err)
	}

	f.clock.Advance(10 * time.Second)
	svc := f.restart(t)

	st, err := svc.LockStatus()
	require.NoError(t, err)
	assert.True(t, st.Locked)
	assert.Equal(t, 50*time.Second, st.Remaining)

	res, err := svc.Authenticate(testSecret)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Second, res.LockedFor)
}

func TestLockExpiryStartsFreshCycle(t *testing.T) {
	f := setUp(t)
	f.svc.Lock()
	for i := 0; i < 3; i++ {
		_, err := f.svc.Authenticate(wrongGuess)
		require.NoError(t, err)
	}

	f.clock.Advance(lockout.DefaultDuration)
	res, err := f.svc.Authenticate(wrongGuess)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RemainingAttempts, "first failure after expiry is 1 of 3")

	res, err = f.svc.Authenticate(testSecret)
	require.NoError(t, err)
	assert.True(t, res.OK)

	st, err := f.svc.LockStatus()
	require.NoError(t, err)
	assert.Equal(t, 0, st.FailureCount)
}

func TestSessionExpiryDoesNotCountAsFailure(t *testing.T) {
	f := setUp(t)

	locked := 0
	svc, err := New(Options{Store: f.store, Clock: f.clock, KDF: testParams, OnLock: func() { locked++ }})
	require.NoError(t, err)
	res, err := svc.Authenticate(testSecret)
	require.NoError(t, err)
	require.True(t, res.OK)

	f.clock.Advance(DefaultSettings().Timeout())
	assert.Equal(t, 1, locked)
	assert.True(t, svc.IsLocked())

	st, err := svc.LockStatus()
	require.NoError(t, err)
	assert.Equal(t, 0, st.FailureCount)
	assert.Equal(t, lockout.DefaultMaxAttempts, st.AttemptsLeft)
}

func TestStaleExpiryLeavesNewSessionUnlocked(t *testing.T) {
	f := setUp(t)
	svc := f.svc

	// Hold s.mu while the idle deadline fires so the expiry callback queues
	// behind a re-authentication.
	svc.mu.Lock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.clock.Advance(DefaultSettings().Timeout())
	}()
	require.Eventually(t, func() bool { return !svc.session.Active() }, time.Second, time.Millisecond)

	m, ok, err := svc.loadMaster()
	require.NoError(t, err)
	require.True(t, ok)
	res, dek, err := svc.verifyLocked(m, testSecret)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.NoError(t, svc.unlockLocked(dek))
	svc.mu.Unlock()

	<-done
	assert.False(t, svc.IsLocked(), "expiry of the previous session must not lock the new one")
	assert.NoError(t, svc.TouchSession())
}

func TestAuthenticateLockedOutBeforeReadingMaster(t *testing.T) {
	f := setUp(t)
	for i := 0; i < lockout.DefaultMaxAttempts; i++ {
		_, err := f.svc.Authenticate(wrongGuess)
		require.NoError(t, err)
	}
	require.NoError(t, f.store.Set(masterKey, "{not json"))

	res, err := f.svc.Authenticate(testSecret)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, lockout.DefaultDuration, res.LockedFor)
}

func TestTouchSession(t *testing.T) {
	f := setUp(t)
	timeout := DefaultSettings().Timeout()

	for i := 0; i < 5; i++ {
		f.clock.Advance(timeout / 2)
		require.NoError(t, f.svc.TouchSession())
	}
	assert.False(t, f.svc.IsSessionExpired(f.clock.Now()))

	f.clock.Advance(timeout - time.Millisecond)
	require.NoError(t, f.svc.TouchSession())
	f.clock.Advance(time.Millisecond)
	assert.False(t, f.svc.IsSessionExpired(f.clock.Now()), "touch extends past the original deadline")
}

func TestTouchSessionWhenLocked(t *testing.T) {
	f := setUp(t)
	f.svc.Lock()
	assert.ErrorIs(t, f.svc.TouchSession(), ErrVaultLocked)
	assert.True(t, f.svc.IsSessionExpired(f.clock.Now()))
}

func TestExpiredSessionLocksOnNextOperation(t *testing.T) {
	f := setUp(t)
	require.NoError(t, f.svc.UpdateSettings(Settings{AutoLock: 5, Theme: ThemeDark}))

	assert.True(t, f.svc.IsSessionExpired(f.clock.Now().Add(5*time.Minute)))

	f.clock.Advance(5 * time.Minute)
	_, err := f.svc.ListRecords()
	assert.ErrorIs(t, err, ErrVaultLocked)
}

func TestConcurrentAuthenticateNoDoubleIncrement(t *testing.T) {
	f := setUp(t)
	f.svc.Lock()

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []AuthResult
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Authenticate(wrongGuess)
			assert.NoError(t, err)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var remaining []int
	lockedOut := 0
	for _, r := range results {
		if r.LockedFor > 0 {
			lockedOut++
		} else {
			remaining = append(remaining, r.RemainingAttempts)
		}
	}
	assert.ElementsMatch(t, []int{2, 1}, remaining, "each counted attempt sees a distinct count")
	assert.Equal(t, n-2, lockedOut)

	st, err := f.svc.LockStatus()
	require.NoError(t, err)
	assert.True(t, st.Locked)
	assert.Equal(t, lockout.DefaultMaxAttempts, st.FailureCount)
}

func TestChangeSecret(t *testing.T) {
	f := setUp(t)
	_, err := f.svc.AddRecord(Record{Website: "example.com", Username: "alice", Password: "pw-123456"})
	require.NoError(t, err)

	const next = "a brand new secret"
	require.NoError(t, f.svc.ChangeSecret(testSecret, next, next))

	f.svc.Lock()
	res, err := f.svc.Authenticate(testSecret)
	require.NoError(t, err)
	assert.False(t, res.OK, "old secret must stop working")

	res, err = f.svc.Authenticate(next)
	require.NoError(t, err)
	require.True(t, res.OK)

	records, err := f.svc.ListRecords()
	require.NoError(t, err)
	assert.Len(t, records, 1, "records stay readable under the new secret")
}

func TestChangeSecretWrongCurrentCounts(t *testing.T) {
	f := setUp(t)

	err := f.svc.ChangeSecret(wrongGuess, "another secret", "another secret")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	st, err := f.svc.LockStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, st.FailureCount)
}

func TestChangeSecretValidation(t *testing.T) {
	f := setUp(t)

	err := f.svc.ChangeSecret(testSecret, "new secret 1", "new secret 2")
	assert.True(t, IsValidation(err))

	err = f.svc.ChangeSecret(testSecret, "abcde", "abcde")
	assert.True(t, IsValidation(err))

	res, err := f.svc.Authenticate(testSecret)
	require.NoError(t, err)
	assert.True(t, res.OK, "failed change must keep the old secret")
}

func TestChangeSecretWhileLockedOut(t *testing.T) {
	f := setUp(t)
	f.svc.Lock()
	for i := 0; i < 3; i++ {
		_, _ = f.svc.Authenticate(wrongGuess)
	}

	err := f.svc.ChangeSecret(testSecret, "another secret", "another secret")
	assert.ErrorIs(t, err, lockout.ErrLockedOut)
}

func TestReset(t *testing.T) {
	f := setUp(t)
	_, err := f.svc.AddRecord(Record{Website: "example.com", Username: "alice", Password: "pw"})
	require.NoError(t, err)
	require.NoError(t, f.svc.UpdateSettings(Settings{AutoLock: 3, Theme: ThemeAuto}))
	f.svc.Lock()
	for i := 0; i < 3; i++ {
		_, _ = f.svc.Authenticate(wrongGuess)
	}

	require.NoError(t, f.svc.Reset())

	if l, ok := f.store.(store.Lister); ok {
		keys, err := l.Keys()
		require.NoError(t, err)
		assert.Empty(t, keys)
	}
	st, err := f.svc.Status()
	require.NoError(t, err)
	assert.False(t, st.Initialized)
	assert.False(t, st.LockedOut)
	assert.Equal(t, DefaultSettings().AutoLock, st.AutoLock)

	require.NoError(t, f.svc.Setup(testSecret, testSecret))
}

func TestSettings(t *testing.T) {
	f := setUp(t)

	s, err := f.svc.Settings()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)

	require.NoError(t, f.svc.UpdateSettings(Settings{AutoLock: 30, Theme: ThemeDark}))
	s, err = f.svc.Settings()
	require.NoError(t, err)
	assert.Equal(t, Settings{AutoLock: 30, Theme: ThemeDark}, s)

	assert.True(t, IsValidation(f.svc.UpdateSettings(Settings{AutoLock: 0, Theme: ThemeDark})))
	assert.True(t, IsValidation(f.svc.UpdateSettings(Settings{AutoLock: 5, Theme: "neon"})))
}

func TestSettingsMergeOverDefaults(t *testing.T) {
	f := setUp(t)
	require.NoError(t, f.store.Set(settingsKey, `{"theme":"dark"}`))

	s, err := f.svc.Settings()
	require.NoError(t, err)
	assert.Equal(t, Settings{AutoLock: 10, Theme: ThemeDark}, s)
}

func TestUpdateSettingsRearmsSession(t *testing.T) {
	f := setUp(t)
	f.clock.Advance(4 * time.Minute)
	require.NoError(t, f.svc.UpdateSettings(Settings{AutoLock: 2, Theme: ThemeLight}))

	st, err := f.svc.Status()
	require.NoError(t, err)
	assert.True(t, st.Unlocked)
	assert.Equal(t, 2*time.Minute, st.SessionRemaining)

	f.clock.Advance(2 * time.Minute)
	assert.True(t, f.svc.IsLocked())
}

func TestUpdateSettingsRequiresUnlock(t *testing.T) {
	f := setUp(t)
	f.svc.Lock()
	assert.ErrorIs(t, f.svc.UpdateSettings(DefaultSettings()), ErrVaultLocked)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	st, err := f.svc.Status()
	require.NoError(t, err)
	assert.False(t, st.Initialized)
	assert.False(t, st.Unlocked)

	require.NoError(t, f.svc.Setup(testSecret, testSecret))
	st, err = f.svc.Status()
	require.NoError(t, err)
	assert.True(t, st.Initialized)
	assert.True(t, st.Unlocked)
	assert.Equal(t, 10*time.Minute, st.SessionRemaining)
	assert.Equal(t, 3, st.AttemptsLeft)
}

func TestGenerateAndScore(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.Generate(password.Options{Length: 16, Uppercase: true, Lowercase: true, Numbers: true})
	require.NoError(t, err)
	assert.Len(t, p, 16)

	_, err = f.svc.Generate(password.Options{Length: 8})
	assert.ErrorIs(t, err, password.ErrInvalidCharset)

	assert.Equal(t, 100, f.svc.Score("Abcdef1!23456").Value)
}

func TestStorageFailureIsFatal(t *testing.T) {
	f := setUp(t)
	f.svc.Lock()

	broken := &brokenStore{Store: f.store}
	svc, err := New(Options{Store: broken, Clock: f.clock, KDF: testParams})
	require.NoError(t, err)

	broken.fail = true
	res, err := svc.Authenticate(testSecret)
	assert.ErrorIs(t, err, store.ErrStorageUnavailable)
	assert.False(t, res.OK)
	assert.True(t, svc.IsLocked())
}

func TestAuditTrail(t *testing.T) {
	f := setUp(t)
	f.svc.Lock()
	_, _ = f.svc.Authenticate(wrongGuess)
	_, err := f.svc.Authenticate(testSecret)
	require.NoError(t, err)

	events, err := f.audit.ListEvents(0, time.Time{})
	require.NoError(t, err)

	var ops []string
	for _, e := range events {
		ops = append(ops, e.Operation)
	}
	assert.Equal(t, []string{
		audit.OpSessionStart,
		audit.OpVaultSetup,
		audit.OpVaultLock,
		audit.OpAuthFailed,
		audit.OpSessionStart,
		audit.OpAuthSuccess,
	}, ops)

	result, err := f.audit.Verify()
	require.NoError(t, err)
	assert.True(t, result.Valid, "%v", result.Errors)
}

func TestRecordsAreEncrypted(t *testing.T) {
	f := setUp(t)
	_, err := f.svc.AddRecord(Record{Website: "bank.example", Username: "alice", Password: "hunter2-secret"})
	require.NoError(t, err)

	raw, ok, err := f.store.Get(recordsKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, raw, "hunter2-secret")
	assert.NotContains(t, raw, "bank.example")
}

func TestRecordCRUD(t *testing.T) {
	f := setUp(t)

	rec, err := f.svc.AddRecord(Record{Website: "  example.com ", Username: "alice", Password: " pw with spaces ", Notes: "work"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "example.com", rec.Website)
	assert.Equal(t, " pw with spaces ", rec.Password, "passwords are stored verbatim")
	assert.Equal(t, epoch, rec.CreatedAt)

	got, err := f.svc.GetRecord(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	f.clock.Advance(time.Minute)
	rec.Username = "bob"
	updated, err := f.svc.UpdateRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, "bob", updated.Username)
	assert.Equal(t, epoch, updated.CreatedAt)
	assert.Equal(t, epoch.Add(time.Minute), updated.LastModified)

	require.NoError(t, f.svc.DeleteRecord(rec.ID))
	_, err = f.svc.GetRecord(rec.ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.ErrorIs(t, f.svc.DeleteRecord(rec.ID), ErrRecordNotFound)

	_, err = f.svc.UpdateRecord(rec)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestRecordValidation(t *testing.T) {
	f := setUp(t)

	tests := []struct {
		rec   Record
		field string
	}{
		{Record{Username: "a", Password: "p"}, "website"},
		{Record{Website: "w", Username: "  ", Password: "p"}, "username"},
		{Record{Website: "w", Username: "a"}, "password"},
		{Record{Website: "w", Username: "a", Password: "p", Notes: strings.Repeat("n", MaxNotesSize+1)}, "notes"},
	}
	for _, tt := range tests {
		_, err := f.svc.AddRecord(tt.rec)
		var ve *ValidationError
		require.True(t, errors.As(err, &ve), "got %v", err)
		assert.Equal(t, tt.field, ve.Field)
	}
}

func TestRecordsRequireUnlock(t *testing.T) {
	f := setUp(t)
	f.svc.Lock()

	_, err := f.svc.AddRecord(Record{Website: "w", Username: "u", Password: "p"})
	assert.ErrorIs(t, err, ErrVaultLocked)
	_, err = f.svc.ListRecords()
	assert.ErrorIs(t, err, ErrVaultLocked)
	_, err = f.svc.SearchRecords("w")
	assert.ErrorIs(t, err, ErrVaultLocked)
}

func TestSearchRecords(t *testing.T) {
	f := setUp(t)
	for _, r := range []Record{
		{Website: "GitHub.com", Username: "alice", Password: "p1"},
		{Website: "example.org", Username: "Bob", Password: "p2", Notes: "shared with GITHUB team"},
		{Website: "bank.example", Username: "carol", Password: "p3"},
	} {
		_, err := f.svc.AddRecord(r)
		require.NoError(t, err)
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"github", []string{"GitHub.com", "example.org"}},
		{"BOB", []string{"example.org"}},
		{"example", []string{"example.org", "bank.example"}},
		{"", []string{"GitHub.com", "example.org", "bank.example"}},
		{"nothing", nil},
	}
	for _, tt := range tests {
		got, err := f.svc.SearchRecords(tt.query)
		require.NoError(t, err)
		var sites []string
		for _, r := range got {
			sites = append(sites, r.Website)
		}
		assert.Equal(t, tt.want, sites, "query %q", tt.query)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	f := setUp(t)
	_, err := f.svc.AddRecord(Record{Website: "a.example", Username: "alice", Password: "p1"})
	require.NoError(t, err)
	_, err = f.svc.AddRecord(Record{Website: "b.example", Username: "bob", Password: "p2"})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := f.svc.Export(&buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var doc ExportFile
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, ExportVersion, doc.Version)
	assert.Equal(t, epoch, doc.ExportDate)
	assert.Len(t, doc.Passwords, 2)

	other := setUp(t)
	n, err = other.svc.Import(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := other.svc.ListRecords()
	require.NoError(t, err)
	assert.Equal(t, doc.Passwords, records)
}

func TestImportMergesAndFillsMissingFields(t *testing.T) {
	f := setUp(t)
	existing, err := f.svc.AddRecord(Record{Website: "kept.example", Username: "u", Password: "p"})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	legacy := `[
		{"id": 1700000000000, "website": "old.example", "username": "alice", "password": "p1",
		 "createdAt": "2023-11-14T22:13:20.000Z", "lastModified": "2023-11-15T10:00:00.000Z"},
		{"website": "new.example", "username": "bob", "password": "p2"},
		{"id": "` + existing.ID + `", "website": "dup.example", "username": "carol", "password": "p3"}
	]`
	n, err := f.svc.Import(strings.NewReader(legacy))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	records, err := f.svc.ListRecords()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, existing, records[0], "existing records are kept")

	assert.Equal(t, "1700000000000", records[1].ID)
	assert.Equal(t, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC), records[1].CreatedAt)

	assert.NotEmpty(t, records[2].ID)
	assert.Equal(t, epoch.Add(time.Hour), records[2].CreatedAt)
	assert.Equal(t, records[2].CreatedAt, records[2].LastModified)

	assert.NotEqual(t, existing.ID, records[3].ID, "colliding ids are replaced")
}

func TestImportRejectsInvalidFiles(t *testing.T) {
	f := setUp(t)

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"not json", "passwords"},
		{"object without passwords", `{"version":"1.0"}`},
		{"passwords not array", `{"passwords":{}}`},
		{"missing required field", `[{"website":"w","username":"u"}]`},
		{"bad id", `[{"id":true,"website":"w","username":"u","password":"p"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Import(strings.NewReader(tt.input))
			assert.ErrorIs(t, err, ErrInvalidImport)
		})
	}

	records, err := f.svc.ListRecords()
	require.NoError(t, err)
	assert.Empty(t, records, "a rejected import saves nothing")
}

func TestBackupRestore(t *testing.T) {
	f := setUp(t)
	_, err := f.svc.AddRecord(Record{Website: "a.example", Username: "alice", Password: "secret-p1"})
	require.NoError(t, err)

	key := backup.Key{Password: []byte("backup password"), KDF: testParams}
	var buf bytes.Buffer
	n, err := f.svc.Backup(&buf, key)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotContains(t, buf.String(), "secret-p1")

	other := setUp(t)
	_, err = other.svc.Restore(bytes.NewReader(buf.Bytes()), backup.Key{Password: []byte("wrong")})
	assert.ErrorIs(t, err, backup.ErrIntegrityFailed)

	n, err = other.svc.Restore(bytes.NewReader(buf.Bytes()), key)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	records, err := other.svc.ListRecords()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "secret-p1", records[0].Password)
}

func TestBackupRequiresUnlock(t *testing.T) {
	f := setUp(t)
	f.svc.Lock()

	_, err := f.svc.Backup(&bytes.Buffer{}, backup.Key{Password: []byte("pw"), KDF: testParams})
	assert.ErrorIs(t, err, ErrVaultLocked)
	_, err = f.svc.Restore(strings.NewReader(""), backup.Key{Password: []byte("pw")})
	assert.ErrorIs(t, err, ErrVaultLocked)
}

func TestImportRecords(t *testing.T) {
	f := setUp(t)
	created := time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC)

	n, err := f.svc.ImportRecords([]Record{
		{Website: " bitwarden.example ", Username: "alice", Password: "p1", CreatedAt: created},
		{Website: "other.example", Username: "bob", Password: "p2"},
	}, "bitwarden")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := f.svc.ListRecords()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "bitwarden.example", records[0].Website)
	assert.Equal(t, created, records[0].CreatedAt)
	assert.Equal(t, created, records[0].LastModified)
	assert.Equal(t, epoch, records[1].CreatedAt)
	assert.NotEmpty(t, records[1].ID)

	_, err = f.svc.ImportRecords([]Record{{Website: "w", Username: "u"}}, "lastpass")
	assert.ErrorIs(t, err, ErrInvalidImport)
}

func TestValidateMasterPassword(t *testing.T) {
	tests := []struct {
		secret   string
		valid    bool
		warnings int
	}{
		{"short", false, 1},
		{"abcde", false, 1},
		{"abcdef", true, 2},
		{strings.Repeat("a", 128), true, 0},
		{strings.Repeat("a", 129), false, 1},
		{"abcdefgh", true, 2},
		{"Abcdefgh1!", true, 1},
		{"Abcdefgh1!xyz", true, 0},
	}
	for _, tt := range tests {
		r := ValidateMasterPassword(tt.secret)
		assert.Equal(t, tt.valid, r.Valid, "secret %q", tt.secret)
		assert.Len(t, r.Warnings, tt.warnings, "secret %q: %v", tt.secret, r.Warnings)
	}
}

type brokenStore struct {
	store.Store
	fail bool
}

func (b *brokenStore) Get(key string) (string, bool, error) {
	if b.fail {
		return "", false, store.ErrStorageUnavailable
	}
	return b.Store.Get(key)
}
