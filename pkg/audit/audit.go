// Package audit records vault operations in an append-only JSONL log whose
// records are chained with HMAC-SHA256, so edits, deletions and reordering
// are detectable by Verify.
//
// The HMAC key is derived from the vault's data key, which only exists once
// the vault is unlocked. Events raised earlier (failed attempts, lockouts)
// are held in memory and written, in order, as soon as SetHMACKey is called.
package audit

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"

	"github.com/forest6511/pwvault/pkg/clock"
)

// Constants
const (
	MinAuditDiskSpace = 1024 * 1024 // 1 MB minimum for audit logs

	// MaxPending bounds the events buffered before the key is known.
	MaxPending = 256

	metaFileName = "audit.meta"
	genesis      = "genesis"
	hkdfInfo     = "pwvault-audit-v1"
)

// Operation types
const (
	OpVaultSetup     = "vault.setup"
	OpVaultLock      = "vault.lock"
	OpVaultReset     = "vault.reset"
	OpAuthSuccess    = "auth.success"
	OpAuthFailed     = "auth.failed"
	OpAuthLockedOut  = "auth.locked_out"
	OpSecretChange   = "secret.change"
	OpSessionStart   = "session.start"
	OpSessionExpired = "session.expired"
	OpSettingsUpdate = "settings.update"

	OpRecordAdd    = "record.add"
	OpRecordGet    = "record.get"
	OpRecordUpdate = "record.update"
	OpRecordDelete = "record.delete"
	OpRecordList   = "record.list"
	OpRecordSearch = "record.search"
	OpExport       = "records.export"
	OpImport       = "records.import"

	OpToolCall = "mcp.tool"
)

// Source identifies where the operation originated
const (
	SourceCLI   = "cli"
	SourceShell = "shell"
	SourceMCP   = "mcp"
)

// Result indicates the outcome of an operation
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultDenied  = "denied"
)

// ErrKeyNotSet is returned by operations that need the HMAC key.
var ErrKeyNotSet = errors.New("audit: HMAC key not set")

// Event is a single audit record.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"` // UUIDv7, time-sortable
	Timestamp string `json:"ts"` // RFC 3339, nanosecond precision

	Operation string `json:"op"`
	// Target is the HMAC of the record the operation touched, never the
	// record itself.
	Target string `json:"target,omitempty"`

	Source    string `json:"source"`
	SessionID string `json:"session_id"`

	Result string     `json:"result"`
	Error  *ErrorInfo `json:"error,omitempty"`

	Context map[string]any `json:"ctx,omitempty"`

	Chain Chain `json:"chain"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// chainState is persisted in audit.meta.
type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

// Logger writes chained audit events under a directory, one file per month.
type Logger struct {
	dir    string
	clock  clock.Clock
	logger *zap.Logger

	mu        sync.Mutex
	hmacKey   []byte
	sequence  int64
	prevHash  string
	sessionID string
	pending   []Event
}

// NewLogger returns a Logger writing to dir. A nil clock or logger falls back
// to the real clock and a no-op logger.
func NewLogger(dir string, c clock.Clock, logger *zap.Logger) *Logger {
	if c == nil {
		c = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{
		dir:       dir,
		clock:     c,
		logger:    logger,
		prevHash:  genesis,
		sessionID: uuid.NewString(),
	}
}

// Dir returns the audit log directory.
func (l *Logger) Dir() string {
	return l.dir
}

// SetHMACKey derives the chain key from the vault data key, loads the chain
// state and flushes any buffered events.
func (l *Logger) SetHMACKey(dataKey []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := make([]byte, 32)
	if _, err := hkdf.New(sha256.New, dataKey, nil, []byte(hkdfInfo)).Read(key); err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	l.hmacKey = key

	if err := l.loadChainState(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("audit chain state unreadable, starting new chain", zap.Error(err))
		}
		l.sequence = 0
		l.prevHash = genesis
	}

	pending := l.pending
	l.pending = nil
	for i := range pending {
		if err := l.appendLocked(&pending[i]); err != nil {
			return err
		}
	}
	return nil
}

// ClearKey forgets the HMAC key, as when the vault locks. Later events are
// buffered again.
func (l *Logger) ClearKey() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.hmacKey {
		l.hmacKey[i] = 0
	}
	l.hmacKey = nil
}

// Log records an event. target, if non-empty, is stored only as an HMAC.
func (l *Logger) Log(op, source, result, target string, errInfo *ErrorInfo, ctx map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	event := Event{
		Version:   1,
		ID:        id.String(),
		Timestamp: l.clock.Now().UTC().Format(time.RFC3339Nano),
		Operation: op,
		Source:    source,
		SessionID: l.sessionID,
		Result:    result,
		Error:     errInfo,
		Context:   ctx,
	}

	if l.hmacKey == nil {
		if target != "" {
			// Without a key the target cannot be hidden, so it is dropped.
			event.Context = withContext(event.Context, "target_redacted", true)
		}
		if len(l.pending) >= MaxPending {
			l.pending = l.pending[1:]
			l.logger.Warn("audit buffer full, dropping oldest event")
		}
		l.pending = append(l.pending, event)
		return nil
	}

	if target != "" {
		event.Target = l.mac([]byte(target))
	}
	return l.appendLocked(&event)
}

// LogSuccess is a convenience method for successful operations
func (l *Logger) LogSuccess(op, source, target string) error {
	return l.Log(op, source, ResultSuccess, target, nil, nil)
}

// LogError is a convenience method for failed operations
func (l *Logger) LogError(op, source, target, errCode, errMsg string) error {
	return l.Log(op, source, ResultError, target, &ErrorInfo{Code: errCode, Message: errMsg}, nil)
}

// LogDenied is a convenience method for denied operations
func (l *Logger) LogDenied(op, source, target, reason string) error {
	return l.Log(op, source, ResultDenied, target, nil, map[string]any{"reason": reason})
}

// Pending reports how many events are waiting for the key.
func (l *Logger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Purge deletes every log file and the chain state. Buffered events are
// kept. Used when the vault is reset, since the old chain key is gone.
func (l *Logger) Purge() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	files, err := l.logFiles()
	if err != nil {
		return err
	}
	files = append(files, filepath.Join(l.dir, metaFileName))
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("audit: failed to delete %s: %w", f, err)
		}
	}
	l.sequence = 0
	l.prevHash = genesis
	return nil
}

// appendLocked chains event and writes it. Caller holds l.mu.
func (l *Logger) appendLocked(event *Event) error {
	if err := os.MkdirAll(l.dir, 0700); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}
	if err := l.checkDiskSpace(); err != nil {
		return err
	}

	event.Chain.Sequence = l.sequence + 1
	event.Chain.PrevHash = l.prevHash
	event.Chain.HMAC = l.mac(recordData(event))

	if err := l.writeEvent(event); err != nil {
		return err
	}

	l.sequence = event.Chain.Sequence
	l.prevHash = event.Chain.HMAC
	return l.saveChainState()
}

func (l *Logger) mac(data []byte) string {
	m := hmac.New(sha256.New, l.hmacKey)
	m.Write(data)
	return hex.EncodeToString(m.Sum(nil))
}

// recordData is the canonical byte form covered by a record's HMAC.
func recordData(event *Event) []byte {
	errorData := ""
	if event.Error != nil {
		errorData = event.Error.Code + "|" + event.Error.Message
	}

	var ctx strings.Builder
	keys := make([]string, 0, len(event.Context))
	for k := range event.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		// JSON form survives the float64 round trip of decoded numbers.
		v, _ := json.Marshal(event.Context[k])
		fmt.Fprintf(&ctx, "%s=%s|", k, v)
	}

	return []byte(fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		event.Version,
		event.ID,
		event.Timestamp,
		event.Operation,
		event.Target,
		event.Source,
		event.SessionID,
		event.Result,
		errorData,
		ctx.String(),
		event.Chain.Sequence,
		event.Chain.PrevHash,
	))
}

// writeEvent appends to the month file of the event's timestamp.
func (l *Logger) writeEvent(event *Event) error {
	ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
	if err != nil {
		return fmt.Errorf("audit: bad timestamp: %w", err)
	}
	path := filepath.Join(l.dir, ts.Format("2006-01")+".jsonl")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.dir, metaFileName))
	if err != nil {
		return err
	}
	var st chainState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	l.sequence = st.Sequence
	l.prevHash = st.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.dir, metaFileName), data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// VerifyResult contains the results of chain verification
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors,omitempty"`
}

// Verify walks every record and checks sequence, linkage and HMAC.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return nil, ErrKeyNotSet
	}

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	expectedPrev := genesis
	var expectedSeq int64 = 1

	for i := range events {
		event := &events[i]
		result.RecordsTotal++

		if event.Chain.Sequence != expectedSeq {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"sequence gap at record %s: expected %d, got %d",
				event.ID, expectedSeq, event.Chain.Sequence))
		}
		if event.Chain.PrevHash != expectedPrev {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"chain broken at record %s", event.ID))
		}
		if !hmac.Equal([]byte(event.Chain.HMAC), []byte(l.mac(recordData(event)))) {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"HMAC mismatch at record %s: possible tampering", event.ID))
		} else {
			result.RecordsVerified++
		}

		expectedPrev = event.Chain.HMAC
		expectedSeq = event.Chain.Sequence + 1
	}

	return result, nil
}

// ListEvents returns the most recent events, oldest first.
// limit: maximum number of events to return (0 = all)
// since: only return events after this time (zero = no filter)
func (l *Logger) ListEvents(limit int, since time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	filtered := events
	if !since.IsZero() {
		filtered = filtered[:0:0]
		for _, event := range events {
			ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
			if err != nil {
				continue
			}
			if ts.After(since) {
				filtered = append(filtered, event)
			}
		}
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered, nil
}

// Prune deletes whole month files whose events are all older than
// olderThan, returning the number of events removed. Pruning breaks the
// chain from genesis, so Verify reports the first remaining record.
func (l *Logger) Prune(olderThan time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.clock.Now().Add(-olderThan)
	files, err := l.logFiles()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return deleted, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		allOld := true
		for _, event := range events {
			ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
			if err != nil || !ts.Before(cutoff) {
				allOld = false
				break
			}
		}
		if !allOld {
			continue
		}
		if err := os.Remove(file); err != nil {
			return deleted, fmt.Errorf("audit: failed to delete %s: %w", file, err)
		}
		deleted += len(events)
	}

	if deleted > 0 {
		l.logger.Info("audit log pruned", zap.Int("events", deleted), zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}

func (l *Logger) logFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM.jsonl sorts chronologically.
	sort.Strings(files)
	return files, nil
}

func (l *Logger) readAll() ([]Event, error) {
	files, err := l.logFiles()
	if err != nil {
		return nil, err
	}
	var all []Event
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		all = append(all, events...)
	}
	return all, nil
}

func readLogFile(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var events []Event
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("failed to parse line: %w", err)
		}
		events = append(events, event)
	}
	return events, sc.Err()
}

func withContext(ctx map[string]any, k string, v any) map[string]any {
	if ctx == nil {
		ctx = make(map[string]any, 1)
	}
	ctx[k] = v
	return ctx
}
