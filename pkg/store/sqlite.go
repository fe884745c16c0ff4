package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Constants
const (
	DBFileName   = "vault.db"
	LockFileName = "pwvault.lock"
	FileMode     = 0600 // Owner read/write only
	DirMode      = 0700 // Owner read/write/execute only

	// opTimeout bounds every storage call.
	opTimeout = 5 * time.Second
)

// errClosed is wrapped into ErrStorageUnavailable for calls after Close.
var errClosed = errors.New("store closed")

// kvEntry is a single row of the kv table.
type kvEntry struct {
	bun.BaseModel `bun:"table:kv"`

	Key       string    `bun:"key,pk"`
	Value     string    `bun:"value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// SQLite is a Store backed by a SQLite file inside the vault directory.
// Opening it takes an exclusive process lock on the directory, so at most
// one process mutates a vault at a time.
type SQLite struct {
	mu     sync.RWMutex
	dir    string
	db     *bun.DB
	lock   *os.File
	logger *zap.Logger
}

// OpenSQLite opens (creating if needed) the store in dir.
func OpenSQLite(dir string, logger *zap.Logger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(dir, DirMode); err != nil {
		return nil, unavailable("open", dir, err)
	}

	lock, err := acquireDirLock(filepath.Join(dir, LockFileName))
	if err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, DBFileName)
	sqlDB, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		releaseDirLock(lock)
		return nil, unavailable("open", dbPath, err)
	}

	// Single connection: the process lock already makes us the only writer.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	s := &SQLite{
		dir:    dir,
		db:     bun.NewDB(sqlDB, sqlitedialect.New()),
		lock:   lock,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if _, err := s.db.NewCreateTable().Model((*kvEntry)(nil)).IfNotExists().Exec(ctx); err != nil {
		s.Close()
		return nil, unavailable("create table", "kv", err)
	}

	if err := os.Chmod(dbPath, FileMode); err != nil {
		logger.Warn("failed to set database permissions", zap.String("path", dbPath), zap.Error(err))
	}

	logger.Debug("store opened", zap.String("path", dbPath))
	return s, nil
}

// Dir returns the vault directory.
func (s *SQLite) Dir() string {
	return s.dir
}

func (s *SQLite) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return "", false, unavailable("get", key, errClosed)
	}

	var e kvEntry
	err := s.db.NewSelect().Model(&e).Where("key = ?", key).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, unavailable("get", key, err)
	}
	return e.Value, true, nil
}

func (s *SQLite) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return unavailable("set", key, errClosed)
	}

	e := &kvEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	_, err := s.db.NewInsert().
		Model(e).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

func (s *SQLite) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return unavailable("delete", key, errClosed)
	}

	if _, err := s.db.NewDelete().Model((*kvEntry)(nil)).Where("key = ?", key).Exec(ctx); err != nil {
		return unavailable("delete", key, err)
	}
	return nil
}

// Keys returns every stored key in sorted order.
func (s *SQLite) Keys() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, unavailable("list", "*", errClosed)
	}

	var keys []string
	if err := s.db.NewSelect().Model((*kvEntry)(nil)).Column("key").Order("key ASC").Scan(ctx, &keys); err != nil {
		return nil, unavailable("list", "*", err)
	}
	return keys, nil
}

// Close closes the database and releases the directory lock.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.db != nil {
		if cerr := s.db.Close(); cerr != nil {
			err = fmt.Errorf("store: failed to close database: %w", cerr)
		}
		s.db = nil
	}
	if s.lock != nil {
		releaseDirLock(s.lock)
		s.lock = nil
	}
	return err
}
