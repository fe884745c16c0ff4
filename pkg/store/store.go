// Package store provides the durable key-value storage the vault core is
// built on. Values are opaque strings; callers own their encoding.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Errors
var (
	// ErrStorageUnavailable is wrapped by every storage failure. The core
	// treats it as fatal for the attempted operation.
	ErrStorageUnavailable = errors.New("store: storage unavailable")

	// ErrStoreBusy means another process holds the vault directory lock.
	ErrStoreBusy = fmt.Errorf("%w: vault is in use by another process", ErrStorageUnavailable)
)

// Store is the contract between the vault core and persistence.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(key string) (value string, ok bool, err error)
	// Set creates or replaces the value for key.
	Set(key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	Keys() ([]string, error)
}

// unavailable wraps err so that errors.Is(err, ErrStorageUnavailable) holds.
func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: %s %q: %v", ErrStorageUnavailable, op, key, err)
}

// Memory is an in-process Store. It does not survive restarts and is meant
// for tests and ephemeral vaults.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Keys returns all keys in sorted order.
func (m *Memory) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
