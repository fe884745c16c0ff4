package vault

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/pwvault/pkg/audit"
	"github.com/forest6511/pwvault/pkg/crypto"
)

const recordsKey = "records"

// Record limits
const (
	MaxFieldLength = 1024
	MaxNotesSize   = 10 * 1024
)

// Record is one saved credential.
type Record struct {
	ID           string    `json:"id"`
	Website      string    `json:"website"`
	Username     string    `json:"username"`
	Password     string    `json:"password"`
	Notes        string    `json:"notes"`
	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
}

// normalize trims and NFC-normalizes the descriptive fields. The password
// is kept byte for byte.
func (r *Record) normalize() {
	r.Website = norm.NFC.String(strings.TrimSpace(r.Website))
	r.Username = norm.NFC.String(strings.TrimSpace(r.Username))
	r.Notes = norm.NFC.String(strings.TrimSpace(r.Notes))
}

// validate requires website, username and password.
func (r *Record) validate() error {
	switch {
	case r.Website == "":
		return invalid("website", "is required")
	case r.Username == "":
		return invalid("username", "is required")
	case r.Password == "":
		return invalid("password", "is required")
	}
	for field, v := range map[string]string{"website": r.Website, "username": r.Username, "password": r.Password} {
		if utf8.RuneCountInString(v) > MaxFieldLength {
			return invalid(field, "must be at most %d characters", MaxFieldLength)
		}
	}
	if len(r.Notes) > MaxNotesSize {
		return invalid("notes", "must be at most %d bytes", MaxNotesSize)
	}
	return nil
}

// matches reports whether query occurs, ignoring case, in the website,
// username or notes.
func (r *Record) matches(folded string) bool {
	fold := cases.Fold()
	return strings.Contains(fold.String(r.Website), folded) ||
		strings.Contains(fold.String(r.Username), folded) ||
		strings.Contains(fold.String(r.Notes), folded)
}

// loadRecords decrypts the record list. Caller holds s.mu with the vault
// unlocked.
func (s *Service) loadRecords() ([]Record, error) {
	raw, ok, err := s.store.Get(recordsKey)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read records: %w", err)
	}
	if !ok {
		return nil, nil
	}

	blob, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: records encoding: %v", ErrVaultCorrupted, err)
	}
	plain, err := crypto.Open(s.dek, blob)
	if err != nil {
		return nil, fmt.Errorf("%w: records: %v", ErrVaultCorrupted, err)
	}
	defer crypto.SecureWipe(plain)

	var records []Record
	if err := json.Unmarshal(plain, &records); err != nil {
		return nil, fmt.Errorf("%w: records: %v", ErrVaultCorrupted, err)
	}
	return records, nil
}

// saveRecords encrypts and stores the full record list.
func (s *Service) saveRecords(records []Record) error {
	if records == nil {
		records = []Record{}
	}
	plain, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("vault: failed to marshal records: %w", err)
	}
	defer crypto.SecureWipe(plain)

	blob, err := crypto.Seal(s.dek, plain)
	if err != nil {
		return fmt.Errorf("vault: failed to encrypt records: %w", err)
	}
	if err := s.store.Set(recordsKey, base64.StdEncoding.EncodeToString(blob)); err != nil {
		return fmt.Errorf("vault: failed to write records: %w", err)
	}
	return nil
}

// AddRecord saves a new record and returns it with its id and timestamps.
func (s *Service) AddRecord(r Record) (Record, error) {
	if err := s.TouchSession(); err != nil {
		return Record{}, err
	}

	r.normalize()
	if err := r.validate(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return Record{}, err
	}

	records, err := s.loadRecords()
	if err != nil {
		return Record{}, err
	}

	now := s.clock.Now().UTC()
	r.ID = uuid.NewString()
	r.CreatedAt = now
	r.LastModified = now
	records = append(records, r)

	if err := s.saveRecords(records); err != nil {
		return Record{}, err
	}
	s.event(audit.OpRecordAdd, r.ID, nil)
	s.logger.Debug("record added")
	return r, nil
}

// GetRecord returns the record with id.
func (s *Service) GetRecord(id string) (Record, error) {
	if err := s.TouchSession(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return Record{}, err
	}

	records, err := s.loadRecords()
	if err != nil {
		return Record{}, err
	}
	i := indexOf(records, id)
	if i < 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	s.event(audit.OpRecordGet, id, nil)
	return records[i], nil
}

// UpdateRecord replaces the editable fields of the record with r.ID. The id
// and creation time are kept; LastModified is set to now.
func (s *Service) UpdateRecord(r Record) (Record, error) {
	if err := s.TouchSession(); err != nil {
		return Record{}, err
	}

	r.normalize()
	if err := r.validate(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return Record{}, err
	}

	records, err := s.loadRecords()
	if err != nil {
		return Record{}, err
	}
	i := indexOf(records, r.ID)
	if i < 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, r.ID)
	}

	r.CreatedAt = records[i].CreatedAt
	r.LastModified = s.clock.Now().UTC()
	records[i] = r

	if err := s.saveRecords(records); err != nil {
		return Record{}, err
	}
	s.event(audit.OpRecordUpdate, r.ID, nil)
	return r, nil
}

// DeleteRecord removes the record with id.
func (s *Service) DeleteRecord(id string) error {
	if err := s.TouchSession(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return err
	}

	records, err := s.loadRecords()
	if err != nil {
		return err
	}
	i := indexOf(records, id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}

	records = append(records[:i], records[i+1:]...)
	if err := s.saveRecords(records); err != nil {
		return err
	}
	s.event(audit.OpRecordDelete, id, nil)
	return nil
}

// ListRecords returns every record in insertion order.
func (s *Service) ListRecords() ([]Record, error) {
	if err := s.TouchSession(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return nil, err
	}

	records, err := s.loadRecords()
	if err != nil {
		return nil, err
	}
	s.event(audit.OpRecordList, "", map[string]any{"count": len(records)})
	return records, nil
}

// SearchRecords returns the records whose website, username or notes
// contain query, ignoring case. An empty query matches everything.
func (s *Service) SearchRecords(query string) ([]Record, error) {
	if err := s.TouchSession(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return nil, err
	}

	records, err := s.loadRecords()
	if err != nil {
		return nil, err
	}

	folded := cases.Fold().String(norm.NFC.String(strings.TrimSpace(query)))
	var matched []Record
	for i := range records {
		if records[i].matches(folded) {
			matched = append(matched, records[i])
		}
	}
	s.event(audit.OpRecordSearch, "", map[string]any{"matches": len(matched)})
	return matched, nil
}

// RecordCount returns the number of saved records.
func (s *Service) RecordCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return 0, err
	}
	records, err := s.loadRecords()
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func indexOf(records []Record, id string) int {
	for i := range records {
		if records[i].ID == id {
			return i
		}
	}
	return -1
}
