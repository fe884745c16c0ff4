package vault

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/forest6511/pwvault/pkg/audit"
	"github.com/forest6511/pwvault/pkg/backup"
	"github.com/forest6511/pwvault/pkg/crypto"
)

// ExportVersion is the version written to export files.
const ExportVersion = "1.0"

// MaxImportSize bounds an import file.
const MaxImportSize = 16 * 1024 * 1024

// ExportFile is the JSON document written by Export and read by Import.
type ExportFile struct {
	Passwords  []Record  `json:"passwords"`
	ExportDate time.Time `json:"exportDate"`
	Version    string    `json:"version"`
}

// importRecord tolerates files written by older versions, where ids were
// numbers and timestamps could be missing.
type importRecord struct {
	ID           json.RawMessage `json:"id"`
	Website      string          `json:"website"`
	Username     string          `json:"username"`
	Password     string          `json:"password"`
	Notes        string          `json:"notes"`
	CreatedAt    string          `json:"createdAt"`
	LastModified string          `json:"lastModified"`
}

// Export writes every record as an indented ExportFile. The output contains
// the passwords in clear text.
func (s *Service) Export(w io.Writer) (int, error) {
	data, n, err := s.exportDocument()
	if err != nil {
		return 0, err
	}
	defer crypto.SecureWipe(data)
	if _, err := w.Write(data); err != nil {
		return 0, fmt.Errorf("vault: failed to write export: %w", err)
	}
	s.mu.Lock()
	s.event(audit.OpExport, "", map[string]any{"count": n})
	s.mu.Unlock()
	return n, nil
}

// Backup writes the export document into an encrypted backup file.
func (s *Service) Backup(w io.Writer, key backup.Key) (int, error) {
	data, n, err := s.exportDocument()
	if err != nil {
		return 0, err
	}
	defer crypto.SecureWipe(data)

	err = backup.Write(w, data, backup.Options{
		Key:         key,
		CreatedAt:   s.clock.Now(),
		RecordCount: n,
	})
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.event(audit.OpExport, "", map[string]any{"count": n, "encrypted": true})
	s.mu.Unlock()
	return n, nil
}

// Restore decrypts a backup file and imports its records like Import.
func (s *Service) Restore(r io.Reader, key backup.Key) (int, error) {
	if err := s.TouchSession(); err != nil {
		return 0, err
	}
	_, payload, err := backup.Read(r, key)
	if err != nil {
		return 0, err
	}
	defer crypto.SecureWipe(payload)
	return s.Import(bytes.NewReader(payload))
}

// exportDocument encodes the ExportFile for the current records.
func (s *Service) exportDocument() ([]byte, int, error) {
	if err := s.TouchSession(); err != nil {
		return nil, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return nil, 0, err
	}

	records, err := s.loadRecords()
	if err != nil {
		return nil, 0, err
	}
	if records == nil {
		records = []Record{}
	}

	doc := ExportFile{
		Passwords:  records,
		ExportDate: s.clock.Now().UTC(),
		Version:    ExportVersion,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, 0, fmt.Errorf("vault: failed to encode export: %w", err)
	}
	return append(data, '\n'), len(records), nil
}

// Import reads an ExportFile, or a bare JSON array of records, and appends
// its records to the existing ones. Missing ids and timestamps are filled
// in. Nothing is saved unless every record is valid.
func (s *Service) Import(r io.Reader) (int, error) {
	if err := s.TouchSession(); err != nil {
		return 0, err
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxImportSize+1))
	if err != nil {
		return 0, fmt.Errorf("vault: failed to read import: %w", err)
	}
	if len(data) > MaxImportSize {
		return 0, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidImport, MaxImportSize)
	}

	incoming, err := parseImport(data)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now().UTC()
	records := make([]Record, 0, len(incoming))
	for i, in := range incoming {
		rec, err := in.toRecord(now)
		if err != nil {
			return 0, fmt.Errorf("%w: record %d: %v", ErrInvalidImport, i, err)
		}
		records = append(records, rec)
	}
	return s.merge(records, "json")
}

// ImportRecords appends records converted from another password manager's
// export. Like Import it fills in missing ids and timestamps and saves
// nothing unless every record is valid.
func (s *Service) ImportRecords(records []Record, source string) (int, error) {
	if err := s.TouchSession(); err != nil {
		return 0, err
	}

	now := s.clock.Now().UTC()
	prepared := make([]Record, 0, len(records))
	for i, rec := range records {
		rec.normalize()
		if err := rec.validate(); err != nil {
			return 0, fmt.Errorf("%w: record %d: %v", ErrInvalidImport, i, err)
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		if rec.LastModified.IsZero() {
			rec.LastModified = rec.CreatedAt
		}
		prepared = append(prepared, rec)
	}
	return s.merge(prepared, source)
}

// merge appends imported to the stored records, replacing ids that would
// collide.
func (s *Service) merge(imported []Record, source string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlockedLocked(); err != nil {
		return 0, err
	}

	existing, err := s.loadRecords()
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(existing)+len(imported))
	for _, rec := range existing {
		seen[rec.ID] = true
	}
	for i := range imported {
		if seen[imported[i].ID] {
			imported[i].ID = uuid.NewString()
		}
		seen[imported[i].ID] = true
	}

	if err := s.saveRecords(append(existing, imported...)); err != nil {
		return 0, err
	}
	s.event(audit.OpImport, "", map[string]any{"count": len(imported), "source": source})
	s.logger.Info("records imported")
	return len(imported), nil
}

// parseImport accepts {"passwords": [...]} or a bare array.
func parseImport(data []byte) ([]importRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidImport)
	}

	if data[0] == '[' {
		var list []importRecord
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidImport, err)
		}
		return list, nil
	}

	var doc struct {
		Passwords *[]importRecord `json:"passwords"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	if doc.Passwords == nil {
		return nil, fmt.Errorf("%w: no passwords array", ErrInvalidImport)
	}
	return *doc.Passwords, nil
}

func (in *importRecord) toRecord(now time.Time) (Record, error) {
	rec := Record{
		Website:  in.Website,
		Username: in.Username,
		Password: in.Password,
		Notes:    in.Notes,
	}
	rec.normalize()
	if err := rec.validate(); err != nil {
		return Record{}, err
	}

	id, err := parseID(in.ID)
	if err != nil {
		return Record{}, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	rec.ID = id

	rec.CreatedAt = parseTime(in.CreatedAt, now)
	rec.LastModified = parseTime(in.LastModified, rec.CreatedAt)
	return rec, nil
}

// parseID accepts a string or a number. Numbers keep their literal text.
func parseID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("id must be a string or number")
	}
	if n.String() == "0" {
		return "", nil
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return "", fmt.Errorf("id must be a string or number")
	}
	return n.String(), nil
}

// parseTime reads an RFC 3339 timestamp, falling back when it is missing or
// unreadable.
func parseTime(v string, fallback time.Time) time.Time {
	if v == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return fallback
	}
	return t.UTC()
}
