package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/pwvault/pkg/crypto"
	"github.com/forest6511/pwvault/pkg/vault"
)

// DuplicateGroup represents a group of records sharing the same password.
type DuplicateGroup struct {
	// RecordIDs contains the ids of the records with the shared password.
	RecordIDs []string `json:"record_ids,omitempty"`
	// Websites contains the matching websites, in the same order.
	Websites []string `json:"websites,omitempty"`
	// Count is the number of records in the group.
	Count int `json:"count"`
}

// FindDuplicates groups records by password.
// Uses HMAC-SHA256 with a per-analyzer key for privacy-preserving comparison.
// Returns groups sorted by count (most duplicated first).
//
// Security properties:
//   - HMAC with a random key prevents offline guessing attacks
//   - Hashes are computed in memory, never persisted
//   - Values are normalized (trimmed whitespace, Unicode NFC)
func (a *Analyzer) FindDuplicates(records []vault.Record, includeDetails bool, limit int) ([]DuplicateGroup, error) {
	if err := a.ensureKey(); err != nil {
		return nil, err
	}

	hashGroups := make(map[string][]int)
	var order []string
	for i := range records {
		value := normalizeValue(records[i].Password)
		if value == "" {
			continue
		}
		hash := computeValueHash(value, a.hmacKey)
		if _, ok := hashGroups[hash]; !ok {
			order = append(order, hash)
		}
		hashGroups[hash] = append(hashGroups[hash], i)
	}

	var groups []DuplicateGroup
	for _, hash := range order {
		idx := hashGroups[hash]
		if len(idx) <= 1 {
			continue
		}
		group := DuplicateGroup{Count: len(idx)}
		if includeDetails {
			for _, i := range idx {
				group.RecordIDs = append(group.RecordIDs, records[i].ID)
				group.Websites = append(group.Websites, records[i].Website)
			}
		}
		groups = append(groups, group)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Count > groups[j].Count
	})

	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}
	return groups, nil
}

// uniqueCount returns the number of distinct non-empty passwords and the
// number of non-empty passwords.
func (a *Analyzer) uniqueCount(records []vault.Record) (unique, total int, err error) {
	if err := a.ensureKey(); err != nil {
		return 0, 0, err
	}
	seen := make(map[string]bool)
	for i := range records {
		value := normalizeValue(records[i].Password)
		if value == "" {
			continue
		}
		total++
		seen[computeValueHash(value, a.hmacKey)] = true
	}
	return len(seen), total, nil
}

func (a *Analyzer) ensureKey() error {
	if a.hmacKey != nil {
		return nil
	}
	key, err := crypto.RandomBytes(32)
	if err != nil {
		return err
	}
	a.hmacKey = key
	return nil
}

// computeValueHash computes HMAC-SHA256 of a value with the analyzer key.
func computeValueHash(value string, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeValue normalizes a password for comparison.
func normalizeValue(value string) string {
	return norm.NFC.String(strings.TrimSpace(value))
}
