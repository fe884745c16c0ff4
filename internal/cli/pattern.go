// Package cli provides shared utilities for CLI commands.
package cli

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forest6511/pwvault/pkg/vault"
)

// ExpandPattern expands a glob pattern against website names.
// If the pattern contains glob characters (*?[), it performs glob matching.
// Otherwise, it performs exact matching. Both ignore ASCII case.
func ExpandPattern(pattern string, websites []string) ([]string, error) {
	pattern = strings.ToLower(pattern)

	// Validate pattern syntax
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
	}

	if !strings.ContainsAny(pattern, "*?[") {
		var exact []string
		for _, site := range websites {
			if strings.ToLower(site) == pattern {
				exact = append(exact, site)
			}
		}
		if len(exact) == 0 {
			return nil, fmt.Errorf("website '%s' not found", pattern)
		}
		return exact, nil
	}

	var matches []string
	for _, site := range websites {
		matched, err := filepath.Match(pattern, strings.ToLower(site))
		if err != nil {
			return nil, err
		}
		if matched {
			matches = append(matches, site)
		}
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("no websites match pattern '%s'", pattern)
	}
	return matches, nil
}

// MatchRecords returns the records whose website matches any of patterns,
// in vault order. Every pattern must match at least one record.
func MatchRecords(patterns []string, records []vault.Record) ([]vault.Record, error) {
	websites := make([]string, 0, len(records))
	seenSite := make(map[string]bool)
	for _, r := range records {
		if !seenSite[r.Website] {
			seenSite[r.Website] = true
			websites = append(websites, r.Website)
		}
	}

	wanted := make(map[string]bool)
	for _, pattern := range patterns {
		matches, err := ExpandPattern(pattern, websites)
		if err != nil {
			return nil, err
		}
		for _, site := range matches {
			wanted[site] = true
		}
	}

	var result []vault.Record
	for _, r := range records {
		if wanted[r.Website] {
			result = append(result, r)
		}
	}
	return result, nil
}

// SortRecords returns a copy of records ordered by website, then username.
func SortRecords(records []vault.Record) []vault.Record {
	sorted := make([]vault.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := strings.ToLower(sorted[i].Website), strings.ToLower(sorted[j].Website)
		if a != b {
			return a < b
		}
		return strings.ToLower(sorted[i].Username) < strings.ToLower(sorted[j].Username)
	})
	return sorted
}
