package cli

import (
	"testing"

	"github.com/forest6511/pwvault/pkg/vault"
)

func TestExpandPattern(t *testing.T) {
	websites := []string{
		"github.com",
		"gitlab.com",
		"mail.google.com",
		"drive.google.com",
		"Example.org",
	}

	tests := []struct {
		name     string
		pattern  string
		expected []string
		wantErr  bool
	}{
		{
			name:     "exact match",
			pattern:  "github.com",
			expected: []string{"github.com"},
		},
		{
			name:     "exact match ignores case",
			pattern:  "example.ORG",
			expected: []string{"Example.org"},
		},
		{
			name:     "wildcard prefix",
			pattern:  "git*",
			expected: []string{"github.com", "gitlab.com"},
		},
		{
			name:     "wildcard suffix",
			pattern:  "*.google.com",
			expected: []string{"mail.google.com", "drive.google.com"},
		},
		{
			name:     "question mark",
			pattern:  "git???.com",
			expected: []string{"github.com", "gitlab.com"},
		},
		{
			name:     "match all",
			pattern:  "*",
			expected: websites,
		},
		{
			name:    "no match glob",
			pattern: "*.net",
			wantErr: true,
		},
		{
			name:    "no match exact",
			pattern: "bitbucket.org",
			wantErr: true,
		},
		{
			name:    "invalid pattern",
			pattern: "[invalid",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := ExpandPattern(tc.pattern, websites)

			if tc.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if len(result) != len(tc.expected) {
				t.Errorf("got %v, want %v", result, tc.expected)
				return
			}

			for _, exp := range tc.expected {
				found := false
				for _, r := range result {
					if r == exp {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("missing expected website: %s", exp)
				}
			}
		})
	}
}

func TestMatchRecords(t *testing.T) {
	records := []vault.Record{
		{ID: "1", Website: "github.com", Username: "alice"},
		{ID: "2", Website: "gitlab.com", Username: "alice"},
		{ID: "3", Website: "github.com", Username: "bob"},
		{ID: "4", Website: "example.org", Username: "carol"},
	}

	tests := []struct {
		name     string
		patterns []string
		wantIDs  []string
		wantErr  bool
	}{
		{
			name:     "single website with two records",
			patterns: []string{"github.com"},
			wantIDs:  []string{"1", "3"},
		},
		{
			name:     "overlapping patterns",
			patterns: []string{"git*", "github.com"},
			wantIDs:  []string{"1", "2", "3"},
		},
		{
			name:     "vault order kept",
			patterns: []string{"example.org", "gitlab.com"},
			wantIDs:  []string{"2", "4"},
		},
		{
			name:     "one pattern without match",
			patterns: []string{"github.com", "*.net"},
			wantErr:  true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := MatchRecords(tc.patterns, records)

			if tc.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(result) != len(tc.wantIDs) {
				t.Fatalf("got %d records, want %d", len(result), len(tc.wantIDs))
			}
			for i, r := range result {
				if r.ID != tc.wantIDs[i] {
					t.Errorf("position %d: got %s, want %s", i, r.ID, tc.wantIDs[i])
				}
			}
		})
	}
}

func TestSortRecords(t *testing.T) {
	input := []vault.Record{
		{ID: "1", Website: "Zeta.io", Username: "a"},
		{ID: "2", Website: "alpha.io", Username: "zed"},
		{ID: "3", Website: "alpha.io", Username: "Bob"},
	}
	result := SortRecords(input)

	// Check original is unchanged
	if input[0].ID != "1" {
		t.Error("original slice was modified")
	}

	expected := []string{"3", "2", "1"}
	for i, r := range result {
		if r.ID != expected[i] {
			t.Errorf("position %d: got %s, want %s", i, r.ID, expected[i])
		}
	}
}
