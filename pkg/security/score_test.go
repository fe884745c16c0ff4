package security

import (
	"testing"
	"time"

	"github.com/forest6511/pwvault/pkg/password"
	"github.com/forest6511/pwvault/pkg/vault"
)

var (
	now    = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	recent = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	stale  = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
)

func rec(id, site, pw string, modified time.Time) vault.Record {
	return vault.Record{ID: id, Website: site, Username: "u", Password: pw, LastModified: modified}
}

func sampleRecords() []vault.Record {
	return []vault.Record{
		rec("1", "a.example", "Abcdef1!23456", recent),
		rec("2", "b.example", "aaaaaaaaaaaa", recent),
		rec("3", "c.example", "Passw0rd", stale),
		rec("4", "d.example", "abc", recent),
		rec("5", "e.example", "Abcdef1!23456", recent),
	}
}

func TestPoints(t *testing.T) {
	tests := []struct {
		c    password.Category
		want int
	}{
		{password.Weak, 0},
		{password.Medium, 13},
		{password.Strong, 27},
		{password.VeryStrong, 40},
		{password.Category(99), 0},
	}
	for _, tt := range tests {
		if got := Points(tt.c); got != tt.want {
			t.Errorf("Points(%v) = %d, want %d", tt.c, got, tt.want)
		}
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	a := NewAnalyzer()
	defer a.Close()

	report, err := a.Analyze(nil, Options{Now: now})
	if err != nil {
		t.Fatal(err)
	}
	if report.Overall != 100 {
		t.Errorf("Overall = %d, want 100", report.Overall)
	}
	if len(report.Issues) != 0 || report.Issues == nil {
		t.Errorf("Issues = %v, want empty non-nil", report.Issues)
	}
}

func TestAnalyze(t *testing.T) {
	a := NewAnalyzer()
	defer a.Close()

	report, err := a.Analyze(sampleRecords(), Options{Now: now, IncludeDetails: true})
	if err != nil {
		t.Fatal(err)
	}

	want := ScoreComponents{StrengthScore: 26, UniquenessScore: 32, FreshnessScore: 16}
	if report.Components != want {
		t.Errorf("Components = %+v, want %+v", report.Components, want)
	}
	if report.Overall != 74 {
		t.Errorf("Overall = %d, want 74", report.Overall)
	}
	if report.RecordCount != 5 {
		t.Errorf("RecordCount = %d", report.RecordCount)
	}

	if len(report.Issues) != 3 {
		t.Fatalf("got %d issues, want 3: %+v", len(report.Issues), report.Issues)
	}

	weak := report.Issues[0]
	if weak.Type != IssueWeakPassword || weak.Severity != SeverityCritical || weak.RecordIDs[0] != "4" {
		t.Errorf("weak issue = %+v", weak)
	}
	if weak.Description != "Password strength is Weak (22/100)" {
		t.Errorf("weak description = %q", weak.Description)
	}

	dup := report.Issues[1]
	if dup.Type != IssueDuplicatePassword || len(dup.RecordIDs) != 2 || dup.RecordIDs[0] != "1" || dup.RecordIDs[1] != "5" {
		t.Errorf("duplicate issue = %+v", dup)
	}

	old := report.Issues[2]
	if old.Type != IssueOldPassword || old.Websites[0] != "c.example" {
		t.Errorf("old issue = %+v", old)
	}
	if old.Description != "Password unchanged for 882 days" {
		t.Errorf("old description = %q", old.Description)
	}

	if len(report.Suggestions) != 3 {
		t.Errorf("Suggestions = %v", report.Suggestions)
	}
}

func TestAnalyzeWithoutDetails(t *testing.T) {
	a := NewAnalyzer()
	defer a.Close()

	report, err := a.Analyze(sampleRecords(), Options{Now: now})
	if err != nil {
		t.Fatal(err)
	}
	for _, issue := range report.Issues {
		if len(issue.RecordIDs) != 0 || len(issue.Websites) != 0 {
			t.Errorf("issue %s leaks details: %+v", issue.Type, issue)
		}
	}
}

func TestAnalyzeLimit(t *testing.T) {
	a := NewAnalyzer()
	defer a.Close()

	records := []vault.Record{
		rec("1", "a", "abc", recent),
		rec("2", "b", "xyz", recent),
		rec("3", "c", "Abcdef1!23456", recent),
	}
	report, err := a.Analyze(records, Options{Now: now, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !report.Limited {
		t.Error("Limited should be set")
	}
	if len(report.Issues) != 1 {
		t.Errorf("got %d issues, want 1", len(report.Issues))
	}
}

func TestAnalyzeMaxAge(t *testing.T) {
	a := NewAnalyzer()
	defer a.Close()

	records := []vault.Record{rec("1", "a", "Abcdef1!23456", recent)}
	report, err := a.Analyze(records, Options{Now: now, MaxAge: 7 * 24 * time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if report.Components.FreshnessScore != 0 {
		t.Errorf("FreshnessScore = %d, want 0", report.Components.FreshnessScore)
	}
}

func TestFindDuplicates(t *testing.T) {
	a := NewAnalyzer()
	defer a.Close()

	records := []vault.Record{
		rec("1", "a", "caf\u00e9-pass", recent),
		rec("2", "b", " cafe\u0301-pass ", recent),
		rec("3", "c", "other", recent),
		rec("4", "d", "x", recent),
		rec("5", "e", "x", recent),
		rec("6", "f", "x", recent),
	}

	groups, err := a.FindDuplicates(records, true, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2: %+v", len(groups), groups)
	}
	if groups[0].Count != 3 || groups[1].Count != 2 {
		t.Errorf("groups not sorted by count: %+v", groups)
	}
	if groups[1].RecordIDs[0] != "1" || groups[1].RecordIDs[1] != "2" {
		t.Errorf("normalized duplicates not grouped: %+v", groups[1])
	}

	limited, err := a.FindDuplicates(records, false, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].RecordIDs != nil {
		t.Errorf("limited = %+v", limited)
	}
}

func TestComputeValueHashKeyed(t *testing.T) {
	h1 := computeValueHash("pw", []byte("key-1"))
	h2 := computeValueHash("pw", []byte("key-2"))
	if h1 == h2 {
		t.Error("hashes under different keys should differ")
	}
	if h1 != computeValueHash("pw", []byte("key-1")) {
		t.Error("hash should be deterministic")
	}
}
