package security

import (
	"strconv"
	"time"

	"github.com/forest6511/pwvault/pkg/crypto"
	"github.com/forest6511/pwvault/pkg/password"
	"github.com/forest6511/pwvault/pkg/vault"
)

// Component maxima. Together they sum to 100.
const (
	maxStrength   = 40
	maxUniqueness = 40
	maxFreshness  = 20
)

// DefaultMaxAge is how long a password may go unchanged before it is
// reported as old.
const DefaultMaxAge = 365 * 24 * time.Hour

// Report represents the overall security assessment of the saved records.
type Report struct {
	// Overall is the total score (0-100).
	Overall int `json:"overall"`
	// Components breaks down the score into categories.
	Components ScoreComponents `json:"components"`
	// RecordCount is the number of records analyzed.
	RecordCount int `json:"record_count"`
	// Issues contains the detected security issues.
	Issues []Issue `json:"issues"`
	// Suggestions provides actionable recommendations.
	Suggestions []string `json:"suggestions"`
	// Limited indicates issues were cut to Options.Limit per type.
	Limited bool `json:"limited"`
}

// ScoreComponents breaks down the security score into categories.
type ScoreComponents struct {
	// StrengthScore is based on average password strength (0-40).
	StrengthScore int `json:"strength"`
	// UniquenessScore is based on percentage of unique passwords (0-40).
	UniquenessScore int `json:"uniqueness"`
	// FreshnessScore is based on percentage of recently changed passwords (0-20).
	FreshnessScore int `json:"freshness"`
}

// IssueType identifies the type of security issue.
type IssueType string

const (
	// IssueWeakPassword indicates a password scoring below Strong.
	IssueWeakPassword IssueType = "weak"
	// IssueDuplicatePassword indicates a password reused across records.
	IssueDuplicatePassword IssueType = "duplicate"
	// IssueOldPassword indicates a password unchanged for longer than MaxAge.
	IssueOldPassword IssueType = "old"
)

// Severity indicates the urgency of a security issue.
type Severity string

const (
	// SeverityCritical requires immediate attention.
	SeverityCritical Severity = "critical"
	// SeverityWarning should be addressed soon.
	SeverityWarning Severity = "warning"
	// SeverityInfo is informational only.
	SeverityInfo Severity = "info"
)

// Issue represents a detected security problem.
type Issue struct {
	// Type identifies the category of issue.
	Type IssueType `json:"type"`
	// Severity indicates urgency.
	Severity Severity `json:"severity"`
	// RecordIDs are the affected records (omitted unless details are requested).
	RecordIDs []string `json:"record_ids,omitempty"`
	// Websites are the affected websites (omitted unless details are requested).
	Websites []string `json:"websites,omitempty"`
	// Description explains the issue.
	Description string `json:"description"`
	// Suggestion provides remediation guidance.
	Suggestion string `json:"suggestion,omitempty"`
}

// Options configures Analyze.
type Options struct {
	// Now is the reference time for age checks. Zero means time.Now.
	Now time.Time
	// MaxAge defaults to DefaultMaxAge.
	MaxAge time.Duration
	// IncludeDetails adds record ids and websites to issues.
	IncludeDetails bool
	// Limit caps the issues reported per type (0 = unlimited).
	Limit int
}

// Analyzer computes security reports. Its duplicate-detection key lives
// only as long as the Analyzer.
type Analyzer struct {
	hmacKey []byte
}

// NewAnalyzer creates a new analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Close wipes the duplicate-detection key.
func (a *Analyzer) Close() {
	if a.hmacKey != nil {
		crypto.SecureWipe(a.hmacKey)
		a.hmacKey = nil
	}
}

// Analyze computes the full security report for records.
func (a *Analyzer) Analyze(records []vault.Record, opts Options) (*Report, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}

	// Empty vault: perfect score
	if len(records) == 0 {
		return &Report{
			Overall: 100,
			Components: ScoreComponents{
				StrengthScore:   maxStrength,
				UniquenessScore: maxUniqueness,
				FreshnessScore:  maxFreshness,
			},
			Issues:      []Issue{},
			Suggestions: []string{},
		}, nil
	}

	strengthScore, weakIssues := a.strengthScore(records, opts)
	uniquenessScore, dupIssues, err := a.uniquenessScore(records, opts)
	if err != nil {
		return nil, err
	}
	freshnessScore, oldIssues := a.freshnessScore(records, opts)

	var limited bool
	issues := make([]Issue, 0)
	for _, group := range [][]Issue{weakIssues, dupIssues, oldIssues} {
		if opts.Limit > 0 && len(group) > opts.Limit {
			group = group[:opts.Limit]
			limited = true
		}
		issues = append(issues, group...)
	}

	return &Report{
		Overall: strengthScore + uniquenessScore + freshnessScore,
		Components: ScoreComponents{
			StrengthScore:   strengthScore,
			UniquenessScore: uniquenessScore,
			FreshnessScore:  freshnessScore,
		},
		RecordCount: len(records),
		Issues:      issues,
		Suggestions: generateSuggestions(issues),
		Limited:     limited,
	}, nil
}

// strengthScore averages the category points of every password.
// Returns score (0-40) and weak password issues.
func (a *Analyzer) strengthScore(records []vault.Record, opts Options) (int, []Issue) {
	var issues []Issue
	totalPoints := 0

	for i := range records {
		r := &records[i]
		strength := password.Score(r.Password)
		totalPoints += Points(strength.Category)

		sev, weak := weakSeverity(strength.Category)
		if !weak {
			continue
		}
		issue := Issue{
			Type:        IssueWeakPassword,
			Severity:    sev,
			Description: "Password strength is " + strength.Category.String() + " (" + strconv.Itoa(strength.Value) + "/100)",
			Suggestion:  "Generate a longer password that mixes all character types",
		}
		if opts.IncludeDetails {
			issue.RecordIDs = []string{r.ID}
			issue.Websites = []string{r.Website}
		}
		issues = append(issues, issue)
	}

	return totalPoints / len(records), issues
}

// uniquenessScore evaluates password reuse across records.
// Returns score (0-40) and duplicate issues.
func (a *Analyzer) uniquenessScore(records []vault.Record, opts Options) (int, []Issue, error) {
	groups, err := a.FindDuplicates(records, opts.IncludeDetails, 0)
	if err != nil {
		return 0, nil, err
	}
	unique, total, err := a.uniqueCount(records)
	if err != nil {
		return 0, nil, err
	}
	if total == 0 {
		return maxUniqueness, nil, nil
	}

	var issues []Issue
	for _, g := range groups {
		issues = append(issues, Issue{
			Type:        IssueDuplicatePassword,
			Severity:    SeverityWarning,
			RecordIDs:   g.RecordIDs,
			Websites:    g.Websites,
			Description: strconv.Itoa(g.Count) + " records share the same password",
			Suggestion:  "Use a unique password for each website",
		})
	}

	return unique * maxUniqueness / total, issues, nil
}

// freshnessScore evaluates how recently passwords were changed.
// Returns score (0-20) and old password issues.
func (a *Analyzer) freshnessScore(records []vault.Record, opts Options) (int, []Issue) {
	var issues []Issue
	fresh := 0
	cutoff := opts.Now.Add(-opts.MaxAge)

	for i := range records {
		r := &records[i]
		if !r.LastModified.Before(cutoff) {
			fresh++
			continue
		}
		days := int(opts.Now.Sub(r.LastModified).Hours() / 24)
		issue := Issue{
			Type:        IssueOldPassword,
			Severity:    SeverityInfo,
			Description: "Password unchanged for " + formatDays(days),
			Suggestion:  "Rotate passwords that have not changed in a long time",
		}
		if opts.IncludeDetails {
			issue.RecordIDs = []string{r.ID}
			issue.Websites = []string{r.Website}
		}
		issues = append(issues, issue)
	}

	return fresh * maxFreshness / len(records), issues
}

// generateSuggestions creates actionable recommendations based on issues.
func generateSuggestions(issues []Issue) []string {
	suggestions := []string{}
	var hasWeak, hasDuplicate, hasOld bool

	for _, issue := range issues {
		switch issue.Type {
		case IssueWeakPassword:
			hasWeak = true
		case IssueDuplicatePassword:
			hasDuplicate = true
		case IssueOldPassword:
			hasOld = true
		}
	}

	if hasWeak {
		suggestions = append(suggestions, "Update weak passwords with generated ones (pwvault generate)")
	}
	if hasDuplicate {
		suggestions = append(suggestions, "Replace duplicate passwords with unique values")
	}
	if hasOld {
		suggestions = append(suggestions, "Rotate passwords older than a year")
	}
	return suggestions
}

// formatDays returns a human-readable day count.
func formatDays(days int) string {
	if days == 1 {
		return "1 day"
	}
	return strconv.Itoa(days) + " days"
}
