package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/pwvault/pkg/password"
	"github.com/forest6511/pwvault/pkg/security"
	"github.com/forest6511/pwvault/pkg/vault"
)

// Security command flags
var (
	securityVerbose bool
	securityJSON    bool
	securityMaxAge  string
	securityLimit   int
)

// securityCmd is the root security command.
var securityCmd = &cobra.Command{
	Use:   "security",
	Short: "Analyze password health",
	Long: `Analyze the health of the saved passwords and get recommendations.

The security score is calculated from:
  - Password Strength (0-40): Average strength of the passwords
  - Uniqueness (0-40): Percentage of unique passwords
  - Freshness (0-20): Percentage of passwords changed within --max-age

Example:
  pwvault security              # Show security score and top issues
  pwvault security --verbose    # Show affected websites and suggestions
  pwvault security --json       # Output in JSON format`,
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := analyze(securityVerbose || securityJSON)
		if err != nil {
			return err
		}
		if securityJSON {
			return writeJSON(cmd.OutOrStdout(), report)
		}
		outputSecurityText(cmd.OutOrStdout(), report, securityVerbose)
		return nil
	},
}

// securityDuplicatesCmd lists reused passwords.
var securityDuplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "List reused passwords",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := unlockedRecords()
		if err != nil {
			return err
		}

		analyzer := security.NewAnalyzer()
		defer analyzer.Close()
		groups, err := analyzer.FindDuplicates(records, true, securityLimit)
		if err != nil {
			return fmt.Errorf("failed to find duplicates: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(groups) == 0 {
			fmt.Fprintln(out, "No reused passwords found")
			return nil
		}
		fmt.Fprintf(out, "Reused Passwords (%d groups)\n\n", len(groups))
		for i, group := range groups {
			fmt.Fprintf(out, "%d. %d records share the same password:\n", i+1, group.Count)
			for j, site := range group.Websites {
				fmt.Fprintf(out, "   - %s (%s)\n", site, shortID(group.RecordIDs[j]))
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

// securityWeakCmd lists passwords below Strong.
var securityWeakCmd = &cobra.Command{
	Use:   "weak",
	Short: "List weak passwords",
	Long: `Show records whose password scores below Strong (60/100).

Weak passwords are listed before medium ones.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := unlockedRecords()
		if err != nil {
			return err
		}
		weak := weakRecords(records, securityLimit)

		out := cmd.OutOrStdout()
		if len(weak) == 0 {
			fmt.Fprintln(out, "No weak passwords found")
			return nil
		}
		fmt.Fprintf(out, "Weak Passwords (%d found)\n\n", len(weak))
		for i, w := range weak {
			fmt.Fprintf(out, "%d. %s / %s\n", i+1, w.record.Website, w.record.Username)
			fmt.Fprintf(out, "   %d/100 (%s)\n\n", w.strength.Value, w.strength.Category)
		}
		return nil
	},
}

// securityOldCmd lists passwords unchanged for longer than --max-age.
var securityOldCmd = &cobra.Command{
	Use:   "old",
	Short: "List passwords not changed recently",
	RunE: func(cmd *cobra.Command, args []string) error {
		maxAge, err := parseDuration(securityMaxAge)
		if err != nil {
			return fmt.Errorf("invalid --max-age: %w", err)
		}
		records, err := unlockedRecords()
		if err != nil {
			return err
		}
		old := oldRecords(records, time.Now(), maxAge)

		out := cmd.OutOrStdout()
		if len(old) == 0 {
			fmt.Fprintf(out, "No passwords older than %s\n", securityMaxAge)
			return nil
		}
		fmt.Fprintf(out, "Passwords Older Than %s (%d found)\n\n", securityMaxAge, len(old))
		for i, r := range old {
			days := int(time.Since(r.LastModified).Hours() / 24)
			fmt.Fprintf(out, "%d. %s / %s - unchanged for %d days\n", i+1, r.Website, r.Username, days)
		}
		return nil
	},
}

// analyze builds the report over every record.
func analyze(details bool) (*security.Report, error) {
	maxAge, err := parseDuration(securityMaxAge)
	if err != nil {
		return nil, fmt.Errorf("invalid --max-age: %w", err)
	}
	records, err := unlockedRecords()
	if err != nil {
		return nil, err
	}

	analyzer := security.NewAnalyzer()
	defer analyzer.Close()
	report, err := analyzer.Analyze(records, security.Options{
		MaxAge:         maxAge,
		IncludeDetails: details,
		Limit:          securityLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to calculate security score: %w", err)
	}
	return report, nil
}

func unlockedRecords() ([]vault.Record, error) {
	if err := ensureUnlocked(); err != nil {
		return nil, err
	}
	return svc.ListRecords()
}

type weakRecord struct {
	record   vault.Record
	strength password.Strength
}

// weakRecords returns records scoring below Strong, weakest first. limit
// caps the result when positive.
func weakRecords(records []vault.Record, limit int) []weakRecord {
	var weak []weakRecord
	for _, c := range []password.Category{password.Weak, password.Medium} {
		for _, r := range records {
			s := password.Score(r.Password)
			if s.Category == c {
				weak = append(weak, weakRecord{record: r, strength: s})
			}
		}
	}
	if limit > 0 && len(weak) > limit {
		weak = weak[:limit]
	}
	return weak
}

// oldRecords returns records last modified more than maxAge before now.
func oldRecords(records []vault.Record, now time.Time, maxAge time.Duration) []vault.Record {
	var old []vault.Record
	for _, r := range records {
		if now.Sub(r.LastModified) > maxAge {
			old = append(old, r)
		}
	}
	return old
}

// outputSecurityText outputs the security report as formatted text.
func outputSecurityText(w io.Writer, report *security.Report, verbose bool) {
	fmt.Fprintf(w, "Security Score: %d/100 (%s)\n\n", report.Overall, rating(report.Overall))

	fmt.Fprintf(w, "Records analyzed: %d\n\n", report.RecordCount)
	fmt.Fprintln(w, "Components:")
	fmt.Fprintf(w, "  Password Strength: %2d/40 %s\n", report.Components.StrengthScore, progressBar(report.Components.StrengthScore, 40))
	fmt.Fprintf(w, "  Uniqueness:        %2d/40 %s\n", report.Components.UniquenessScore, progressBar(report.Components.UniquenessScore, 40))
	fmt.Fprintf(w, "  Freshness:         %2d/20 %s\n", report.Components.FreshnessScore, progressBar(report.Components.FreshnessScore, 20))
	fmt.Fprintln(w)

	if len(report.Issues) > 0 {
		fmt.Fprintf(w, "Issues (%d):\n", len(report.Issues))
		for i, issue := range report.Issues {
			sites := ""
			if len(issue.Websites) > 0 {
				sites = " " + strings.Join(issue.Websites, ", ")
			}
			fmt.Fprintf(w, "  %d. [%s]%s: %s\n", i+1, strings.ToUpper(string(issue.Type)), sites, issue.Description)
		}
		fmt.Fprintln(w)
	}

	if len(report.Suggestions) > 0 && verbose {
		fmt.Fprintln(w, "Suggestions:")
		for _, s := range report.Suggestions {
			fmt.Fprintf(w, "  - %s\n", s)
		}
		fmt.Fprintln(w)
	}

	if report.Limited {
		fmt.Fprintln(w, "Some issues were omitted. Raise --limit to see more.")
	}
}

func rating(overall int) string {
	switch {
	case overall >= 90:
		return "Excellent"
	case overall >= 70:
		return "Good"
	case overall >= 50:
		return "Fair"
	default:
		return "Needs Attention"
	}
}

// progressBar creates a simple ASCII progress bar.
func progressBar(value, maxVal int) string {
	width := 20
	filled := value * width / maxVal
	empty := width - filled
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", empty) + "]"
}

func init() {
	rootCmd.AddCommand(securityCmd)

	securityCmd.AddCommand(securityDuplicatesCmd)
	securityCmd.AddCommand(securityWeakCmd)
	securityCmd.AddCommand(securityOldCmd)

	securityCmd.Flags().BoolVarP(&securityVerbose, "verbose", "v", false, "Show affected websites and suggestions")
	securityCmd.Flags().BoolVar(&securityJSON, "json", false, "Output in JSON format")
	securityCmd.PersistentFlags().StringVar(&securityMaxAge, "max-age", "1y", "Age after which a password counts as old (e.g. 90d, 6m, 1y)")
	securityCmd.PersistentFlags().IntVar(&securityLimit, "limit", 0, "Maximum entries per issue type (0 = all)")
}
