package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/pwvault/internal/cli"
	"github.com/forest6511/pwvault/pkg/password"
	"github.com/forest6511/pwvault/pkg/vault"
)

// shortIDLength is how much of a record id list output shows.
const shortIDLength = 8

// Record command flags
var (
	recordWebsite  string
	recordUsername string
	recordNotes    string
	recordGenerate bool
	recordCopy     bool

	getShowMetadata bool
	getCopy         bool

	listMatch []string
	listJSON  bool

	editPassword bool

	deleteForce bool
)

func init() {
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)

	for _, c := range []*cobra.Command{addCmd, editCmd} {
		c.Flags().StringVarP(&recordWebsite, "website", "w", "", "Website or service name")
		c.Flags().StringVarP(&recordUsername, "username", "u", "", "Username or email")
		c.Flags().StringVar(&recordNotes, "notes", "", "Free-form notes")
		c.Flags().BoolVarP(&recordGenerate, "generate", "g", false, "Generate the password with the configured generator")
		c.Flags().BoolVarP(&recordCopy, "copy", "c", false, "Copy a generated password to the clipboard")
	}
	editCmd.Flags().BoolVarP(&editPassword, "password", "p", false, "Prompt for a new password")

	getCmd.Flags().BoolVar(&getShowMetadata, "show-metadata", false, "Show all fields, not only the password")
	getCmd.Flags().BoolVarP(&getCopy, "copy", "c", false, "Copy the password to the clipboard instead of printing it")

	listCmd.Flags().StringSliceVarP(&listMatch, "match", "m", nil, "Only websites matching the glob pattern (repeatable)")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format (without passwords)")

	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Delete without confirmation")
}

// addCmd stores a new record.
var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a website credential",
	Long: `Add a website credential to the vault.

Missing website or username values are prompted for. The password is read
from the terminal unless --generate is given.

Examples:
  pwvault add -w github.com -u alice
  pwvault add -w example.com -u bob@example.com --generate --copy`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}

		rec := vault.Record{Website: recordWebsite, Username: recordUsername, Notes: recordNotes}
		var err error
		if rec.Website == "" {
			if rec.Website, err = prompt("Website: "); err != nil {
				return err
			}
		}
		if rec.Username == "" {
			if rec.Username, err = prompt("Username: "); err != nil {
				return err
			}
		}
		if rec.Password, err = recordPassword(true); err != nil {
			return err
		}

		saved, err := svc.AddRecord(rec)
		if err != nil {
			return recordError(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Record for %s saved (id %s)\n", saved.Website, saved.ID)
		if recordGenerate && recordCopy {
			reportCopy(saved.Password, "Password")
		}
		return nil
	},
}

// getCmd prints one record's password.
var getCmd = &cobra.Command{
	Use:   "get <id|website>",
	Short: "Show a record's password",
	Long: `Show the password of one record, by id (or id prefix) or by website.

A website that matches more than one record is rejected with the
candidate ids.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}
		rec, err := resolveRecord(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if getShowMetadata {
			printRecord(out, rec, !getCopy)
		} else if !getCopy {
			fmt.Fprintln(out, rec.Password)
		}
		if getCopy {
			reportCopy(rec.Password, "Password")
		}
		return nil
	},
}

// listCmd lists records without passwords.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved records",
	Long: `List saved records sorted by website. Passwords are never shown.

Examples:
  pwvault list
  pwvault list -m "*.example.com" -m github.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}
		records, err := svc.ListRecords()
		if err != nil {
			return err
		}
		if len(listMatch) > 0 {
			if records, err = cli.MatchRecords(listMatch, records); err != nil {
				return err
			}
		}
		return printRecords(cmd.OutOrStdout(), cli.SortRecords(records), listJSON)
	},
}

// searchCmd finds records by substring.
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search records by website, username or notes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}
		records, err := svc.SearchRecords(args[0])
		if err != nil {
			return err
		}
		return printRecords(cmd.OutOrStdout(), records, false)
	},
}

// editCmd changes fields of an existing record. Only the given flags are
// applied.
var editCmd = &cobra.Command{
	Use:   "edit <id|website>",
	Short: "Edit a record",
	Long: `Edit a record. Only the fields named by flags change.

Examples:
  pwvault edit github.com -u new-login
  pwvault edit 3f2a9c1e --password
  pwvault edit example.com --generate --copy`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}
		rec, err := resolveRecord(args[0])
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("website") {
			rec.Website = recordWebsite
		}
		if flags.Changed("username") {
			rec.Username = recordUsername
		}
		if flags.Changed("notes") {
			rec.Notes = recordNotes
		}
		if editPassword || recordGenerate {
			if rec.Password, err = recordPassword(false); err != nil {
				return err
			}
		}

		updated, err := svc.UpdateRecord(rec)
		if err != nil {
			return recordError(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Record for %s updated\n", updated.Website)
		if recordGenerate && recordCopy {
			reportCopy(updated.Password, "Password")
		}
		return nil
	},
}

// deleteCmd removes records by id or website pattern.
var deleteCmd = &cobra.Command{
	Use:   "delete <id|pattern>...",
	Short: "Delete records",
	Long: `Delete records by id or by website glob pattern.

Examples:
  pwvault delete 3f2a9c1e
  pwvault delete "*.old-company.com" --force`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}
		records, err := svc.ListRecords()
		if err != nil {
			return err
		}
		targets, err := selectRecords(args, records)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !deleteForce {
			fmt.Fprintf(cmd.ErrOrStderr(), "The following %d record(s) will be deleted:\n", len(targets))
			for _, r := range targets {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s  %s  %s\n", shortID(r.ID), r.Website, r.Username)
			}
			if !confirm("Delete?") {
				fmt.Fprintln(out, "Delete cancelled")
				return nil
			}
		}

		for _, r := range targets {
			if err := svc.DeleteRecord(r.ID); err != nil {
				return fmt.Errorf("failed to delete %s: %w", r.Website, err)
			}
		}
		fmt.Fprintf(out, "Deleted %d record(s)\n", len(targets))
		return nil
	},
}

// recordPassword generates or prompts for a record password.
func recordPassword(confirmEntry bool) (string, error) {
	if recordGenerate {
		opts := cfg.GeneratorOptions()
		p, err := password.Generate(opts)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		return p, nil
	}

	p, err := readPassword("Password: ")
	if err != nil {
		return "", err
	}
	if confirmEntry {
		again, err := readPassword("Confirm password: ")
		if err != nil {
			return "", err
		}
		if p != again {
			return "", errors.New("passwords do not match")
		}
	}
	strength := password.Score(p)
	if strength.Category == password.Weak {
		fmt.Fprintf(os.Stderr, "Warning: weak password (%d/100)\n", strength.Value)
	}
	return p, nil
}

// resolveRecord finds one record by exact id, unique id prefix or website.
func resolveRecord(ref string) (vault.Record, error) {
	records, err := svc.ListRecords()
	if err != nil {
		return vault.Record{}, err
	}
	matches := matchRef(ref, records)
	switch len(matches) {
	case 0:
		return vault.Record{}, fmt.Errorf("no record matches '%s'", ref)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, r := range matches {
			ids[i] = fmt.Sprintf("%s (%s)", shortID(r.ID), r.Username)
		}
		return vault.Record{}, fmt.Errorf("'%s' matches %d records, use an id: %s", ref, len(matches), strings.Join(ids, ", "))
	}
}

// matchRef matches an exact id first, then a website, then an id prefix.
func matchRef(ref string, records []vault.Record) []vault.Record {
	for _, r := range records {
		if r.ID == ref {
			return []vault.Record{r}
		}
	}
	if byWebsite, err := cli.MatchRecords([]string{ref}, records); err == nil {
		return byWebsite
	}
	var byPrefix []vault.Record
	if len(ref) >= 4 {
		for _, r := range records {
			if strings.HasPrefix(r.ID, ref) {
				byPrefix = append(byPrefix, r)
			}
		}
	}
	return byPrefix
}

// selectRecords resolves each argument as an id or website pattern and
// returns the union in vault order.
func selectRecords(refs []string, records []vault.Record) ([]vault.Record, error) {
	seen := make(map[string]bool)
	for _, ref := range refs {
		matches := matchRef(ref, records)
		if len(matches) == 0 {
			return nil, fmt.Errorf("no record matches '%s'", ref)
		}
		for _, r := range matches {
			seen[r.ID] = true
		}
	}
	var out []vault.Record
	for _, r := range records {
		if seen[r.ID] {
			out = append(out, r)
		}
	}
	return out, nil
}

// recordError unwraps validation failures for display.
func recordError(err error) error {
	var verr *vault.ValidationError
	if errors.As(err, &verr) {
		return fmt.Errorf("invalid %s: %s", verr.Field, verr.Message)
	}
	return err
}

// recordSummary is the list form of a record: no password.
type recordSummary struct {
	ID           string    `json:"id"`
	Website      string    `json:"website"`
	Username     string    `json:"username"`
	LastModified time.Time `json:"lastModified"`
}

func printRecords(w io.Writer, records []vault.Record, asJSON bool) error {
	if asJSON {
		summaries := make([]recordSummary, len(records))
		for i, r := range records {
			summaries[i] = recordSummary{ID: r.ID, Website: r.Website, Username: r.Username, LastModified: r.LastModified}
		}
		return writeJSON(w, summaries)
	}

	if len(records) == 0 {
		fmt.Fprintln(w, "No records found")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWEBSITE\tUSERNAME\tMODIFIED")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", shortID(r.ID), r.Website, r.Username, r.LastModified.Local().Format("2006-01-02"))
	}
	return tw.Flush()
}

func printRecord(w io.Writer, r vault.Record, showPassword bool) {
	fmt.Fprintf(w, "ID:        %s\n", r.ID)
	fmt.Fprintf(w, "Website:   %s\n", r.Website)
	fmt.Fprintf(w, "Username:  %s\n", r.Username)
	if showPassword {
		fmt.Fprintf(w, "Password:  %s\n", r.Password)
	}
	if r.Notes != "" {
		fmt.Fprintf(w, "Notes:     %s\n", r.Notes)
	}
	fmt.Fprintf(w, "Created:   %s\n", r.CreatedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "Modified:  %s\n", r.LastModified.Local().Format(time.RFC3339))
}

func shortID(id string) string {
	if len(id) > shortIDLength {
		return id[:shortIDLength]
	}
	return id
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
