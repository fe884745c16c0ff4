package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	auditLimit          int
	auditSince          string
	auditJSON           bool
	auditPruneOlderThan string
	auditPruneForce     bool
)

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditPruneCmd)

	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to show")
	auditListCmd.Flags().StringVar(&auditSince, "since", "", "Show events since duration (e.g., 24h)")
	auditListCmd.Flags().BoolVar(&auditJSON, "json", false, "Output in JSON format")

	auditPruneCmd.Flags().StringVar(&auditPruneOlderThan, "older-than", "", "Delete logs older than duration (e.g., 12m for 12 months)")
	auditPruneCmd.Flags().BoolVarP(&auditPruneForce, "force", "f", false, "Skip confirmation prompt")
}

// auditCmd is the parent command for audit operations
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
}

// auditListCmd lists audit log entries
var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		var since time.Time
		if auditSince != "" {
			duration, err := parseDuration(auditSince)
			if err != nil {
				return fmt.Errorf("invalid since format: %w", err)
			}
			since = time.Now().Add(-duration)
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}

		events, err := auditLog.ListEvents(auditLimit, since)
		if err != nil {
			return fmt.Errorf("failed to list audit events: %w", err)
		}
		out := cmd.OutOrStdout()
		if auditJSON {
			return writeJSON(out, events)
		}
		if len(events) == 0 {
			fmt.Fprintln(out, "No audit events found")
			return nil
		}

		// Format: TIMESTAMP SOURCE OPERATION RESULT [TARGET]
		for _, event := range events {
			line := fmt.Sprintf("%s %-5s %-16s %s", event.Timestamp, event.Source, event.Operation, event.Result)
			if event.Target != "" {
				target := event.Target
				if len(target) > 16 {
					target = target[:16] + "..."
				}
				line += " " + target
			}
			if event.Error != nil {
				line += " (" + event.Error.Message + ")"
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

// auditVerifyCmd verifies audit log integrity
var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit log HMAC chain integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Verifying audit log integrity...")
		result, err := auditLog.Verify()
		if err != nil {
			return fmt.Errorf("failed to verify audit log: %w", err)
		}

		if !result.Valid {
			fmt.Fprintln(out, "Audit log verification FAILED")
			fmt.Fprintf(out, "  Records total: %d\n", result.RecordsTotal)
			fmt.Fprintf(out, "  Records verified: %d\n", result.RecordsVerified)
			fmt.Fprintln(out, "  Errors:")
			for _, e := range result.Errors {
				fmt.Fprintf(out, "    - %s\n", e)
			}
			return fmt.Errorf("audit log integrity check failed")
		}
		fmt.Fprintf(out, "Audit log verified: %d records, chain intact\n", result.RecordsTotal)
		return nil
	},
}

// auditPruneCmd deletes old audit logs
var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old audit log entries",
	Long: `Delete audit log months whose events are all older than --older-than.

Pruning removes the start of the HMAC chain. 'audit verify' reports the
first remaining record afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditPruneOlderThan == "" {
			return fmt.Errorf("--older-than flag is required")
		}
		duration, err := parseDuration(auditPruneOlderThan)
		if err != nil {
			return fmt.Errorf("invalid older-than format: %w", err)
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !auditPruneForce && !confirm(fmt.Sprintf("Delete audit log entries older than %s?", auditPruneOlderThan)) {
			fmt.Fprintln(out, "Aborted")
			return nil
		}

		deleted, err := auditLog.Prune(duration)
		if err != nil {
			return fmt.Errorf("failed to prune audit logs: %w", err)
		}
		fmt.Fprintf(out, "Deleted %d audit log entries\n", deleted)
		return nil
	},
}
