package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/pwvault/pkg/vault"
)

var (
	settingsAutoLock int
	settingsTheme    string
)

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	settingsSetCmd.Flags().IntVar(&settingsAutoLock, "auto-lock", 0, fmt.Sprintf("Idle minutes before the vault locks (1-%d)", vault.MaxAutoLockMinutes))
	settingsSetCmd.Flags().StringVar(&settingsTheme, "theme", "", "Display theme: light, dark, auto")
}

// settingsCmd is the parent command for the preferences saved in the vault.
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change vault preferences",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the saved preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := svc.Settings()
		if err != nil {
			return err
		}
		printSettings(cmd.OutOrStdout(), settings)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change preferences",
	Long: `Change the preferences saved with the vault.

Examples:
  pwvault settings set --auto-lock 5
  pwvault settings set --theme dark`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if !flags.Changed("auto-lock") && !flags.Changed("theme") {
			return fmt.Errorf("nothing to change: use --auto-lock or --theme")
		}
		if err := ensureUnlocked(); err != nil {
			return err
		}

		settings, err := svc.Settings()
		if err != nil {
			return err
		}
		if flags.Changed("auto-lock") {
			settings.AutoLock = settingsAutoLock
		}
		if flags.Changed("theme") {
			settings.Theme = vault.Theme(strings.ToLower(settingsTheme))
		}
		if err := svc.UpdateSettings(settings); err != nil {
			return recordError(err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Settings saved")
		printSettings(cmd.OutOrStdout(), settings)
		return nil
	},
}

func printSettings(w io.Writer, s vault.Settings) {
	fmt.Fprintf(w, "Auto-lock:  %d minutes\n", s.AutoLock)
	fmt.Fprintf(w, "Theme:      %s\n", s.Theme)
}
