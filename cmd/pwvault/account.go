package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/pwvault/pkg/lockout"
	"github.com/forest6511/pwvault/pkg/password"
	"github.com/forest6511/pwvault/pkg/vault"
)

// resetPhrase must be typed to confirm a reset.
const resetPhrase = "DELETE"

var (
	statusJSON bool
	unlockWait bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(passwordCmd)
	rootCmd.AddCommand(resetCmd)

	passwordCmd.AddCommand(passwordChangeCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output in JSON format")
	unlockCmd.Flags().BoolVar(&unlockWait, "wait", false, "Wait for an active lockout to expire instead of failing")
}

// initCmd creates the master password.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initializes a new password vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		initialized, err := svc.IsInitialized()
		if err != nil {
			return err
		}
		if initialized {
			return fmt.Errorf("vault already initialized at %s", cfg.VaultDir)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Initializing new vault...")
		secret, confirmation, err := readNewPassword("Enter master password: ")
		if err != nil {
			return err
		}

		validation := vault.ValidateMasterPassword(secret)
		if validation.Valid {
			printStrength(cmd.OutOrStdout(), "Password strength", validation.Strength)
			for _, w := range validation.Warnings {
				fmt.Fprintf(cmd.OutOrStdout(), "Warning: %s\n", w)
			}
		}

		if err := svc.Setup(secret, confirmation); err != nil {
			var verr *vault.ValidationError
			if errors.As(err, &verr) {
				return fmt.Errorf("password validation failed: %s", verr.Message)
			}
			return fmt.Errorf("failed to initialize vault: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Vault initialized at %s\n", cfg.VaultDir)
		return nil
	},
}

// statusCmd shows the vault and lockout state without prompting.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault, lockout and session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := svc.Status()
		if err != nil {
			return err
		}
		if statusJSON {
			return writeJSON(cmd.OutOrStdout(), status)
		}
		printStatus(cmd.OutOrStdout(), status, cfg.VaultDir)
		return nil
	},
}

// unlockCmd checks the master password and reports the result.
var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Verify the master password",
	Long: `Verify the master password and show the remaining attempts.

A one-shot command locks the vault again when it exits. Use 'pwvault shell'
to keep a session open.

With --wait, an active lockout is waited out with a countdown before the
password is asked for.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if unlockWait {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if err := waitForLockout(ctx, cmd.ErrOrStderr()); err != nil {
				return err
			}
		}
		if err := ensureUnlocked(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Master password accepted")
		return nil
	},
}

// scoreCmd rates a password without storing it.
var scoreCmd = &cobra.Command{
	Use:   "score [password]",
	Short: "Rate the strength of a password",
	Long: `Rate a password on a 0-100 scale.

Without an argument the password is read from the terminal, which keeps it
out of the shell history.`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{noVault: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var p string
		if len(args) == 1 {
			p = args[0]
		} else {
			var err error
			if p, err = readPassword("Password to score: "); err != nil {
				return err
			}
		}
		printStrength(cmd.OutOrStdout(), "Strength", password.Score(p))
		return nil
	},
}

// passwordCmd is the parent command for master password operations.
var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Master password operations",
}

// passwordChangeCmd changes the master password.
var passwordChangeCmd = &cobra.Command{
	Use:   "change",
	Short: "Change the master password",
	Long: `Change the master password by re-wrapping the data key.

A wrong current password counts as a failed unlock attempt. Records are not
re-encrypted and remain readable with the new password.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := svc.LockStatus()
		if err != nil {
			return err
		}
		if status.Locked {
			return &lockout.LockedOutError{Remaining: status.Remaining}
		}

		current, err := readPassword("Enter current password: ")
		if err != nil {
			return err
		}
		next, confirmation, err := readNewPassword("Enter new password: ")
		if err != nil {
			return err
		}

		if validation := vault.ValidateMasterPassword(next); validation.Valid {
			printStrength(cmd.OutOrStdout(), "New password strength", validation.Strength)
			for _, w := range validation.Warnings {
				fmt.Fprintf(cmd.OutOrStdout(), "Warning: %s\n", w)
			}
		}

		if err := svc.ChangeSecret(current, next, confirmation); err != nil {
			var lerr *lockout.LockedOutError
			var verr *vault.ValidationError
			switch {
			case errors.As(err, &lerr):
				return fmt.Errorf("too many failed attempts: vault locked, try again in %s", lockout.FormatRemaining(lerr.Remaining))
			case errors.Is(err, vault.ErrInvalidPassword):
				return errors.New("current password is incorrect")
			case errors.As(err, &verr):
				return fmt.Errorf("password validation failed: %s", verr.Message)
			}
			return fmt.Errorf("failed to change password: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Password changed successfully")
		return nil
	},
}

// resetCmd deletes everything. It is the only way out of a lockout other
// than waiting.
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the vault and all records",
	Long: `Delete the master password, every record, the settings, the lockout
state and the audit log.

Reset needs two confirmations and cannot be undone. It also clears an
active lockout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.ErrOrStderr(), "This permanently deletes every record in %s.\n", cfg.VaultDir)
		if !confirm("Are you sure you want to reset the vault?") {
			fmt.Fprintln(cmd.OutOrStdout(), "Reset cancelled")
			return nil
		}
		answer, err := prompt(fmt.Sprintf("Type %s to confirm: ", resetPhrase))
		if err != nil || answer != resetPhrase {
			fmt.Fprintln(cmd.OutOrStdout(), "Reset cancelled")
			return nil
		}

		if err := svc.Reset(); err != nil {
			return fmt.Errorf("failed to reset vault: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Vault reset. Run 'pwvault init' to start over.")
		return nil
	},
}

// waitForLockout blocks with a countdown until an active lockout expires.
// It returns at once when no lockout is active.
func waitForLockout(ctx context.Context, out io.Writer) error {
	done := make(chan struct{})
	if !svc.WatchLockout(func() { close(done) }) {
		return nil
	}
	defer svc.StopLockoutWatch()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		status, err := svc.LockStatus()
		if err != nil {
			return err
		}
		if !status.Locked {
			fmt.Fprintln(out)
			return nil
		}
		fmt.Fprintf(out, "\rLocked out, try again in %s ", lockout.FormatRemaining(status.Remaining))

		select {
		case <-done:
			fmt.Fprintln(out)
			return nil
		case <-ctx.Done():
			fmt.Fprintln(out)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func printStrength(w io.Writer, label string, s password.Strength) {
	fmt.Fprintf(w, "%s: %d/100 (%s)\n", label, s.Value, s.Category)
}

func printStatus(w io.Writer, s vault.Status, dir string) {
	fmt.Fprintf(w, "Vault:       %s\n", dir)
	if !s.Initialized {
		fmt.Fprintln(w, "State:       not initialized")
		return
	}
	switch {
	case s.LockedOut:
		fmt.Fprintf(w, "State:       locked out (%s remaining)\n", lockout.FormatRemaining(s.LockRemaining))
	case s.Unlocked:
		fmt.Fprintf(w, "State:       unlocked (%s until auto-lock)\n", s.SessionRemaining.Round(time.Second))
	default:
		fmt.Fprintln(w, "State:       locked")
	}
	if !s.LockedOut {
		fmt.Fprintf(w, "Attempts:    %d left (%d failed)\n", s.AttemptsLeft, s.FailureCount)
	}
	fmt.Fprintf(w, "Auto-lock:   %d minutes\n", s.AutoLock)
}
