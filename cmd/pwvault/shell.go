package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/pwvault/internal/cli"
	"github.com/forest6511/pwvault/pkg/password"
	"github.com/forest6511/pwvault/pkg/vault"
)

const shellHelp = `Commands:
  list [pattern...]   List records, optionally filtered by website glob
  search <query>      Search website, username and notes
  show <id|website>   Show a record including its password
  copy <id|website>   Copy a record's password to the clipboard
  generate [length]   Generate a password
  score               Rate a password (read without echo)
  status              Show lockout and session state
  lock                Lock the vault now
  help                Show this help
  exit                Leave the shell`

func init() {
	rootCmd.AddCommand(shellCmd)
}

// shellCmd keeps one session open across commands. The session locks
// itself after the configured idle time.
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive session with auto-lock",
	Long: `Start an interactive session.

The vault stays unlocked between commands and locks itself after the
auto-lock timeout without activity. While locked out, a countdown shows
when the next attempt is allowed.`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

func runShell(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	onAutoLock = func() {
		fmt.Fprintln(os.Stderr, "\nVault locked after inactivity. Enter a command to unlock.")
	}
	defer func() { onAutoLock = nil }()

	if err := shellUnlock(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Type 'help' for commands, 'exit' to quit.")

	for {
		fmt.Fprint(os.Stderr, shellPrompt())
		line, err := readLine()
		if err != nil {
			if errors.Is(err, errEndOfInput) {
				fmt.Fprintln(out)
				return nil
			}
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		quit, err := runShellCommand(ctx, out, fields)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func shellPrompt() string {
	if svc.IsLocked() {
		return "pwvault (locked)> "
	}
	return "pwvault> "
}

// runShellCommand executes one shell line. quit is true for exit.
func runShellCommand(ctx context.Context, out io.Writer, fields []string) (quit bool, err error) {
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "exit", "quit":
		return true, nil
	case "help", "?":
		fmt.Fprintln(out, shellHelp)
		return false, nil
	case "generate":
		return false, shellGenerate(out, args)
	case "score":
		p, err := readPassword("Password to score: ")
		if err != nil {
			return false, err
		}
		printStrength(out, "Strength", password.Score(p))
		return false, nil
	case "status":
		status, err := svc.Status()
		if err != nil {
			return false, err
		}
		printStatus(out, status, cfg.VaultDir)
		return false, nil
	case "lock":
		svc.Lock()
		fmt.Fprintln(out, "Vault locked")
		return false, nil
	case "list", "search", "show", "copy":
	default:
		return false, fmt.Errorf("unknown command %q (type 'help')", name)
	}

	if svc.IsLocked() {
		if err := shellUnlock(ctx); err != nil {
			return errors.Is(err, errEndOfInput), err
		}
	}

	switch name {
	case "list":
		records, err := svc.ListRecords()
		if err != nil {
			return false, err
		}
		if len(args) > 0 {
			if records, err = cli.MatchRecords(args, records); err != nil {
				return false, err
			}
		}
		return false, printRecords(out, cli.SortRecords(records), false)
	case "search":
		if len(args) == 0 {
			return false, errors.New("usage: search <query>")
		}
		records, err := svc.SearchRecords(strings.Join(args, " "))
		if err != nil {
			return false, err
		}
		return false, printRecords(out, records, false)
	default:
		if len(args) != 1 {
			return false, fmt.Errorf("usage: %s <id|website>", name)
		}
		rec, err := resolveRecord(args[0])
		if err != nil {
			return false, err
		}
		if name == "copy" {
			reportCopy(rec.Password, "Password")
			return false, nil
		}
		printRecord(out, rec, true)
		return false, nil
	}
}

func shellGenerate(out io.Writer, args []string) error {
	opts := cfg.GeneratorOptions()
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid length %q", args[0])
		}
		opts.Length = n
	}
	p, err := svc.Generate(opts)
	if err != nil {
		return err
	}
	s := svc.Score(p)
	fmt.Fprintf(out, "%s  %d/100 (%s)\n", p, s.Value, s.Category)
	return nil
}

// shellUnlock prompts until the password is accepted. A lockout is waited
// out with a countdown; Ctrl-C during the countdown ends the shell.
func shellUnlock(ctx context.Context) error {
	for {
		wctx, stop := signal.NotifyContext(ctx, os.Interrupt)
		err := waitForLockout(wctx, os.Stderr)
		stop()
		if err != nil {
			return err
		}

		p, err := readPassword("Enter master password: ")
		if err != nil {
			return err
		}
		res, err := svc.Authenticate(p)
		if err != nil {
			if errors.Is(err, vault.ErrNotInitialized) {
				return errors.New("vault is not initialized: run 'pwvault init' first")
			}
			return err
		}
		if res.OK {
			return nil
		}
		fmt.Fprintln(os.Stderr, authError(res))
	}
}
