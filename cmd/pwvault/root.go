package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forest6511/pwvault/internal/config"
	"github.com/forest6511/pwvault/internal/logging"
	"github.com/forest6511/pwvault/pkg/audit"
	"github.com/forest6511/pwvault/pkg/crypto"
	"github.com/forest6511/pwvault/pkg/lockout"
	"github.com/forest6511/pwvault/pkg/store"
	"github.com/forest6511/pwvault/pkg/vault"
)

// Set with -ldflags "-X main.version=..."
var version = "dev"

// auditDirName is the audit log directory inside the vault directory.
const auditDirName = "audit"

// noVault marks commands that run without opening the vault.
const noVault = "pwvault/no-vault"

var (
	cfgFile string
	cfg     config.Config
	logger  = zap.NewNop()

	st       *store.SQLite
	auditLog *audit.Logger
	svc      *vault.Service

	// kdfParams overrides the KDF cost of new vaults. Zero uses the defaults.
	kdfParams crypto.KDFParams

	// onAutoLock runs when the session times out. The shell sets it.
	onAutoLock func()
)

var rootCmd = &cobra.Command{
	Use:           "pwvault",
	Short:         "pwvault is a local, encrypted password vault",
	Long:          `A password vault that keeps website credentials encrypted under one master password.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE runs before every subcommand: it resolves the
	// configuration, builds the logger and, unless the command is marked
	// noVault, opens the vault.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		file := cfgFile
		if cmd == configInitCmd && !fileExists(file) {
			// config init creates the file it is pointed at.
			file = ""
		}
		c, err := config.Load(cmd, file)
		if err != nil {
			return err
		}
		cfg = c

		l, err := logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		logger = l

		if cmd.Annotations[noVault] == "true" {
			return nil
		}
		return openVault(auditSource(cmd))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: <user config dir>/pwvault/pwvault.yaml)")
	rootCmd.PersistentFlags().String("vault-dir", "", "Vault directory (default: ~/.pwvault)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: console, json")

}

func init() {
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w\nRun '%s --help' for usage", err, cmd.CommandPath())
	})
}

// auditSource tags audit events by entry point.
func auditSource(cmd *cobra.Command) string {
	switch cmd.Name() {
	case "shell":
		return audit.SourceShell
	case "mcp-server":
		return audit.SourceMCP
	default:
		return audit.SourceCLI
	}
}

// openVault opens the store in the configured directory and builds the
// vault service over it.
func openVault(source string) error {
	s, err := store.OpenSQLite(cfg.VaultDir, logger.Named("store"))
	if err != nil {
		if errors.Is(err, store.ErrStoreBusy) {
			return fmt.Errorf("vault %s is in use by another pwvault process", cfg.VaultDir)
		}
		return fmt.Errorf("failed to open vault: %w", err)
	}

	auditLog = audit.NewLogger(filepath.Join(cfg.VaultDir, auditDirName), nil, logger.Named("audit"))
	service, err := vault.New(vault.Options{
		Store:        s,
		Logger:       logger.Named("vault"),
		Audit:        auditLog,
		Source:       source,
		KDF:          kdfParams,
		MaxAttempts:  cfg.Lockout.MaxAttempts,
		LockDuration: cfg.Lockout.Duration,
		Defaults:     cfg.Settings(),
		OnLock: func() {
			if onAutoLock != nil {
				onAutoLock()
			}
		},
	})
	if err != nil {
		s.Close()
		return err
	}

	st, svc = s, service
	return nil
}

// closeVault locks the vault and releases the store.
func closeVault() {
	if svc != nil {
		svc.Lock()
		svc = nil
	}
	if st != nil {
		if err := st.Close(); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
		st = nil
	}
	auditLog = nil
	_ = logger.Sync()
}

// ensureUnlocked prompts for the master password when the vault is locked.
// A locked-out vault is rejected without prompting.
func ensureUnlocked() error {
	if !svc.IsLocked() {
		return nil
	}

	initialized, err := svc.IsInitialized()
	if err != nil {
		return err
	}
	if !initialized {
		return errors.New("vault is not initialized: run 'pwvault init' first")
	}

	status, err := svc.LockStatus()
	if err != nil {
		return err
	}
	if status.Locked {
		return &lockout.LockedOutError{Remaining: status.Remaining}
	}

	password, err := readPassword("Enter master password: ")
	if err != nil {
		return err
	}
	res, err := svc.Authenticate(password)
	if err != nil {
		return fmt.Errorf("failed to unlock vault: %w", err)
	}
	return authError(res)
}

// authError turns a failed authentication into a user-facing error.
func authError(res vault.AuthResult) error {
	switch {
	case res.OK:
		return nil
	case res.LockedFor > 0:
		return fmt.Errorf("too many failed attempts: vault locked, try again in %s", lockout.FormatRemaining(res.LockedFor))
	case res.RemainingAttempts == 1:
		return errors.New("incorrect master password (1 attempt left)")
	default:
		return fmt.Errorf("incorrect master password (%d attempts left)", res.RemainingAttempts)
	}
}

// parseDuration parses a duration string like "30d", "1y", "24h"
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	var value int
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", valueStr)
	}

	switch unit {
	case 'h':
		return time.Duration(value) * time.Hour, nil
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(value) * 30 * 24 * time.Hour, nil
	case 'y':
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		return time.ParseDuration(s)
	}
}

// fileExists reports whether path names an existing file.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
