package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/pwvault/pkg/backup"
	"github.com/forest6511/pwvault/pkg/crypto"
	"github.com/forest6511/pwvault/pkg/importer"
)

// maxImportSize bounds an import file read into memory.
const maxImportSize = 32 * 1024 * 1024

var (
	exportOutput string
	exportForce  bool

	importFrom     string
	importKeepTOTP bool
	importDryRun   bool

	backupOutput  string
	backupStdout  bool
	backupKeyFile string
	backupForce   bool

	restoreKeyFile    string
	restoreVerifyOnly bool
)

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	backupCmd.AddCommand(backupKeygenCmd)

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file path (default: stdout)")
	exportCmd.Flags().BoolVarP(&exportForce, "force", "f", false, "Overwrite existing file")

	importCmd.Flags().StringVar(&importFrom, "from", "", "Source format: "+strings.Join(importer.ValidSources(), ", ")+" (default: pwvault JSON)")
	importCmd.Flags().BoolVar(&importKeepTOTP, "keep-totp", false, "Keep TOTP seeds in the record notes")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Show what would be imported without making changes")

	backupCmd.Flags().StringVarP(&backupOutput, "output", "o", "", "Output file path")
	backupCmd.Flags().BoolVar(&backupStdout, "stdout", false, "Output to stdout (for piping)")
	backupCmd.Flags().StringVar(&backupKeyFile, "key-file", "", "Encryption key file (32 bytes) instead of a backup password")
	backupCmd.Flags().BoolVarP(&backupForce, "force", "f", false, "Overwrite existing file")

	restoreCmd.Flags().StringVar(&restoreKeyFile, "key-file", "", "Decryption key file")
	restoreCmd.Flags().BoolVar(&restoreVerifyOnly, "verify-only", false, "Only verify backup integrity")
}

// exportCmd writes every record as plain JSON.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all records as JSON (unencrypted)",
	Long: `Export every record, passwords included, as a JSON document.

The output is NOT encrypted. Use 'pwvault backup' for an encrypted copy.

Examples:
  pwvault export -o records.json
  pwvault export | jq '.records[].website'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}

		if exportOutput == "" {
			_, err := svc.Export(cmd.OutOrStdout())
			return err
		}

		out, err := createOutput(exportOutput, exportForce)
		if err != nil {
			return err
		}
		n, err := svc.Export(out)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(exportOutput)
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d record(s) to %s\n", n, exportOutput)
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: the export file contains passwords in plain text")
		return nil
	},
}

// importCmd adds records from a pwvault export or another manager.
var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import records from a JSON export or another password manager",
	Long: `Import records into the vault. Existing records are kept.

Without --from the file must be a pwvault JSON export. Nothing is saved
unless every record in the file is valid.

Examples:
  pwvault import records.json
  pwvault import --from bitwarden bitwarden_export.json
  pwvault import --from 1password export.csv --keep-totp
  pwvault import --from lastpass lastpass.csv --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInputFile(args[0])
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(data)

		out := cmd.OutOrStdout()
		if importFrom == "" {
			if importDryRun {
				return errors.New("--dry-run requires --from")
			}
			if err := ensureUnlocked(); err != nil {
				return err
			}
			n, err := svc.Import(bytes.NewReader(data))
			if err != nil {
				return recordError(fmt.Errorf("import failed: %w", err))
			}
			fmt.Fprintf(out, "Imported %d record(s)\n", n)
			return nil
		}

		parser, err := importer.GetParser(importer.Source(strings.ToLower(importFrom)))
		if err != nil {
			return fmt.Errorf("%w (valid: %s)", err, strings.Join(importer.ValidSources(), ", "))
		}
		result, err := parser.Parse(data, importer.ParseOptions{KeepTOTP: importKeepTOTP})
		if err != nil {
			return fmt.Errorf("failed to parse %s export: %w", parser.Source(), err)
		}
		printImportResult(cmd.ErrOrStderr(), result)

		if importDryRun {
			fmt.Fprintf(out, "Dry run: %d record(s) would be imported\n", len(result.Records))
			for _, r := range result.Records {
				fmt.Fprintf(out, "  %s  %s\n", r.Website, r.Username)
			}
			return nil
		}
		if len(result.Records) == 0 {
			fmt.Fprintln(out, "Nothing to import")
			return nil
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}
		n, err := svc.ImportRecords(result.Records, string(parser.Source()))
		if err != nil {
			return recordError(fmt.Errorf("import failed: %w", err))
		}
		fmt.Fprintf(out, "Imported %d record(s) from %s\n", n, parser.Source())
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create encrypted backup of the vault",
	Long: `Create an encrypted backup of every record.

The backup is encrypted with a separate backup password, or with a 32-byte
key file created by 'pwvault backup keygen'.

Examples:
  # Backup to a file, prompting for a backup password
  pwvault backup -o vault-backup.pwb

  # Backup to stdout (for piping)
  pwvault backup --stdout --key-file backup.key > backup.pwb

  # Overwrite existing file
  pwvault backup -o vault-backup.pwb --force`,
	Args: cobra.NoArgs,
	RunE: executeBackup,
}

var backupKeygenCmd = &cobra.Command{
	Use:         "keygen <path>",
	Short:       "Create a random backup key file",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{noVault: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := backup.GenerateKeyFile(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Key file written to %s. Keep it apart from your backups.\n", args[0])
		return nil
	},
}

func executeBackup(cmd *cobra.Command, args []string) error {
	if err := validateBackupFlags(); err != nil {
		return err
	}
	if err := ensureUnlocked(); err != nil {
		return err
	}

	key, err := backupKey(backupKeyFile, true)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(key.Password)

	if backupStdout {
		_, err := svc.Backup(cmd.OutOrStdout(), key)
		return err
	}

	out, err := createOutput(backupOutput, backupForce)
	if err != nil {
		return err
	}
	n, err := svc.Backup(out, key)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(backupOutput)
		return fmt.Errorf("backup failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Backup of %d record(s) created: %s\n", n, backupOutput)
	return nil
}

func validateBackupFlags() error {
	if !backupStdout && backupOutput == "" {
		return fmt.Errorf("either --output or --stdout is required")
	}
	if backupStdout && backupOutput != "" {
		return fmt.Errorf("--output and --stdout are mutually exclusive")
	}
	return nil
}

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-file>",
	Short: "Restore records from an encrypted backup",
	Long: `Restore records from an encrypted backup file.

The records are added to the vault like an import. Nothing is decrypted
unless the backup's integrity check passes.

Examples:
  pwvault restore vault-backup.pwb
  pwvault restore backup.pwb --key-file backup.key
  pwvault restore backup.pwb --verify-only`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open backup: %w", err)
		}
		defer f.Close()

		key, err := backupKey(restoreKeyFile, false)
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(key.Password)

		out := cmd.OutOrStdout()
		if restoreVerifyOnly {
			header, payload, err := backup.Read(f, key)
			if err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}
			crypto.SecureWipe(payload)
			fmt.Fprintln(out, "Backup integrity verified")
			fmt.Fprintf(out, "Created:    %s\n", header.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "Encryption: %s\n", header.EncryptionMode)
			fmt.Fprintf(out, "Records:    %d\n", header.RecordCount)
			return nil
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}
		n, err := svc.Restore(f, key)
		if err != nil {
			return recordError(fmt.Errorf("restore failed: %w", err))
		}
		fmt.Fprintf(out, "Restored %d record(s)\n", n)
		return nil
	},
}

// backupKey builds the key from a key file or a prompted password.
func backupKey(keyFile string, confirmEntry bool) (backup.Key, error) {
	if keyFile != "" {
		return backup.Key{KeyFile: keyFile, KDF: kdfParams}, nil
	}

	p, err := readPassword("Enter backup password: ")
	if err != nil {
		return backup.Key{}, err
	}
	if confirmEntry {
		again, err := readPassword("Confirm backup password: ")
		if err != nil {
			return backup.Key{}, err
		}
		if p != again {
			return backup.Key{}, errors.New("backup passwords do not match")
		}
	}
	if p == "" {
		return backup.Key{}, backup.ErrEmptyPassword
	}
	return backup.Key{Password: []byte(p), KDF: kdfParams}, nil
}

// createOutput opens path for writing with mode 0600. It refuses to
// replace an existing file unless force is set.
func createOutput(path string, force bool) (*os.File, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("output file already exists: %s (use --force to overwrite)", path)
		}
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}

// readInputFile reads a bounded import file.
func readInputFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxImportSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) > maxImportSize {
		return nil, fmt.Errorf("%s is larger than %d MB", path, maxImportSize/(1024*1024))
	}
	return data, nil
}

func printImportResult(w io.Writer, result *importer.ImportResult) {
	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warning)
	}
	if len(result.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped %d item(s):\n", len(result.Skipped))
		for _, s := range result.Skipped {
			fmt.Fprintf(w, "  %s: %s\n", s.OriginalName, s.Reason)
		}
	}
}
