package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/pwvault/pkg/password"
)

const (
	defaultPasswordCount = 1
	maxPasswordCount     = 100
)

// Generate command flags
var (
	generateLength           int
	generateCount            int
	generateNoSymbols        bool
	generateNoNumbers        bool
	generateNoUppercase      bool
	generateNoLowercase      bool
	generateExcludeAmbiguous bool
	generateCopy             bool
	generateShowStrength     bool
)

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().IntVarP(&generateLength, "length", "l", password.DefaultLength,
		fmt.Sprintf("Password length (%d-%d, default from config)", password.MinLength, password.MaxLength))
	generateCmd.Flags().IntVarP(&generateCount, "count", "n", defaultPasswordCount, "Number of passwords to generate (1-100)")
	generateCmd.Flags().BoolVar(&generateNoSymbols, "no-symbols", false, "Exclude symbols")
	generateCmd.Flags().BoolVar(&generateNoNumbers, "no-numbers", false, "Exclude numbers")
	generateCmd.Flags().BoolVar(&generateNoUppercase, "no-uppercase", false, "Exclude uppercase letters")
	generateCmd.Flags().BoolVar(&generateNoLowercase, "no-lowercase", false, "Exclude lowercase letters")
	generateCmd.Flags().BoolVar(&generateExcludeAmbiguous, "exclude-ambiguous", false, "Exclude look-alike characters ("+password.Ambiguous+")")
	generateCmd.Flags().BoolVarP(&generateCopy, "copy", "c", false, "Copy first password to clipboard (accessible to all processes)")
	generateCmd.Flags().BoolVarP(&generateShowStrength, "strength", "s", false, "Show the strength score next to each password")
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate secure random passwords",
	Long: `Generate cryptographically secure random passwords.

Examples:
  # Generate a 16-character password (default)
  pwvault generate

  # Generate a 32-character password without symbols
  pwvault generate -l 32 --no-symbols

  # Generate 5 passwords and show their strength
  pwvault generate -n 5 -s

  # Generate and copy to clipboard
  pwvault generate -c

  # Generate a password without look-alike characters
  pwvault generate --exclude-ambiguous`,
	Annotations: map[string]string{noVault: "true"},
	RunE:        executeGenerate,
}

func executeGenerate(cmd *cobra.Command, args []string) error {
	if err := validateGenerateFlags(); err != nil {
		return err
	}

	opts := buildGenerateOptions(cmd.Flags().Changed("length"))
	passwords := make([]string, generateCount)
	for i := range passwords {
		p, err := password.Generate(opts)
		if err != nil {
			return fmt.Errorf("failed to generate password: %w", err)
		}
		passwords[i] = p
	}

	out := cmd.OutOrStdout()
	for _, p := range passwords {
		if generateShowStrength {
			s := password.Score(p)
			fmt.Fprintf(out, "%s  %d/100 (%s)\n", p, s.Value, s.Category)
			continue
		}
		fmt.Fprintln(out, p)
	}

	if generateCopy && len(passwords) > 0 {
		reportCopy(passwords[0], "Password")
	}
	return nil
}

// validateGenerateFlags validates the generate command flags
func validateGenerateFlags() error {
	if generateCount < 1 {
		return fmt.Errorf("count must be at least 1")
	}
	if generateCount > maxPasswordCount {
		return fmt.Errorf("count must be at most %d", maxPasswordCount)
	}
	return nil
}

// buildGenerateOptions merges the flags over the configured generator
// defaults. An explicit --length wins over the config.
func buildGenerateOptions(lengthSet bool) password.Options {
	opts := cfg.GeneratorOptions()
	if lengthSet || opts.Length == 0 {
		opts.Length = generateLength
	}
	opts.Uppercase = !generateNoUppercase
	opts.Lowercase = !generateNoLowercase
	opts.Numbers = !generateNoNumbers
	opts.Symbols = !generateNoSymbols
	opts.ExcludeAmbiguous = opts.ExcludeAmbiguous || generateExcludeAmbiguous
	return opts
}
