package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/pwvault/internal/logging"
	"github.com/forest6511/pwvault/pkg/importer"
	"github.com/forest6511/pwvault/pkg/vault"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script for your shell",
	Long: `To load completions:

Bash:
  $ source <(pwvault completion bash)

  # To load for each session (Linux):
  $ pwvault completion bash > ~/.local/share/bash-completion/completions/pwvault

  # To load for each session (macOS with Homebrew):
  $ pwvault completion bash > $(brew --prefix)/etc/bash_completion.d/pwvault

Zsh:
  # Ensure completion is enabled:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # Generate completion:
  $ pwvault completion zsh > ~/.zsh/completions/_pwvault
  # (create ~/.zsh/completions if needed, add to fpath in .zshrc)

Fish:
  $ pwvault completion fish > ~/.config/fish/completions/pwvault.fish

PowerShell:
  PS> pwvault completion powershell >> $PROFILE

Record ids and websites are never completed: that would need the vault
to be unlocked while the shell completes.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Annotations:           map[string]string{noVault: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(out)
		case "zsh":
			return cmd.Root().GenZshCompletion(out)
		case "fish":
			return cmd.Root().GenFishCompletion(out, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(out)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

// registerCompletionFunctions adds value completion to the flags with a
// fixed set of values. It runs after every init has registered its flags.
func registerCompletionFunctions() {
	_ = rootCmd.RegisterFlagCompletionFunc("log-level", fixedValues("debug", "info", "warn", "error"))
	_ = rootCmd.RegisterFlagCompletionFunc("log-format", fixedValues(logging.FormatConsole, logging.FormatJSON))
	_ = importCmd.RegisterFlagCompletionFunc("from", fixedValues(importer.ValidSources()...))
	_ = settingsSetCmd.RegisterFlagCompletionFunc("theme",
		fixedValues(string(vault.ThemeLight), string(vault.ThemeDark), string(vault.ThemeAuto)))

	for _, c := range []*cobra.Command{getCmd, editCmd, deleteCmd} {
		c.ValidArgsFunction = noCompletion
	}
}

func fixedValues(values ...string) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		var matches []string
		for _, v := range values {
			if strings.HasPrefix(v, toComplete) {
				matches = append(matches, v)
			}
		}
		return matches, cobra.ShellCompDirectiveNoFileComp
	}
}

func noCompletion(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return nil, cobra.ShellCompDirectiveNoFileComp
}
