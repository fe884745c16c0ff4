package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/pwvault/internal/config"
)

var configForce bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "Overwrite an existing config file")
}

// configCmd manages the config file. None of its commands open the vault.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the pwvault config file",
	Long: `Manage the pwvault config file.

Settings are resolved in order: built-in defaults, the config file,
PWVAULT_* environment variables, then command-line flags.`,
	Annotations: map[string]string{noVault: "true"},
}

var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write the current settings to the config file",
	Annotations: map[string]string{noVault: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			var err error
			if path, err = config.Path(); err != nil {
				return err
			}
		}
		if err := config.WriteFile(path, cfg, configForce); err != nil {
			if errors.Is(err, config.ErrConfigExists) {
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:         "show",
	Short:       "Show the effective configuration",
	Annotations: map[string]string{noVault: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}
