package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forest6511/pwvault/internal/mcp"
)

var mcpInitPolicy bool

func init() {
	rootCmd.AddCommand(mcpServerCmd)

	mcpServerCmd.Flags().BoolVar(&mcpInitPolicy, "init-policy", false, "Write a default "+mcp.PolicyFileName+" to the vault directory and exit")
}

// mcpServerCmd starts the MCP server for AI assistant integration
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Start the MCP server for AI assistant integration",
	Long: `Start the MCP server that gives AI assistants limited access to the vault.

The server implements the Model Context Protocol (MCP) over stdio transport.
Passwords are never returned in plain text.

Available tools:
  - password_generate: Generate a random password with its strength
  - password_score:    Rate a password
  - vault_status:      Lockout and session state
  - record_list:       List records (websites only if the policy allows)
  - record_get_masked: Get a masked password (e.g., "********WXYZ")
  - security_report:   Password health score and issues

Authentication:
  Set PWVAULT_PASSWORD before starting the server. The password is read once
  and immediately cleared from the environment. Failed attempts count
  towards the lockout like any other unlock.

Policy:
  Tools that read records need ~/.pwvault/mcp-policy.yaml (mode 0600).
  Without it they are denied. Create one with --init-policy.

Example MCP client configuration:
  {
    "mcpServers": {
      "pwvault": {
        "type": "stdio",
        "command": "/path/to/pwvault",
        "args": ["mcp-server"],
        "env": {
          "PWVAULT_PASSWORD": "your-master-password"
        }
      }
    }
  }`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if mcpInitPolicy {
			path, err := writeDefaultPolicy(cfg.VaultDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Policy written to %s\n", path)
			return nil
		}
		return runMCPServer(cmd.Context())
	},
}

func runMCPServer(parent context.Context) error {
	mcp.Version = version
	server, err := mcp.NewServer(svc, &mcp.ServerOptions{
		VaultDir: cfg.VaultDir,
		Audit:    auditLog,
		Logger:   logger.Named("mcp"),
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	// Set up signal handling for graceful shutdown
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
			server.Close()
		case <-ctx.Done():
		}
	}()

	if err := server.Run(ctx); err != nil {
		// Don't report context canceled as an error
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

// writeDefaultPolicy creates the policy file with owner-only permissions.
// An existing policy is never replaced.
func writeDefaultPolicy(vaultDir string) (string, error) {
	path := filepath.Join(vaultDir, mcp.PolicyFileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("policy already exists: %s", path)
		}
		return "", fmt.Errorf("failed to create policy: %w", err)
	}
	if _, err := f.WriteString(mcp.DefaultPolicyYAML); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write policy: %w", err)
	}
	return path, f.Close()
}
