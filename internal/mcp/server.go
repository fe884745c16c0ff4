// Package mcp implements the MCP (Model Context Protocol) server for pwvault.
// Agents can generate and score passwords and inspect record metadata, but
// never receive a stored password in plaintext.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/forest6511/pwvault/pkg/audit"
	"github.com/forest6511/pwvault/pkg/vault"
)

// PasswordEnv is read, then cleared, when no password is passed in.
const PasswordEnv = "PWVAULT_PASSWORD"

// Version is reported to MCP clients.
var Version = "dev"

// Server represents the MCP server for pwvault.
type Server struct {
	server *mcp.Server
	vault  *vault.Service
	policy *Policy
	audit  *audit.Logger
	logger *zap.Logger
}

// ServerOptions contains configuration options for the MCP server.
type ServerOptions struct {
	// VaultDir holds the policy file.
	VaultDir string

	// Password is the master password for the vault.
	// If empty, the server reads PWVAULT_PASSWORD.
	Password string

	// Audit records denied tool calls. Optional.
	Audit  *audit.Logger
	Logger *zap.Logger
}

// NewServer unlocks svc and registers the tools.
func NewServer(svc *vault.Service, opts *ServerOptions) (*Server, error) {
	if svc == nil {
		return nil, errors.New("vault service is required")
	}
	if opts == nil {
		opts = &ServerOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	policy, err := LoadPolicy(opts.VaultDir)
	if err != nil {
		// Not fatal: without a policy every vault-reading tool is denied.
		if !errors.Is(err, ErrPolicyNotFound) {
			logger.Warn("failed to load MCP policy", zap.Error(err))
		}
		policy = nil
	}

	password := opts.Password
	if password == "" {
		password = os.Getenv(PasswordEnv)
		os.Unsetenv(PasswordEnv)
	}
	if password == "" {
		return nil, fmt.Errorf("no password provided: set %s environment variable", PasswordEnv)
	}

	res, err := svc.Authenticate(password)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock vault: %w", err)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("failed to unlock vault: %w", err)
	}

	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "pwvault",
			Version: Version,
		}, nil),
		vault:  svc,
		policy: policy,
		audit:  opts.Audit,
		logger: logger,
	}
	s.registerTools()
	return s, nil
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "password_generate",
		Description: "Generate a random password. Options select length (4-128) and character classes.",
	}, s.handleGenerate)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "password_score",
		Description: "Score a password from 0 to 100 and return its strength category.",
	}, s.handleScore)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vault_status",
		Description: "Report whether the vault is unlocked, the lockout state and the session time left.",
	}, s.handleStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "record_list",
		Description: "List saved records with metadata only. Does NOT return passwords. Requires policy approval.",
	}, s.handleRecordList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "record_get_masked",
		Description: "Get a masked version of a record's password (e.g. '****WXYZ'). Requires policy approval.",
	}, s.handleRecordGetMasked)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "security_report",
		Description: "Compute the vault security score with weak, reused and old password counts. Requires policy approval.",
	}, s.handleSecurityReport)
}

// Run starts the MCP server using stdio transport.
func (s *Server) Run(ctx context.Context) error {
	defer s.vault.Lock()

	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Close closes the server and locks the vault.
func (s *Server) Close() error {
	s.vault.Lock()
	return nil
}

// authorize gates a vault-reading tool on the policy.
func (s *Server) authorize(tool string) error {
	if s.policy == nil {
		return s.deny(tool, fmt.Sprintf("MCP policy not configured. Create %s in the vault directory to enable %s", PolicyFileName, tool))
	}
	if ok, reason := s.policy.IsToolAllowed(tool); !ok {
		return s.deny(tool, reason)
	}
	return nil
}

func (s *Server) deny(tool, reason string) error {
	s.logger.Info("tool call denied", zap.String("tool", tool), zap.String("reason", reason))
	if s.audit != nil {
		if err := s.audit.LogDenied(audit.OpToolCall, audit.SourceMCP, tool, reason); err != nil {
			s.logger.Warn("failed to write audit event", zap.Error(err))
		}
	}
	return errors.New(reason)
}

func (s *Server) showWebsites() bool {
	return s.policy != nil && s.policy.ShowWebsites
}
