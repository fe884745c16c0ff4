package mcp

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writePolicy(t *testing.T, dir, content string, perm os.FileMode) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, PolicyFileName), []byte(content), perm); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}
	// WriteFile honors the umask; force the mode under test.
	if err := os.Chmod(filepath.Join(dir, PolicyFileName), perm); err != nil {
		t.Fatalf("failed to chmod policy file: %v", err)
	}
}

func TestLoadPolicy_NotFound(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := LoadPolicy(tmpDir)
	if !errors.Is(err, ErrPolicyNotFound) {
		t.Errorf("expected ErrPolicyNotFound, got %v", err)
	}
}

func TestLoadPolicy_Success(t *testing.T) {
	tmpDir := t.TempDir()
	writePolicy(t, tmpDir, `version: 1
default_action: deny
allowed_tools:
  - record_list
  - security_report
denied_tools:
  - record_get_masked
show_websites: true
`, 0600)

	policy, err := LoadPolicy(tmpDir)
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}

	if policy.Version != 1 {
		t.Errorf("expected version 1, got %d", policy.Version)
	}
	if policy.DefaultAction != ActionDeny {
		t.Errorf("expected default_action 'deny', got '%s'", policy.DefaultAction)
	}
	if len(policy.AllowedTools) != 2 {
		t.Errorf("expected 2 allowed tools, got %d", len(policy.AllowedTools))
	}
	if len(policy.DeniedTools) != 1 {
		t.Errorf("expected 1 denied tool, got %d", len(policy.DeniedTools))
	}
	if !policy.ShowWebsites {
		t.Error("expected show_websites to be true")
	}
}

func TestLoadPolicy_DefaultTemplate(t *testing.T) {
	tmpDir := t.TempDir()
	writePolicy(t, tmpDir, DefaultPolicyYAML, 0600)

	policy, err := LoadPolicy(tmpDir)
	if err != nil {
		t.Fatalf("default template does not load: %v", err)
	}
	if ok, _ := policy.IsToolAllowed("record_get_masked"); ok {
		t.Error("default template should deny record_get_masked")
	}
}

func TestLoadPolicy_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not enforced on Windows")
	}
	tmpDir := t.TempDir()
	writePolicy(t, tmpDir, "version: 1\n", 0644)

	_, err := LoadPolicy(tmpDir)
	if !errors.Is(err, ErrPolicyInsecure) {
		t.Errorf("expected ErrPolicyInsecure, got %v", err)
	}
}

func TestLoadPolicy_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	writePolicy(t, tmpDir, "version: [1\n", 0600)

	if _, err := LoadPolicy(tmpDir); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadPolicy_UnsupportedVersion(t *testing.T) {
	tmpDir := t.TempDir()
	writePolicy(t, tmpDir, "version: 2\n", 0600)

	if _, err := LoadPolicy(tmpDir); err == nil {
		t.Error("expected error for unsupported version")
	}
}

func TestLoadPolicy_DefaultActionFallback(t *testing.T) {
	tmpDir := t.TempDir()
	writePolicy(t, tmpDir, "version: 1\n", 0600)

	policy, err := LoadPolicy(tmpDir)
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}
	if policy.DefaultAction != ActionDeny {
		t.Errorf("expected default_action to fall back to 'deny', got '%s'", policy.DefaultAction)
	}
}

func TestLoadPolicy_Symlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on Windows")
	}
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "real.yaml")
	if err := os.WriteFile(target, []byte("version: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, filepath.Join(tmpDir, PolicyFileName)); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}

	_, err := LoadPolicy(tmpDir)
	if !errors.Is(err, ErrPolicySymlink) {
		t.Errorf("expected ErrPolicySymlink, got %v", err)
	}
}

func TestIsToolAllowed(t *testing.T) {
	policy := &Policy{
		Version:       1,
		DefaultAction: ActionDeny,
		AllowedTools:  []string{"record_*"},
		DeniedTools:   []string{"record_get_masked"},
	}

	tests := []struct {
		tool    string
		allowed bool
	}{
		{"record_list", true},
		{"record_get_masked", false},
		{"security_report", false},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			allowed, reason := policy.IsToolAllowed(tt.tool)
			if allowed != tt.allowed {
				t.Errorf("IsToolAllowed(%q) = %v (%s), want %v", tt.tool, allowed, reason, tt.allowed)
			}
			if !allowed && reason == "" {
				t.Error("denial should carry a reason")
			}
		})
	}
}

func TestIsToolAllowed_DefaultAllow(t *testing.T) {
	policy := &Policy{Version: 1, DefaultAction: ActionAllow, DeniedTools: []string{"security_report"}}

	if ok, _ := policy.IsToolAllowed("record_list"); !ok {
		t.Error("default allow should allow unlisted tools")
	}
	if ok, _ := policy.IsToolAllowed("security_report"); ok {
		t.Error("denied_tools should win over default allow")
	}
}

func TestMatchTool(t *testing.T) {
	tests := []struct {
		tool, pattern string
		want          bool
	}{
		{"record_list", "record_list", true},
		{"record_list", "record_*", true},
		{"security_report", "record_*", false},
		{"record_list", "[bad", false},
	}
	for _, tt := range tests {
		if got := matchTool(tt.tool, tt.pattern); got != tt.want {
			t.Errorf("matchTool(%q, %q) = %v, want %v", tt.tool, tt.pattern, got, tt.want)
		}
	}
}

func TestValidatePolicy(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"valid deny", Policy{Version: 1, DefaultAction: ActionDeny}, false},
		{"valid allow", Policy{Version: 1, DefaultAction: ActionAllow}, false},
		{"bad version", Policy{Version: 0, DefaultAction: ActionDeny}, true},
		{"bad action", Policy{Version: 1, DefaultAction: "maybe"}, true},
		{"bad pattern", Policy{Version: 1, DefaultAction: ActionDeny, AllowedTools: []string{"[x"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.ValidatePolicy()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePolicy() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
