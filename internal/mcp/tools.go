package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/pwvault/pkg/password"
	"github.com/forest6511/pwvault/pkg/security"
)

// GenerateInput represents input for password_generate. Unset classes
// default to enabled.
type GenerateInput struct {
	Length           int   `json:"length,omitempty"`
	Uppercase        *bool `json:"uppercase,omitempty"`
	Lowercase        *bool `json:"lowercase,omitempty"`
	Numbers          *bool `json:"numbers,omitempty"`
	Symbols          *bool `json:"symbols,omitempty"`
	ExcludeAmbiguous bool  `json:"exclude_ambiguous,omitempty"`
}

// GenerateOutput represents output for password_generate.
type GenerateOutput struct {
	Password string `json:"password"`
	Score    int    `json:"score"`
	Category string `json:"category"`
}

// ScoreInput represents input for password_score.
type ScoreInput struct {
	Password string `json:"password"`
}

// ScoreOutput represents output for password_score.
type ScoreOutput struct {
	Score    int    `json:"score"`
	Category string `json:"category"`
}

// StatusInput represents input for vault_status.
type StatusInput struct{}

// StatusOutput represents output for vault_status.
type StatusOutput struct {
	Unlocked                bool  `json:"unlocked"`
	LockedOut               bool  `json:"locked_out"`
	LockRemainingSeconds    int64 `json:"lock_remaining_seconds"`
	AttemptsLeft            int   `json:"attempts_left"`
	SessionRemainingSeconds int64 `json:"session_remaining_seconds"`
	AutoLockMinutes         int   `json:"auto_lock_minutes"`
}

// RecordListInput represents input for record_list.
type RecordListInput struct {
	Query string `json:"query,omitempty"`
}

// RecordListOutput represents output for record_list.
type RecordListOutput struct {
	Records []RecordInfo `json:"records"`
}

// RecordInfo is record metadata (no password).
type RecordInfo struct {
	ID           string `json:"id"`
	Website      string `json:"website,omitempty"`
	Username     string `json:"username,omitempty"`
	HasNotes     bool   `json:"has_notes"`
	Strength     string `json:"strength"`
	CreatedAt    string `json:"created_at"`
	LastModified string `json:"last_modified"`
}

// RecordGetMaskedInput represents input for record_get_masked.
type RecordGetMaskedInput struct {
	ID string `json:"id"`
}

// RecordGetMaskedOutput represents output for record_get_masked.
type RecordGetMaskedOutput struct {
	ID          string `json:"id"`
	MaskedValue string `json:"masked_value"`
	ValueLength int    `json:"value_length"`
}

// SecurityReportInput represents input for security_report.
type SecurityReportInput struct {
	Limit int `json:"limit,omitempty"`
}

// SecurityReportOutput represents output for security_report.
type SecurityReportOutput struct {
	Overall     int                      `json:"overall"`
	Components  security.ScoreComponents `json:"components"`
	RecordCount int                      `json:"record_count"`
	Weak        int                      `json:"weak"`
	Duplicate   int                      `json:"duplicate"`
	Old         int                      `json:"old"`
	Issues      []security.Issue         `json:"issues,omitempty"`
	Suggestions []string                 `json:"suggestions"`
}

func (s *Server) handleGenerate(_ context.Context, _ *mcp.CallToolRequest, input GenerateInput) (*mcp.CallToolResult, GenerateOutput, error) {
	opts := password.DefaultOptions()
	if input.Length != 0 {
		opts.Length = input.Length
	}
	opts.Uppercase = boolOr(input.Uppercase, true)
	opts.Lowercase = boolOr(input.Lowercase, true)
	opts.Numbers = boolOr(input.Numbers, true)
	opts.Symbols = boolOr(input.Symbols, true)
	opts.ExcludeAmbiguous = input.ExcludeAmbiguous

	pw, err := s.vault.Generate(opts)
	if err != nil {
		return nil, GenerateOutput{}, err
	}
	st := s.vault.Score(pw)
	return nil, GenerateOutput{Password: pw, Score: st.Value, Category: st.Category.String()}, nil
}

func (s *Server) handleScore(_ context.Context, _ *mcp.CallToolRequest, input ScoreInput) (*mcp.CallToolResult, ScoreOutput, error) {
	st := s.vault.Score(input.Password)
	return nil, ScoreOutput{Score: st.Value, Category: st.Category.String()}, nil
}

func (s *Server) handleStatus(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	st, err := s.vault.Status()
	if err != nil {
		return nil, StatusOutput{}, fmt.Errorf("failed to read vault status: %w", err)
	}
	return nil, StatusOutput{
		Unlocked:                st.Unlocked,
		LockedOut:               st.LockedOut,
		LockRemainingSeconds:    int64(st.LockRemaining / time.Second),
		AttemptsLeft:            st.AttemptsLeft,
		SessionRemainingSeconds: int64(st.SessionRemaining / time.Second),
		AutoLockMinutes:         st.AutoLock,
	}, nil
}

func (s *Server) handleRecordList(_ context.Context, _ *mcp.CallToolRequest, input RecordListInput) (*mcp.CallToolResult, RecordListOutput, error) {
	if err := s.authorize("record_list"); err != nil {
		return nil, RecordListOutput{}, err
	}

	records, err := s.vault.SearchRecords(input.Query)
	if err != nil {
		return nil, RecordListOutput{}, fmt.Errorf("failed to list records: %w", err)
	}

	output := RecordListOutput{Records: make([]RecordInfo, 0, len(records))}
	for _, r := range records {
		info := RecordInfo{
			ID:           r.ID,
			HasNotes:     r.Notes != "",
			Strength:     password.Score(r.Password).Category.String(),
			CreatedAt:    r.CreatedAt.Format(time.RFC3339),
			LastModified: r.LastModified.Format(time.RFC3339),
		}
		if s.showWebsites() {
			info.Website = r.Website
			info.Username = r.Username
		}
		output.Records = append(output.Records, info)
	}
	return nil, output, nil
}

func (s *Server) handleRecordGetMasked(_ context.Context, _ *mcp.CallToolRequest, input RecordGetMaskedInput) (*mcp.CallToolResult, RecordGetMaskedOutput, error) {
	if input.ID == "" {
		return nil, RecordGetMaskedOutput{}, errors.New("id is required")
	}
	if err := s.authorize("record_get_masked"); err != nil {
		return nil, RecordGetMaskedOutput{}, err
	}

	r, err := s.vault.GetRecord(input.ID)
	if err != nil {
		return nil, RecordGetMaskedOutput{}, fmt.Errorf("failed to get record: %w", err)
	}

	runes := []rune(r.Password)
	return nil, RecordGetMaskedOutput{
		ID:          r.ID,
		MaskedValue: maskValue(runes),
		ValueLength: len(runes),
	}, nil
}

func (s *Server) handleSecurityReport(_ context.Context, _ *mcp.CallToolRequest, input SecurityReportInput) (*mcp.CallToolResult, SecurityReportOutput, error) {
	if err := s.authorize("security_report"); err != nil {
		return nil, SecurityReportOutput{}, err
	}

	records, err := s.vault.ListRecords()
	if err != nil {
		return nil, SecurityReportOutput{}, fmt.Errorf("failed to list records: %w", err)
	}

	analyzer := security.NewAnalyzer()
	defer analyzer.Close()

	report, err := analyzer.Analyze(records, security.Options{
		IncludeDetails: s.showWebsites(),
		Limit:          input.Limit,
	})
	if err != nil {
		return nil, SecurityReportOutput{}, err
	}

	output := SecurityReportOutput{
		Overall:     report.Overall,
		Components:  report.Components,
		RecordCount: report.RecordCount,
		Suggestions: report.Suggestions,
	}
	for _, issue := range report.Issues {
		switch issue.Type {
		case security.IssueWeakPassword:
			output.Weak++
		case security.IssueDuplicatePassword:
			output.Duplicate++
		case security.IssueOldPassword:
			output.Old++
		}
	}
	if s.showWebsites() {
		output.Issues = report.Issues
	}
	return nil, output, nil
}

// maskValue masks a password
// | Length  | Format          | Example   |
// |---------|-----------------|-----------|
// | 1-4     | All *           | ****      |
// | 5-8     | Show last 2     | ******XY  |
// | 9+      | Show last 4     | ****WXYZ  |
func maskValue(value []rune) string {
	length := len(value)
	if length == 0 {
		return ""
	}

	switch {
	case length <= 4:
		return strings.Repeat("*", length)
	case length <= 8:
		return strings.Repeat("*", length-2) + string(value[length-2:])
	default:
		return strings.Repeat("*", length-4) + string(value[length-4:])
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
