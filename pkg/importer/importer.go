// Package importer converts exports from other password managers into
// pwvault records. Supports 1Password CSV, Bitwarden JSON, and LastPass CSV
// formats.
//
// Only logins map onto a record: entries without a username or password,
// and non-login item types, are reported as skipped.
package importer

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/forest6511/pwvault/pkg/vault"
)

// Source represents the source password manager format.
type Source string

const (
	Source1Password Source = "1password"
	SourceBitwarden Source = "bitwarden"
	SourceLastPass  Source = "lastpass"
)

// ImportResult contains the results of an import operation.
type ImportResult struct {
	// Records are the successfully converted logins, without ids.
	Records []vault.Record

	// Warnings are non-fatal issues encountered during parsing.
	Warnings []string

	// Skipped are items that were skipped with reasons.
	Skipped []SkippedItem
}

// SkippedItem represents an item that was skipped during import.
type SkippedItem struct {
	OriginalName string
	Reason       string
}

// Parser is the interface for competitor format parsers.
type Parser interface {
	// Parse parses the input data and returns the converted records.
	Parse(data []byte, opts ParseOptions) (*ImportResult, error)

	// Source returns the source type for this parser.
	Source() Source
}

// ParseOptions contains options for parsing.
type ParseOptions struct {
	// KeepTOTP appends TOTP seeds to the notes instead of dropping them.
	KeepTOTP bool
}

func newResult() *ImportResult {
	return &ImportResult{
		Records:  make([]vault.Record, 0),
		Warnings: make([]string, 0),
		Skipped:  make([]SkippedItem, 0),
	}
}

// login is the common shape every parser reduces an entry to.
type login struct {
	name     string
	urls     []string
	username string
	password string
	totp     string
	notes    string
}

// toRecord maps l onto a record, or returns the reason it cannot be.
func (l *login) toRecord(opts ParseOptions) (vault.Record, string) {
	if IsEmptyOrWhitespace(l.username) {
		return vault.Record{}, "missing username"
	}
	if l.password == "" {
		return vault.Record{}, "missing password"
	}

	website := ""
	if len(l.urls) > 0 {
		website = extractHostname(l.urls[0])
	}
	if website == "" {
		website = strings.TrimSpace(l.name)
	}
	if website == "" {
		return vault.Record{}, "missing name and URL"
	}

	var notes []string
	if l.notes != "" {
		notes = append(notes, l.notes)
	}
	for _, u := range l.urls {
		notes = append(notes, "URL: "+u)
	}
	if opts.KeepTOTP && l.totp != "" {
		notes = append(notes, "TOTP: "+l.totp)
	}

	return vault.Record{
		Website:  website,
		Username: l.username,
		Password: l.password,
		Notes:    strings.Join(notes, "\n"),
	}, ""
}

// add converts l and records the outcome in r.
func (r *ImportResult) add(l *login, opts ParseOptions) {
	rec, reason := l.toRecord(opts)
	if reason != "" {
		r.Skipped = append(r.Skipped, SkippedItem{OriginalName: l.name, Reason: reason})
		return
	}
	r.Records = append(r.Records, rec)
}

// extractHostname extracts the hostname from a URL.
func extractHostname(urlStr string) string {
	urlStr = strings.TrimSpace(urlStr)
	// Simple hostname extraction without full URL parsing
	if idx := strings.Index(urlStr, "://"); idx != -1 {
		urlStr = urlStr[idx+3:]
	}
	if idx := strings.IndexAny(urlStr, "/?#"); idx != -1 {
		urlStr = urlStr[:idx]
	}
	if idx := strings.LastIndex(urlStr, "@"); idx != -1 {
		urlStr = urlStr[idx+1:]
	}
	if idx := strings.Index(urlStr, ":"); idx != -1 {
		urlStr = urlStr[:idx]
	}
	return strings.TrimPrefix(strings.ToLower(urlStr), "www.")
}

// DecodeHTMLEntities decodes common HTML entities found in LastPass exports.
func DecodeHTMLEntities(s string) string {
	return htmlEntities.Replace(s)
}

var htmlEntities = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", "\"",
	"&#39;", "'",
	"&apos;", "'",
)

// IsEmptyOrWhitespace checks if a string is empty or contains only whitespace.
func IsEmptyOrWhitespace(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// GetParser returns a parser for the given source.
func GetParser(source Source) (Parser, error) {
	switch source {
	case Source1Password:
		return &OnePasswordParser{}, nil
	case SourceBitwarden:
		return &BitwardenParser{}, nil
	case SourceLastPass:
		return &LastPassParser{}, nil
	default:
		return nil, fmt.Errorf("importer: unsupported import source: %s", source)
	}
}

// ValidSources returns a list of valid source names.
func ValidSources() []string {
	return []string{
		string(Source1Password),
		string(SourceBitwarden),
		string(SourceLastPass),
	}
}
