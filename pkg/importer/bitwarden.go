package importer

import (
	"encoding/json"
	"fmt"
)

// BitwardenParser parses Bitwarden JSON export files.
type BitwardenParser struct{}

// Bitwarden item types.
const (
	bitwardenTypeLogin      = 1
	bitwardenTypeSecureNote = 2
	bitwardenTypeCard       = 3
	bitwardenTypeIdentity   = 4
)

// bitwardenExport represents the top-level Bitwarden export structure.
type bitwardenExport struct {
	Encrypted bool            `json:"encrypted"`
	Items     []bitwardenItem `json:"items"`
}

// bitwardenItem represents a Bitwarden vault item.
type bitwardenItem struct {
	Type   int                    `json:"type"`
	Name   string                 `json:"name"`
	Notes  string                 `json:"notes"`
	Login  *bitwardenLogin        `json:"login"`
	Fields []bitwardenCustomField `json:"fields"`
}

// bitwardenLogin represents Bitwarden login data.
type bitwardenLogin struct {
	URIs     []bitwardenURI `json:"uris"`
	Username string         `json:"username"`
	Password string         `json:"password"`
	TOTP     string         `json:"totp"`
}

// bitwardenURI represents a Bitwarden URI entry.
type bitwardenURI struct {
	URI string `json:"uri"`
}

// bitwardenCustomField represents a Bitwarden custom field.
type bitwardenCustomField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Source returns the source type for this parser.
func (p *BitwardenParser) Source() Source {
	return SourceBitwarden
}

// Parse parses Bitwarden JSON data.
func (p *BitwardenParser) Parse(data []byte, opts ParseOptions) (*ImportResult, error) {
	var export bitwardenExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("importer: failed to parse Bitwarden JSON: %w", err)
	}
	if export.Encrypted {
		return nil, fmt.Errorf("importer: encrypted Bitwarden exports are not supported, export as unencrypted JSON")
	}

	result := newResult()
	for i := range export.Items {
		item := &export.Items[i]

		if item.Type != bitwardenTypeLogin {
			result.Skipped = append(result.Skipped, SkippedItem{
				OriginalName: item.Name,
				Reason:       "unsupported item type: " + bitwardenTypeName(item.Type),
			})
			continue
		}
		if item.Login == nil {
			result.Skipped = append(result.Skipped, SkippedItem{OriginalName: item.Name, Reason: "no login data"})
			continue
		}
		if len(item.Fields) > 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("item %d (%s): %d custom fields not imported", i+1, item.Name, len(item.Fields)))
		}

		l := login{
			name:     item.Name,
			username: item.Login.Username,
			password: item.Login.Password,
			totp:     item.Login.TOTP,
			notes:    item.Notes,
		}
		for _, u := range item.Login.URIs {
			if u.URI != "" {
				l.urls = append(l.urls, u.URI)
			}
		}
		result.add(&l, opts)
	}
	return result, nil
}

func bitwardenTypeName(t int) string {
	switch t {
	case bitwardenTypeSecureNote:
		return "secure note"
	case bitwardenTypeCard:
		return "card"
	case bitwardenTypeIdentity:
		return "identity"
	default:
		return fmt.Sprintf("%d", t)
	}
}
