package importer

// LastPassParser parses LastPass CSV export files:
// url,username,password,totp,extra,name,grouping,fav
type LastPassParser struct{}

// LastPass CSV column names (header-based parsing).
const (
	lpColURL      = "url"
	lpColUsername = "username"
	lpColPassword = "password"
	lpColTOTP     = "totp"
	lpColExtra    = "extra"
	lpColName     = "name"
)

// lpSecureNoteURL marks secure notes in LastPass exports.
const lpSecureNoteURL = "http://sn"

// Source returns the source type for this parser.
func (p *LastPassParser) Source() Source {
	return SourceLastPass
}

// Parse parses LastPass CSV data. Values may be HTML-encoded.
func (p *LastPassParser) Parse(data []byte, opts ParseOptions) (*ImportResult, error) {
	result := newResult()
	err := parseCSV(data, lpColName, true, result, func(get csvRow) {
		value := func(col string) string { return DecodeHTMLEntities(get(col)) }

		l := login{
			name:     value(lpColName),
			username: value(lpColUsername),
			password: value(lpColPassword),
			totp:     value(lpColTOTP),
			notes:    value(lpColExtra),
		}
		url := value(lpColURL)
		if url == lpSecureNoteURL {
			result.Skipped = append(result.Skipped, SkippedItem{OriginalName: l.name, Reason: "unsupported item type: secure note"})
			return
		}
		if url != "" {
			l.urls = []string{url}
		}
		result.add(&l, opts)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
