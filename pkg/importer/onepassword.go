package importer

// OnePasswordParser parses 1Password CSV export files:
// Title,Website,Username,Password,OTPAuth,Favorite,Archived,Tags,Notes
type OnePasswordParser struct{}

// 1Password CSV column names (header-based parsing).
const (
	op1ColTitle    = "Title"
	op1ColWebsite  = "Website"
	op1ColUsername = "Username"
	op1ColPassword = "Password"
	op1ColOTPAuth  = "OTPAuth"
	op1ColArchived = "Archived"
	op1ColNotes    = "Notes"
)

// Source returns the source type for this parser.
func (p *OnePasswordParser) Source() Source {
	return Source1Password
}

// Parse parses 1Password CSV data. Archived items are imported with a
// warning.
func (p *OnePasswordParser) Parse(data []byte, opts ParseOptions) (*ImportResult, error) {
	result := newResult()
	err := parseCSV(data, op1ColTitle, false, result, func(get csvRow) {
		l := login{
			name:     get(op1ColTitle),
			username: get(op1ColUsername),
			password: get(op1ColPassword),
			totp:     get(op1ColOTPAuth),
			notes:    get(op1ColNotes),
		}
		if website := get(op1ColWebsite); website != "" {
			l.urls = []string{website}
		}
		if get(op1ColArchived) == "true" {
			result.Warnings = append(result.Warnings, l.name+": archived item imported")
		}
		result.add(&l, opts)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
