// Package password generates random passwords and scores password strength.
package password

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Character set constants
const (
	CharsetUppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	CharsetLowercase = "abcdefghijklmnopqrstuvwxyz"
	CharsetNumbers   = "0123456789"
	CharsetSymbols   = "!@#$%^&*()_+-=[]{}|;:,.<>?"

	// Ambiguous are glyphs easily confused with one another.
	Ambiguous = "0O1lI"

	MinLength     = 4
	MaxLength     = 128
	DefaultLength = 16
)

// Errors
var (
	// ErrInvalidCharset is returned when the selected options leave no
	// characters to draw from.
	ErrInvalidCharset = errors.New("password: no characters available, select at least one character type")

	// ErrInvalidLength is returned for lengths outside [MinLength, MaxLength].
	ErrInvalidLength = fmt.Errorf("password: length must be between %d and %d", MinLength, MaxLength)
)

// Options selects the alphabet and length of a generated password.
type Options struct {
	Length           int  `json:"length"`
	Uppercase        bool `json:"uppercase"`
	Lowercase        bool `json:"lowercase"`
	Numbers          bool `json:"numbers"`
	Symbols          bool `json:"symbols"`
	ExcludeAmbiguous bool `json:"exclude_ambiguous"`
}

// DefaultOptions returns a 16 character password over all four classes.
func DefaultOptions() Options {
	return Options{
		Length:    DefaultLength,
		Uppercase: true,
		Lowercase: true,
		Numbers:   true,
		Symbols:   true,
	}
}

// Charset builds the alphabet for o: the union of the selected classes,
// minus the ambiguous glyphs when requested.
func (o Options) Charset() (string, error) {
	var charset strings.Builder

	if o.Uppercase {
		charset.WriteString(CharsetUppercase)
	}
	if o.Lowercase {
		charset.WriteString(CharsetLowercase)
	}
	if o.Numbers {
		charset.WriteString(CharsetNumbers)
	}
	if o.Symbols {
		charset.WriteString(CharsetSymbols)
	}

	if charset.Len() == 0 {
		return "", ErrInvalidCharset
	}

	result := charset.String()
	if o.ExcludeAmbiguous {
		result = removeChars(result, Ambiguous)
	}

	// Exclusion can empty a selection, e.g. only numbers restricted to "01".
	// That is the same failure as selecting nothing.
	if result == "" {
		return "", ErrInvalidCharset
	}
	return result, nil
}

// Generate returns a password of exactly o.Length characters, each drawn
// independently and uniformly from o's alphabet using crypto/rand.
func Generate(o Options) (string, error) {
	if o.Length < MinLength || o.Length > MaxLength {
		return "", fmt.Errorf("%w: got %d", ErrInvalidLength, o.Length)
	}

	charset, err := o.Charset()
	if err != nil {
		return "", err
	}

	return generate(charset, o.Length)
}

// generate picks length characters from charset.
func generate(charset string, length int) (string, error) {
	charsetLen := big.NewInt(int64(len(charset)))
	password := make([]byte, length)

	for i := 0; i < length; i++ {
		idx, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", fmt.Errorf("password: failed to generate random number: %w", err)
		}
		password[i] = charset[idx.Int64()]
	}

	return string(password), nil
}

// removeChars removes every rune of chars from s.
func removeChars(s, chars string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(chars, r) {
			return -1
		}
		return r
	}, s)
}
