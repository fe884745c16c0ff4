package password

import (
	"errors"
	"strings"
	"testing"
	"unicode"
)

func TestGenerateAlphanumeric(t *testing.T) {
	opts := Options{Length: 16, Uppercase: true, Lowercase: true, Numbers: true}

	for i := 0; i < 50; i++ {
		got, err := Generate(opts)
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if len(got) != 16 {
			t.Fatalf("Generate() length = %d, want 16", len(got))
		}
		for _, r := range got {
			if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
				t.Fatalf("Generate() = %q contains %q outside [A-Za-z0-9]", got, r)
			}
		}
	}
}

func TestGenerateNoClasses(t *testing.T) {
	_, err := Generate(Options{Length: 8})
	if !errors.Is(err, ErrInvalidCharset) {
		t.Errorf("Generate() error = %v, want ErrInvalidCharset", err)
	}
}

func TestGenerateLengthBounds(t *testing.T) {
	tests := []struct {
		length  int
		wantErr bool
	}{
		{0, true},
		{-1, true},
		{MinLength - 1, true},
		{MinLength, false},
		{DefaultLength, false},
		{MaxLength, false},
		{MaxLength + 1, true},
	}

	for _, tt := range tests {
		opts := DefaultOptions()
		opts.Length = tt.length
		got, err := Generate(opts)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidLength) {
				t.Errorf("Generate(length=%d) error = %v, want ErrInvalidLength", tt.length, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Generate(length=%d) unexpected error: %v", tt.length, err)
			continue
		}
		if len(got) != tt.length {
			t.Errorf("Generate(length=%d) returned %d characters", tt.length, len(got))
		}
	}
}

func TestCharset(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		want    string
		wantErr error
	}{
		{
			name: "uppercase only",
			opts: Options{Uppercase: true},
			want: CharsetUppercase,
		},
		{
			name: "union keeps class order",
			opts: Options{Uppercase: true, Lowercase: true, Numbers: true, Symbols: true},
			want: CharsetUppercase + CharsetLowercase + CharsetNumbers + CharsetSymbols,
		},
		{
			name: "ambiguous removed after union",
			opts: Options{Uppercase: true, Lowercase: true, Numbers: true, ExcludeAmbiguous: true},
			want: "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789",
		},
		{
			name: "symbols untouched by ambiguity filter",
			opts: Options{Symbols: true, ExcludeAmbiguous: true},
			want: CharsetSymbols,
		},
		{
			name:    "nothing selected",
			opts:    Options{ExcludeAmbiguous: true},
			wantErr: ErrInvalidCharset,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.Charset()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Charset() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Charset() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Charset() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateExcludeAmbiguous(t *testing.T) {
	opts := Options{Length: 128, Uppercase: true, Lowercase: true, Numbers: true, ExcludeAmbiguous: true}

	for i := 0; i < 20; i++ {
		got, err := Generate(opts)
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if strings.ContainsAny(got, Ambiguous) {
			t.Fatalf("Generate() = %q contains an ambiguous character", got)
		}
	}
}

func TestGenerateSymbolsOnly(t *testing.T) {
	got, err := Generate(Options{Length: 64, Symbols: true})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	for _, r := range got {
		if !strings.ContainsRune(CharsetSymbols, r) {
			t.Fatalf("Generate() = %q contains non-symbol %q", got, r)
		}
	}
}

func TestGenerateUsesWholeAlphabet(t *testing.T) {
	// 64 * 128 draws over 10 digits: missing any digit is vanishingly unlikely.
	seen := make(map[rune]bool)
	for i := 0; i < 64; i++ {
		got, err := Generate(Options{Length: MaxLength, Numbers: true})
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		for _, r := range got {
			seen[r] = true
		}
	}
	if len(seen) != len(CharsetNumbers) {
		t.Errorf("Generate() used %d distinct digits, want %d", len(seen), len(CharsetNumbers))
	}
}

func TestRemoveChars(t *testing.T) {
	tests := []struct {
		s, chars, want string
	}{
		{"abc", "", "abc"},
		{"abc", "b", "ac"},
		{"0123456789", Ambiguous, "23456789"},
		{"", "abc", ""},
	}
	for _, tt := range tests {
		if got := removeChars(tt.s, tt.chars); got != tt.want {
			t.Errorf("removeChars(%q, %q) = %q, want %q", tt.s, tt.chars, got, tt.want)
		}
	}
}
