package mcp

import (
	"testing"
)

func TestMaskValue(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected string
	}{
		// Length 0
		{
			name:     "empty value",
			value:    "",
			expected: "",
		},
		// Length 1-4: all asterisks
		{
			name:     "1 character",
			value:    "a",
			expected: "*",
		},
		{
			name:     "4 characters",
			value:    "abcd",
			expected: "****",
		},
		// Length 5-8: show last 2
		{
			name:     "5 characters",
			value:    "abcde",
			expected: "***de",
		},
		{
			name:     "8 characters",
			value:    "abcdefgh",
			expected: "******gh",
		},
		// Length 9+: show last 4
		{
			name:     "9 characters",
			value:    "abcdefghi",
			expected: "*****fghi",
		},
		{
			name:     "long value",
			value:    "correct-horse-battery-staple",
			expected: "************************aple",
		},
		{
			name:     "multibyte runes are not split",
			value:    "pässwörd-ünïcödé",
			expected: "************cödé",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := maskValue([]rune(tt.value))
			if result != tt.expected {
				t.Errorf("maskValue(%q) = %q, want %q", tt.value, result, tt.expected)
			}
		})
	}
}

func TestBoolOr(t *testing.T) {
	yes, no := true, false
	if !boolOr(nil, true) {
		t.Error("nil should take the default")
	}
	if boolOr(&no, true) {
		t.Error("explicit false should win")
	}
	if !boolOr(&yes, false) {
		t.Error("explicit true should win")
	}
}
