package password

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     int
		category Category
	}{
		{"empty", "", 0, Weak},
		{"single lowercase", "a", 14, Weak},
		{"four digits", "1234", 26, Weak},
		{"five lowercase", "abcde", 30, Medium},
		{"twelve lowercase hits strong boundary", "aaaaaaaaaaaa", 60, Strong},
		{"eleven lowercase", "aaaaaaaaaaa", 54, Medium},
		{"mixed case eight", "Password", 52, Medium},
		{"three classes eight", "Passw0rd", 62, Strong},
		{"all classes short", "Ab1!", 16 + 10 + 10 + 10 + 15 + 15, Strong},
		{"all classes eight", "Passw0rd!", 36 + 10 + 10 + 10 + 15 + 15, VeryStrong},
		{"all classes clamps at 100", "Abcdef1!23456", 100, VeryStrong},
		{"non ascii counts as symbol", "pässwörd", 32 + 10 + 15, Medium},
		{"long symbols only", strings.Repeat("!", 20), 40 + 15 + 10, Strong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.password)
			if got.Value != tt.want {
				t.Errorf("Score(%q).Value = %d, want %d", tt.password, got.Value, tt.want)
			}
			if got.Category != tt.category {
				t.Errorf("Score(%q).Category = %v, want %v", tt.password, got.Category, tt.category)
			}
		})
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	for _, p := range []string{"", "hunter2", "Abcdef1!23456", "correct horse battery staple"} {
		if Score(p) != Score(p) {
			t.Errorf("Score(%q) is not deterministic", p)
		}
	}
}

func TestScoreNeverExceedsBounds(t *testing.T) {
	for n := 0; n <= 64; n++ {
		s := Score(strings.Repeat("aA1!", n))
		if s.Value < 0 || s.Value > 100 {
			t.Fatalf("Score() of %d repeats = %d, out of [0,100]", n, s.Value)
		}
	}
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		score int
		want  Category
	}{
		{0, Weak},
		{29, Weak},
		{30, Medium},
		{59, Medium},
		{60, Strong},
		{79, Strong},
		{80, VeryStrong},
		{100, VeryStrong},
	}

	for _, tt := range tests {
		if got := CategoryOf(tt.score); got != tt.want {
			t.Errorf("CategoryOf(%d) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestCategoryString(t *testing.T) {
	tests := []struct {
		category Category
		want     string
	}{
		{Weak, "Weak"},
		{Medium, "Medium"},
		{Strong, "Strong"},
		{VeryStrong, "Very Strong"},
		{Category(99), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.category.String(); got != tt.want {
			t.Errorf("Category(%d).String() = %q, want %q", tt.category, got, tt.want)
		}
	}
}

func TestStrengthJSON(t *testing.T) {
	data, err := json.Marshal(Score("aaaaaaaaaaaa"))
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if string(data) != `{"value":60,"category":"Strong"}` {
		t.Errorf("json.Marshal() = %s", data)
	}
}
