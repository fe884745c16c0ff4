package password

import "unicode/utf8"

// Category is the coarse strength bucket of a score.
type Category int

const (
	// Weak covers scores in [0, 30).
	Weak Category = iota
	// Medium covers scores in [30, 60).
	Medium
	// Strong covers scores in [60, 80).
	Strong
	// VeryStrong covers scores in [80, 100].
	VeryStrong
)

// String returns a human-readable representation of the category.
func (c Category) String() string {
	switch c {
	case Weak:
		return "Weak"
	case Medium:
		return "Medium"
	case Strong:
		return "Strong"
	case VeryStrong:
		return "Very Strong"
	default:
		return "Unknown"
	}
}

// MarshalText lets categories serialize by name.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Strength is the result of Score.
type Strength struct {
	Value    int      `json:"value"`
	Category Category `json:"category"`
}

// Scoring weights.
const (
	lengthPointsPerChar = 4
	lengthPointsMax     = 40
	lowerPoints         = 10
	upperPoints         = 10
	digitPoints         = 10
	symbolPoints        = 15
	longLength          = 12
	longPoints          = 10
	allClassesPoints    = 15
	maxScore            = 100
)

// Score rates password on a 0-100 scale from its length and the character
// classes it uses. It is a compatibility heuristic: it says nothing about
// real entropy, and a long password made of a dictionary word can still
// score highly.
func Score(password string) Strength {
	length := utf8.RuneCountInString(password)

	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		default:
			hasSymbol = true
		}
	}

	score := min(length*lengthPointsPerChar, lengthPointsMax)
	if hasLower {
		score += lowerPoints
	}
	if hasUpper {
		score += upperPoints
	}
	if hasDigit {
		score += digitPoints
	}
	if hasSymbol {
		score += symbolPoints
	}
	if length >= longLength {
		score += longPoints
	}
	if hasLower && hasUpper && hasDigit && hasSymbol {
		score += allClassesPoints
	}
	score = min(score, maxScore)

	return Strength{Value: score, Category: CategoryOf(score)}
}

// CategoryOf maps a score to its half-open bucket.
func CategoryOf(score int) Category {
	switch {
	case score < 30:
		return Weak
	case score < 60:
		return Medium
	case score < 80:
		return Strong
	default:
		return VeryStrong
	}
}
