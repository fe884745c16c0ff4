// Package security analyzes saved records for weak, reused and stale
// passwords.
package security

import "github.com/forest6511/pwvault/pkg/password"

// Points returns the strength score points for a category.
// Used in the strength component: Weak=0, Medium=13, Strong=27, Very Strong=40.
func Points(c password.Category) int {
	switch c {
	case password.Weak:
		return 0
	case password.Medium:
		return 13
	case password.Strong:
		return 27
	case password.VeryStrong:
		return 40
	default:
		return 0
	}
}

// weakSeverity maps a category to the severity of its weak-password issue.
// ok is false when the category needs no issue.
func weakSeverity(c password.Category) (sev Severity, ok bool) {
	switch c {
	case password.Weak:
		return SeverityCritical, true
	case password.Medium:
		return SeverityWarning, true
	default:
		return "", false
	}
}
