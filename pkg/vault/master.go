package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/pwvault/pkg/crypto"
	"github.com/forest6511/pwvault/pkg/password"
)

// Master password limits
const (
	MinPasswordLength = 6
	MaxPasswordLength = 128
)

const (
	masterKey     = "master"
	masterVersion = 1
)

// masterRecord is the stored form of the master secret: a random data key
// wrapped under a key derived from the secret. The secret itself is never
// stored.
type masterRecord struct {
	Version    int              `json:"version"`
	Salt       []byte           `json:"salt"`
	KDF        crypto.KDFParams `json:"kdf"`
	WrappedDEK []byte           `json:"wrapped_dek"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// PasswordValidationResult contains the result of password validation
type PasswordValidationResult struct {
	Valid    bool              // Whether password meets minimum requirements
	Strength password.Strength // Heuristic score
	Warnings []string          // Suggestions for improvement (not errors)
}

// ValidateMasterPassword checks the hard length limits and adds advisory
// warnings. Only the length limits make a password invalid.
func ValidateMasterPassword(secret string) *PasswordValidationResult {
	result := &PasswordValidationResult{
		Valid:    true,
		Strength: password.Score(secret),
	}

	n := utf8.RuneCountInString(secret)
	switch {
	case n < MinPasswordLength:
		result.Valid = false
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
		return result
	case n > MaxPasswordLength:
		result.Valid = false
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Password must be at most %d characters", MaxPasswordLength))
		return result
	}

	if result.Strength.Category < password.Strong {
		result.Warnings = append(result.Warnings,
			"Consider using a mix of uppercase, lowercase, numbers, and symbols")
	}
	if n < 12 {
		result.Warnings = append(result.Warnings,
			"Longer passwords (12+ characters) are more secure")
	}
	return result
}

// validateNewSecret applies the setup and change rules.
func validateNewSecret(secret, confirm string) error {
	if secret != confirm {
		return invalid("confirmation", "passwords do not match")
	}
	if r := ValidateMasterPassword(secret); !r.Valid {
		return invalid("password", "%s", r.Warnings[0])
	}
	return nil
}

// normalizeSecret gives composed and decomposed input the same key.
func normalizeSecret(secret string) []byte {
	return []byte(norm.NFC.String(secret))
}

// newMasterRecord wraps dek under secret with a fresh salt.
func newMasterRecord(secret string, dek []byte, params crypto.KDFParams, now time.Time) (*masterRecord, error) {
	salt, err := crypto.RandomBytes(crypto.SaltLength)
	if err != nil {
		return nil, err
	}

	kek := crypto.DeriveKey(normalizeSecret(secret), salt, params)
	defer crypto.SecureWipe(kek)

	wrapped, err := crypto.Seal(kek, dek)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to wrap data key: %w", err)
	}

	return &masterRecord{
		Version:    masterVersion,
		Salt:       salt,
		KDF:        params,
		WrappedDEK: wrapped,
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}, nil
}

// unwrap returns the data key, or ErrInvalidPassword when secret is wrong.
func (m *masterRecord) unwrap(secret string) ([]byte, error) {
	kek := crypto.DeriveKey(normalizeSecret(secret), m.Salt, m.KDF)
	defer crypto.SecureWipe(kek)

	dek, err := crypto.Open(kek, m.WrappedDEK)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			return nil, ErrInvalidPassword
		}
		return nil, fmt.Errorf("%w: %v", ErrVaultCorrupted, err)
	}
	return dek, nil
}

// loadMaster reads the master record. ok is false when none is set up.
func (s *Service) loadMaster() (*masterRecord, bool, error) {
	raw, ok, err := s.store.Get(masterKey)
	if err != nil {
		return nil, false, fmt.Errorf("vault: failed to read master record: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var m masterRecord
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, false, fmt.Errorf("%w: master record: %v", ErrVaultCorrupted, err)
	}
	if len(m.Salt) != crypto.SaltLength {
		return nil, false, fmt.Errorf("%w: master record salt", ErrVaultCorrupted)
	}
	if err := m.KDF.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrVaultCorrupted, err)
	}
	return &m, true, nil
}

func (s *Service) saveMaster(m *masterRecord) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("vault: failed to marshal master record: %w", err)
	}
	if err := s.store.Set(masterKey, string(data)); err != nil {
		return fmt.Errorf("vault: failed to write master record: %w", err)
	}
	return nil
}
