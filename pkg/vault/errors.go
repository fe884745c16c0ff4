package vault

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrNotInitialized     = errors.New("vault: no master password has been set up")
	ErrAlreadyInitialized = errors.New("vault: master password is already set up")
	ErrVaultLocked        = errors.New("vault: vault is locked")
	ErrSessionExpired     = errors.New("vault: session expired, unlock again")
	ErrInvalidPassword    = errors.New("vault: invalid master password")
	ErrRecordNotFound     = errors.New("vault: record not found")
	ErrInvalidImport      = errors.New("vault: invalid import file")
	ErrVaultCorrupted     = errors.New("vault: vault data is corrupted")
)

// ValidationError rejects user input before it reaches the core state.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("vault: invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
