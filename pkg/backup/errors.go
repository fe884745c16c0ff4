// Package backup writes and reads encrypted pwvault backup files.
package backup

import "errors"

// Backup/Restore errors
var (
	// ErrInvalidMagic indicates the file is not a pwvault backup.
	ErrInvalidMagic = errors.New("backup: invalid file, magic number mismatch")

	// ErrUnsupportedVersion indicates the backup format version is newer than this build.
	ErrUnsupportedVersion = errors.New("backup: unsupported format version")

	// ErrIntegrityFailed indicates the HMAC did not match: wrong key or a modified file.
	ErrIntegrityFailed = errors.New("backup: integrity check failed, invalid password or modified file")

	// ErrDecryptionFailed indicates the payload could not be decrypted.
	ErrDecryptionFailed = errors.New("backup: decryption failed")

	// ErrTruncated indicates the file ended early.
	ErrTruncated = errors.New("backup: file truncated")

	// ErrTooLarge indicates the file exceeds MaxFileSize.
	ErrTooLarge = errors.New("backup: file too large")

	// ErrInvalidKeyFile indicates the key file is invalid or wrong size.
	ErrInvalidKeyFile = errors.New("backup: invalid key file, must be exactly 32 bytes")

	// ErrEmptyPassword indicates an empty password was provided.
	ErrEmptyPassword = errors.New("backup: password cannot be empty")

	// ErrNoKey indicates neither a password nor a key file was given.
	ErrNoKey = errors.New("backup: a password or key file is required")
)
