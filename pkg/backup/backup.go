// Package backup provides encrypted backup files for pwvault.
//
// Features:
//   - Encrypted payload with AES-256-GCM
//   - Argon2id key derivation with a fresh salt per backup, or a 32-byte key file
//   - HMAC-SHA256 over header and ciphertext for tamper detection
//
// File layout:
//
//	magic(8) | header length(4) | header JSON | ciphertext length(4) | nonce||ciphertext | HMAC(32)
//
// The payload is opaque to this package. pwvault stores its JSON export
// document in it.
package backup

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/forest6511/pwvault/pkg/crypto"
)

// MaxFileSize bounds a backup file read into memory.
const MaxFileSize = 32 * 1024 * 1024

// checksumAlgo is recorded in the header.
const checksumAlgo = "hmac-sha256"

// Key selects the backup keys. KeyFile takes precedence over Password.
type Key struct {
	Password []byte
	KeyFile  string
	// KDF applies to new password backups. Zero means crypto.DefaultKDFParams.
	KDF crypto.KDFParams
}

// Options configures Write.
type Options struct {
	Key
	CreatedAt   time.Time
	RecordCount int
}

// Write encrypts payload and writes a complete backup file to w.
func Write(w io.Writer, payload []byte, opts Options) error {
	header := &Header{
		Version:      FormatVersion,
		CreatedAt:    opts.CreatedAt.UTC(),
		RecordCount:  opts.RecordCount,
		ChecksumAlgo: checksumAlgo,
	}

	encKey, macKey, err := opts.Key.newKeys(header)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	ciphertext, err := crypto.Seal(encKey, payload)
	if err != nil {
		return fmt.Errorf("backup: encryption failed: %w", err)
	}

	var buf bytes.Buffer
	if err := WriteHeader(&buf, header); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(ciphertext))); err != nil {
		return fmt.Errorf("backup: failed to write ciphertext length: %w", err)
	}
	buf.Write(ciphertext)
	buf.Write(ComputeHMAC(buf.Bytes(), macKey))

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("backup: failed to write backup: %w", err)
	}
	return nil
}

// Read verifies and decrypts a backup file, returning its header and
// payload. Nothing is decrypted unless the HMAC matches.
func Read(r io.Reader, key Key) (*Header, []byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, nil, fmt.Errorf("backup: failed to read backup: %w", err)
	}
	if len(data) > MaxFileSize {
		return nil, nil, ErrTooLarge
	}

	reader := bytes.NewReader(data)
	header, err := ReadHeader(reader)
	if err != nil {
		return nil, nil, err
	}

	var ciphertextLen uint32
	if err := binary.Read(reader, binary.BigEndian, &ciphertextLen); err != nil {
		return nil, nil, fmt.Errorf("%w: ciphertext length", ErrTruncated)
	}
	if reader.Len() != int(ciphertextLen)+HMACLength {
		return nil, nil, ErrTruncated
	}

	signedLen := len(data) - HMACLength
	ciphertext := data[signedLen-int(ciphertextLen) : signedLen]
	storedHMAC := data[signedLen:]

	encKey, macKey, err := key.keysFor(header)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	if !VerifyHMAC(data[:signedLen], storedHMAC, macKey) {
		return nil, nil, ErrIntegrityFailed
	}

	payload, err := crypto.Open(encKey, ciphertext)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return header, payload, nil
}

// newKeys picks the keys for a new backup and records the mode in header.
func (k Key) newKeys(header *Header) (encKey, macKey []byte, err error) {
	if k.KeyFile != "" {
		header.EncryptionMode = EncryptionModeKey
		return fileKeys(k.KeyFile)
	}
	if len(k.Password) == 0 {
		return nil, nil, ErrNoKey
	}

	params := k.KDF
	if params == (crypto.KDFParams{}) {
		params = crypto.DefaultKDFParams()
	}
	salt, err := crypto.RandomBytes(SaltLength)
	if err != nil {
		return nil, nil, err
	}
	header.EncryptionMode = EncryptionModePassword
	header.KDFParams = &KDFParams{Salt: salt, KDFParams: params}
	return DeriveBackupKeys(k.Password, salt, params)
}

// keysFor derives the keys an existing backup was written with.
func (k Key) keysFor(header *Header) (encKey, macKey []byte, err error) {
	switch header.EncryptionMode {
	case EncryptionModeKey:
		if k.KeyFile == "" {
			return nil, nil, fmt.Errorf("%w: backup was written with a key file", ErrNoKey)
		}
		return fileKeys(k.KeyFile)
	case EncryptionModePassword:
		if header.KDFParams == nil || len(header.KDFParams.Salt) != SaltLength {
			return nil, nil, fmt.Errorf("%w: missing KDF parameters", ErrIntegrityFailed)
		}
		return DeriveBackupKeys(k.Password, header.KDFParams.Salt, header.KDFParams.KDFParams)
	default:
		return nil, nil, fmt.Errorf("backup: unknown encryption mode %q", header.EncryptionMode)
	}
}

func fileKeys(path string) (encKey, macKey []byte, err error) {
	root, err := ReadKeyFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(root)
	return splitKey(root)
}
