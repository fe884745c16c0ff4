package backup

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/forest6511/pwvault/pkg/crypto"
)

// MagicNumber opens every backup file: "PWV_BKP1"
var MagicNumber = [8]byte{'P', 'W', 'V', '_', 'B', 'K', 'P', '1'}

// FormatVersion is the current backup format version.
const FormatVersion = 1

// maxHeaderSize bounds the header JSON.
const maxHeaderSize = 64 * 1024

// EncryptionMode specifies how the backup keys were obtained.
type EncryptionMode string

const (
	// EncryptionModePassword derives the keys from a backup password.
	EncryptionModePassword EncryptionMode = "password"
	// EncryptionModeKey uses a 32-byte key file.
	EncryptionModeKey EncryptionMode = "key"
)

// KDFParams records how the password was stretched.
type KDFParams struct {
	Salt []byte `json:"salt"`
	crypto.KDFParams
}

// Header contains backup file metadata. It is stored in clear but covered
// by the HMAC.
type Header struct {
	Version        int            `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	EncryptionMode EncryptionMode `json:"encryption_mode"`
	KDFParams      *KDFParams     `json:"kdf_params,omitempty"` // nil if EncryptionModeKey
	RecordCount    int            `json:"record_count"`
	ChecksumAlgo   string         `json:"checksum_algorithm"`
}

// WriteHeader writes the magic number, the header length and the header.
func WriteHeader(w io.Writer, header *Header) error {
	if _, err := w.Write(MagicNumber[:]); err != nil {
		return fmt.Errorf("backup: failed to write magic number: %w", err)
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("backup: failed to marshal header: %w", err)
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(headerJSON))); err != nil {
		return fmt.Errorf("backup: failed to write header length: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("backup: failed to write header: %w", err)
	}
	return nil
}

// ReadHeader reads and validates the magic number and header.
func ReadHeader(r io.Reader) (*Header, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, ErrInvalidMagic
	}
	if magic != MagicNumber {
		return nil, ErrInvalidMagic
	}

	var headerLen uint32
	if err := binary.Read(r, binary.BigEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("%w: header length", ErrTruncated)
	}
	if headerLen > maxHeaderSize {
		return nil, fmt.Errorf("%w: header is %d bytes", ErrTooLarge, headerLen)
	}

	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, fmt.Errorf("%w: header", ErrTruncated)
	}

	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("backup: failed to unmarshal header: %w", err)
	}
	if header.Version > FormatVersion {
		return nil, fmt.Errorf("%w: got %d, max supported %d",
			ErrUnsupportedVersion, header.Version, FormatVersion)
	}
	return &header, nil
}
