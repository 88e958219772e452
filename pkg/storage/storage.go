// Package storage persists the identity database.
//
// The on-disk format is a flat sequence of fixed-size records, each an int32
// id followed by 256 float32 embedding values, little-endian, with no header:
// the file length determines the record count. Every save rewrites the whole
// file. Optionally the file is sealed with NaCl secretbox.
package storage

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xanthein/cvservice/pkg/logging"
	"github.com/xanthein/cvservice/pkg/recognition"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32
	// RecordSize is the encoded size of one identity record.
	RecordSize = 4 + 4*recognition.EmbeddingSize
)

// ErrCorruptStore is returned when the file is not a whole number of records.
var ErrCorruptStore = errors.New("identity store is corrupt")

// ErrDuplicateID is returned when appending a record whose id is taken.
var ErrDuplicateID = errors.New("identity id already in store")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// Record is one enrolled identity.
type Record = recognition.Record

// IdentityStore is the in-memory identity database backed by a single file.
// It is owned by the processing loop and is not safe for concurrent use.
type IdentityStore struct {
	path              string
	records           []Record
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

// Option configures an IdentityStore.
type Option func(*IdentityStore) error

// WithEncryption seals the file at rest with a machine-derived key.
func WithEncryption() Option {
	return func(s *IdentityStore) error {
		key, err := deriveKey()
		if err != nil {
			return fmt.Errorf("failed to derive encryption key: %w", err)
		}
		s.encryptionEnabled = true
		s.encryptionKey = key
		return nil
	}
}

// withKey is used by tests to pin the key.
func withKey(key [KeySize]byte) Option {
	return func(s *IdentityStore) error {
		s.encryptionEnabled = true
		s.encryptionKey = key
		return nil
	}
}

// New returns an empty store bound to path. Call Load to read existing records.
func New(path string, opts ...Option) (*IdentityStore, error) {
	s := &IdentityStore{path: path}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// deriveKey derives an encryption key from machine-specific information.
// This ties the encrypted data to this specific machine.
func deriveKey() ([KeySize]byte, error) {
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("cvservice-facedb-v1")

	return sha256.Sum256([]byte(identity.String())), nil
}

// Path returns the backing file path.
func (s *IdentityStore) Path() string {
	return s.path
}

// Len returns the number of records.
func (s *IdentityStore) Len() int {
	return len(s.records)
}

// Records returns the records in insertion order. The slice must not be modified.
func (s *IdentityStore) Records() []Record {
	return s.records
}

// Load replaces the in-memory records with the file contents. A missing file
// is not an error: the store starts empty and is created on the next Save.
func (s *IdentityStore) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Component("storage").WithField("path", s.path).
				Warn("Unable to locate face DB. Will be created on save.")
			s.records = nil
			return nil
		}
		return fmt.Errorf("failed to read identity store: %w", err)
	}

	if s.encryptionEnabled {
		data, err = s.decrypt(data)
		if err != nil {
			return fmt.Errorf("failed to decrypt identity store: %w", err)
		}
	}

	records, err := Decode(data)
	if err != nil {
		return err
	}
	s.records = records

	logging.Debugf("Loaded %d identities from %s", len(records), s.path)
	return nil
}

// Save rewrites the file with every current record.
func (s *IdentityStore) Save() error {
	data := Encode(s.records)

	if s.encryptionEnabled {
		var err error
		data, err = s.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt identity store: %w", err)
		}
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write identity store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace identity store: %w", err)
	}

	logging.Debugf("Saved %d identities to %s", len(s.records), s.path)
	return nil
}

// Append adds a record in memory. Call Save to persist it.
func (s *IdentityStore) Append(r Record) error {
	for _, existing := range s.records {
		if existing.ID == r.ID {
			return fmt.Errorf("%w: %d", ErrDuplicateID, r.ID)
		}
	}
	s.records = append(s.records, r)
	return nil
}

// AllocateNewID returns 1 for an empty store, otherwise max(id)+1.
func (s *IdentityStore) AllocateNewID() int32 {
	var maxID int32
	for _, r := range s.records {
		if r.ID > maxID {
			maxID = r.ID
		}
	}
	return maxID + 1
}

// Encode serializes records in the flat on-disk format.
func Encode(records []Record) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, len(records)*RecordSize))
	for _, r := range records {
		// Writes into a bytes.Buffer cannot fail.
		_ = binary.Write(buf, binary.LittleEndian, r.ID)
		_ = binary.Write(buf, binary.LittleEndian, r.Embedding)
	}
	return buf.Bytes()
}

// Decode parses the flat on-disk format.
func Decode(data []byte) ([]Record, error) {
	if len(data)%RecordSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrCorruptStore, len(data), RecordSize)
	}

	records := make([]Record, 0, len(data)/RecordSize)
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		var rec Record
		if err := binary.Read(r, binary.LittleEndian, &rec.ID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &rec.Embedding); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// encrypt encrypts data using NaCl secretbox.
func (s *IdentityStore) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.encryptionKey), nil
}

// decrypt decrypts data using NaCl secretbox.
func (s *IdentityStore) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &s.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}
	return plaintext, nil
}
