// Package fingerprint provides deterministic hashes for award identifiers and
// record content, and the signed manifest written next to each output file.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"os"
	"strings"
	"time"

	"grantflow/pkg/textutil"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"
)

// Manifest verification errors.
var (
	ErrNoHashFound  = errors.New("no hash found in manifest")
	ErrHashMismatch = errors.New("hash mismatch")
)

// fieldSeparator keeps ("ab", "c") and ("a", "bc") from hashing alike.
const fieldSeparator = "\x1f"

// StableID64 hashes the canonical form of parts with xxh64 and returns 16 hex
// characters. The result depends only on the input text, never on process
// state, so identical inputs hash identically across runs and machines.
func StableID64(parts ...string) string {
	canon := make([]string, len(parts))
	for i, p := range parts {
		canon[i] = textutil.Canonical(p)
	}

	sum := xxhash.Sum64String(strings.Join(canon, fieldSeparator))

	return fmt.Sprintf("%016x", sum)
}

// Content returns the xxh64 of raw bytes as 16 hex characters.
func Content(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// Manifest describes one emitted NDJSON file.
type Manifest struct {
	SignedAt      time.Time `yaml:"signed_at"`
	RunID         string    `yaml:"run_id"`
	SchemaVersion string    `yaml:"schema_version"`
	Hash          string    `yaml:"hash"`
	Records       int       `yaml:"records"`
}

// CalculateHash computes the SHA-256 hash of the payload.
func CalculateHash(content []byte) string {
	hash := sha256.Sum256(content)

	return hex.EncodeToString(hash[:])
}

// Sign returns m with a fresh hash of content and timestamp.
func Sign(content []byte, m Manifest) Manifest {
	m.Hash = CalculateHash(content)
	m.SignedAt = time.Now().UTC().Truncate(time.Second)

	return m
}

// Signer hashes a payload while it is being written, so large outputs can be
// signed without holding them in memory.
type Signer struct {
	h hash.Hash
}

// NewSigner returns a Signer with an empty SHA-256 state.
func NewSigner() *Signer {
	return &Signer{h: sha256.New()}
}

// Write feeds p into the running hash. It never fails.
func (s *Signer) Write(p []byte) (int, error) {
	return s.h.Write(p)
}

// Sign returns m stamped with the hash of everything written so far.
func (s *Signer) Sign(m Manifest) Manifest {
	m.Hash = hex.EncodeToString(s.h.Sum(nil))
	m.SignedAt = time.Now().UTC().Truncate(time.Second)

	return m
}

// Verify checks that content matches the hash recorded in m.
func Verify(content []byte, m *Manifest) (bool, error) {
	if m == nil || m.Hash == "" {
		return false, ErrNoHashFound
	}

	calculated := CalculateHash(content)
	if calculated != m.Hash {
		return false, fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, m.Hash, calculated)
	}

	return true, nil
}

// WriteManifest stores m as YAML at path.
func WriteManifest(path string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	return &m, nil
}
