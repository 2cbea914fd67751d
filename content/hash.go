// Package content defines the content-hash primitive (E1) shared by the
// blob store, pointer store, and LFS client.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hash is a content hash. The only variant today is Sha256, but callers
// should not assume that: compare via Equal, not struct equality, and
// always check Variant before reading Bytes.
type Hash struct {
	variant Variant
	bytes   [32]byte
}

// Variant enumerates the supported hash algorithms. Sha256 is the only one
// the wire formats (§4.2, §6) recognize; the type exists so a future variant
// doesn't require an incompatible API change.
type Variant uint8

const (
	Sha256 Variant = iota
)

// SumSha256 hashes b and returns its content Hash.
func SumSha256(b []byte) Hash {
	return Hash{variant: Sha256, bytes: sha256.Sum256(b)}
}

// FromSha256Bytes constructs a Hash from a raw 32-byte sha256 digest, e.g.
// when decoding one back out of a persisted record.
func FromSha256Bytes(b [32]byte) Hash {
	return Hash{variant: Sha256, bytes: b}
}

// ParseSha256Hex parses a 64-character lowercase hex sha256 digest.
func ParseSha256Hex(s string) (Hash, error) {
	if len(s) != 64 {
		return Hash{}, fmt.Errorf("content: sha256 hex must be 64 chars, got %d", len(s))
	}
	var b [32]byte
	n, err := hex.Decode(b[:], []byte(s))
	if err != nil {
		return Hash{}, fmt.Errorf("content: invalid sha256 hex: %w", err)
	}
	if n != 32 {
		return Hash{}, fmt.Errorf("content: short sha256 hex: %d bytes", n)
	}
	return Hash{variant: Sha256, bytes: b}, nil
}

// Variant reports which hash algorithm produced this Hash.
func (h Hash) Variant() Variant { return h.variant }

// Hex returns the lowercase hex encoding.
func (h Hash) Hex() string { return hex.EncodeToString(h.bytes[:]) }

// String satisfies fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// Bytes returns the raw digest bytes. Callers must not mutate the result.
func (h Hash) Bytes() []byte { return h.bytes[:] }

// Equal reports byte-identity of two hashes of the same variant. Per E1's
// invariant, equality implies byte-identity of the hashed content.
func (h Hash) Equal(o Hash) bool { return h.variant == o.variant && h.bytes == o.bytes }

// IsZero reports whether h is the zero value (no hash set).
func (h Hash) IsZero() bool { return h == Hash{} }

// ShardDir returns the loose-store directory prefix for this hash: the
// first byte as two hex chars ("<hh>" in §4.1).
func (h Hash) ShardDir() string { return h.Hex()[:2] }

// ShardRest returns the remaining 62 hex chars after ShardDir.
func (h Hash) ShardRest() string { return h.Hex()[2:] }
