// Package address implements ledger account addresses and the SHA-512/256
// digests used for transaction and group identifiers.
package address

import (
	"bytes"
	"crypto/sha512"
	"encoding/base32"
	"errors"
	"fmt"
)

const (
	// PublicKeySize is the size of an ed25519 public key, and of an address.
	PublicKeySize = 32
	// DigestSize is the size of a SHA-512/256 digest.
	DigestSize = sha512.Size256

	checksumLen = 4
)

var (
	encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

	// ErrChecksum is returned when an address string fails checksum validation.
	ErrChecksum = errors.New("address checksum mismatch")
)

// Address is an account's public identity: the sender's ed25519 public key.
type Address [PublicKeySize]byte

// Zero is the all-zero address.
var Zero Address

// FromPublicKey converts raw public key bytes to an Address.
func FromPublicKey(pk []byte) (Address, error) {
	var a Address
	if len(pk) != PublicKeySize {
		return a, fmt.Errorf("public key must be %d bytes, got %d", PublicKeySize, len(pk))
	}
	copy(a[:], pk)
	return a, nil
}

// Decode parses the checksummed base32 form of an address.
func Decode(s string) (Address, error) {
	var a Address
	raw, err := encoding.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("decode address %q: %w", s, err)
	}
	if len(raw) != PublicKeySize+checksumLen {
		return a, fmt.Errorf("decode address %q: decoded length %d, want %d", s, len(raw), PublicKeySize+checksumLen)
	}
	copy(a[:], raw[:PublicKeySize])
	if !bytes.Equal(raw[PublicKeySize:], a.checksum()) {
		return Address{}, fmt.Errorf("decode address %q: %w", s, ErrChecksum)
	}
	return a, nil
}

func (a Address) checksum() []byte {
	h := sha512.Sum512_256(a[:])
	return h[DigestSize-checksumLen:]
}

// String returns the checksummed base32 form.
func (a Address) String() string {
	buf := make([]byte, 0, PublicKeySize+checksumLen)
	buf = append(buf, a[:]...)
	buf = append(buf, a.checksum()...)
	return encoding.EncodeToString(buf)
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == Zero
}

// PublicKey returns a copy of the underlying public key bytes.
func (a Address) PublicKey() []byte {
	return append([]byte(nil), a[:]...)
}

// MarshalText encodes the address in its string form.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes the string form of an address.
func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := Decode(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// Digest is a SHA-512/256 hash.
type Digest [DigestSize]byte

// Hash returns the SHA-512/256 digest of the concatenation of parts.
func Hash(parts ...[]byte) Digest {
	h := sha512.New512_256()
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// String returns the unpadded base32 form, which is how transaction ids are
// printed.
func (d Digest) String() string {
	return encoding.EncodeToString(d[:])
}

// IsZero reports whether d is all zeros.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// DecodeDigest parses the unpadded base32 form of a digest.
func DecodeDigest(s string) (Digest, error) {
	var d Digest
	raw, err := encoding.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("decode digest %q: %w", s, err)
	}
	if len(raw) != DigestSize {
		return d, fmt.Errorf("decode digest %q: length %d, want %d", s, len(raw), DigestSize)
	}
	copy(d[:], raw)
	return d, nil
}

// MarshalText encodes the digest in its string form.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText decodes the string form of a digest.
func (d *Digest) UnmarshalText(text []byte) error {
	decoded, err := DecodeDigest(string(text))
	if err != nil {
		return err
	}
	*d = decoded
	return nil
}
