// Package identity converts 32-byte ledger public keys to and from their
// 60-character base-26 display form. The display form is what every stored
// issuer/trader column holds, so both directions must be exact.
package identity

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

const (
	// KeyLength is the raw public key size in bytes.
	KeyLength = 32

	// IdentityLength is the encoded identity length: four uint64 limbs of
	// 14 letters each plus a 4-letter checksum.
	IdentityLength = 60

	limbCount     = 4
	limbLetters   = 14
	checksumChars = 4

	// checksumMask keeps 18 bits of the digest, the most that 4 base-26
	// letters can carry without bias across the used range.
	checksumMask = 0x3FFFF
)

var (
	ErrInvalidLength   = errors.New("identity: invalid length")
	ErrInvalidChar     = errors.New("identity: invalid character")
	ErrChecksumMismatch = errors.New("identity: checksum mismatch")
)

// Encode converts a raw 32-byte public key into its 60-letter identity.
func Encode(key [KeyLength]byte) string {
	var out [IdentityLength]byte

	for limb := 0; limb < limbCount; limb++ {
		v := readLimb(key[:], limb)
		for i := 0; i < limbLetters; i++ {
			out[limb*limbLetters+i] = byte('A' + v%26)
			v /= 26
		}
	}

	cs := checksum(key)
	for i := 0; i < checksumChars; i++ {
		out[limbCount*limbLetters+i] = byte('A' + cs%26)
		cs /= 26
	}

	return string(out[:])
}

// Decode converts a 60-letter identity back to its raw public key,
// verifying the checksum.
func Decode(id string) ([KeyLength]byte, error) {
	var key [KeyLength]byte

	if len(id) != IdentityLength {
		return key, fmt.Errorf("%w: got %d, want %d", ErrInvalidLength, len(id), IdentityLength)
	}

	for i := 0; i < IdentityLength; i++ {
		if id[i] < 'A' || id[i] > 'Z' {
			return key, fmt.Errorf("%w: %q at position %d", ErrInvalidChar, id[i], i)
		}
	}

	for limb := 0; limb < limbCount; limb++ {
		var v uint64
		for i := limbLetters - 1; i >= 0; i-- {
			v = v*26 + uint64(id[limb*limbLetters+i]-'A')
		}
		writeLimb(key[:], limb, v)
	}

	cs := checksum(key)
	for i := 0; i < checksumChars; i++ {
		if id[limbCount*limbLetters+i] != byte('A'+cs%26) {
			return key, ErrChecksumMismatch
		}
		cs /= 26
	}

	return key, nil
}

// Valid reports whether id is a well-formed identity with a correct checksum.
func Valid(id string) bool {
	_, err := Decode(id)
	return err == nil
}

// readLimb reads the n-th little-endian uint64 from key.
func readLimb(key []byte, n int) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(key[n*8+i])
	}
	return v
}

// writeLimb writes the n-th little-endian uint64 into key.
func writeLimb(key []byte, n int, v uint64) {
	for i := 0; i < 8; i++ {
		key[n*8+i] = byte(v)
		v >>= 8
	}
}

// checksum derives the 18-bit identity checksum from the raw key.
func checksum(key [KeyLength]byte) uint32 {
	digest := sha3.Sum256(key[:])
	cs := uint32(digest[0]) | uint32(digest[1])<<8 | uint32(digest[2])<<16
	return cs & checksumMask
}
