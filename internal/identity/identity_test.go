package identity

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
)

func TestEncodeShape(t *testing.T) {
	var key [KeyLength]byte
	id := Encode(key)

	if len(id) != IdentityLength {
		t.Fatalf("expected length %d, got %d", IdentityLength, len(id))
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 'A' || id[i] > 'Z' {
			t.Fatalf("non-base26 character %q at %d", id[i], i)
		}
	}
	// Zero key encodes to all 'A' letters before the checksum.
	if body := id[:56]; body != strings.Repeat("A", 56) {
		t.Errorf("zero key body = %q, want all A", body)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 1000; i++ {
		var key [KeyLength]byte
		rng.Read(key[:])

		id := Encode(key)
		decoded, err := Decode(id)
		if err != nil {
			t.Fatalf("decode of encoded identity failed: %v", err)
		}
		if decoded != key {
			t.Fatalf("round trip mismatch: %x -> %s -> %x", key, id, decoded)
		}
	}
}

func TestEncodeDeterministic(t *testing.T) {
	key := [KeyLength]byte{1, 2, 3, 4, 5, 6, 7, 8}
	if Encode(key) != Encode(key) {
		t.Fatal("encoding is not deterministic")
	}
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	var key [KeyLength]byte
	key[0] = 0x7F
	id := Encode(key)

	// Flip the final checksum letter.
	last := id[len(id)-1]
	var flipped byte
	if last == 'A' {
		flipped = 'B'
	} else {
		flipped = 'A'
	}
	bad := id[:len(id)-1] + string(flipped)

	if _, err := Decode(bad); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	if _, err := Decode("SHORT"); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("short input: expected ErrInvalidLength, got %v", err)
	}

	lower := strings.Repeat("a", IdentityLength)
	if _, err := Decode(lower); !errors.Is(err, ErrInvalidChar) {
		t.Errorf("lowercase input: expected ErrInvalidChar, got %v", err)
	}

	digits := strings.Repeat("1", IdentityLength)
	if _, err := Decode(digits); !errors.Is(err, ErrInvalidChar) {
		t.Errorf("digit input: expected ErrInvalidChar, got %v", err)
	}
}

func TestValid(t *testing.T) {
	var key [KeyLength]byte
	key[31] = 0xFF

	if !Valid(Encode(key)) {
		t.Error("encoded identity should be valid")
	}
	if Valid(strings.Repeat("A", IdentityLength)) {
		// All-A body with all-A checksum only validates if the zero key's
		// checksum happens to be zero; guard against silent acceptance.
		zero := Encode([KeyLength]byte{})
		if zero != strings.Repeat("A", IdentityLength) {
			t.Error("malformed identity accepted")
		}
	}
}
