// Package fingerprint turns C/C++ function bodies into content hashes that are
// insensitive to comments, indentation and line-ending style.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Size is the byte width of a Hash.
const Size = sha256.Size

// Hash is the SHA-256 digest of a normalized function body.
type Hash [Size]byte

// Fingerprint is the hash of one function body plus the cheap statistics the
// pipeline uses to drop bodies too small to identify anything.
type Fingerprint struct {
	Hash    Hash
	Tokens  int
	Trivial bool
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) MarshalText() ([]byte, error) {
	out := make([]byte, hex.EncodedLen(Size))
	hex.Encode(out, h[:])
	return out, nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes the 64-character lowercase or uppercase hex form of a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != hex.EncodedLen(Size) {
		return h, fmt.Errorf("hash must be %d hex characters, got %d", hex.EncodedLen(Size), len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("decode hash: %w", err)
	}
	return h, nil
}

// HashFromBytes copies a raw digest, as stored in the database, into a Hash.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != Size {
		return h, fmt.Errorf("hash must be %d bytes, got %d", Size, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Sum hashes already-normalized text.
func Sum(normalized string) Hash {
	return sha256.Sum256([]byte(normalized))
}

// Of normalizes body and hashes it.
func Of(body string) Fingerprint {
	normalized := Normalize(body)
	tokens := countTokens(normalized)
	return Fingerprint{
		Hash:    Sum(normalized),
		Tokens:  tokens,
		Trivial: strings.Trim(normalized, "{}; ") == "",
	}
}

// Usable reports whether a fingerprint is worth storing or looking up.
func (f Fingerprint) Usable(minTokens int) bool {
	return !f.Trivial && f.Tokens >= minTokens
}

// countTokens approximates the lexical token count of normalized text. A run
// of identifier characters counts once, every other byte counts on its own.
func countTokens(normalized string) int {
	count := 0
	inWord := false
	for i := 0; i < len(normalized); i++ {
		c := normalized[i]
		switch {
		case isWordByte(c):
			if !inWord {
				count++
				inWord = true
			}
		case c == ' ':
			inWord = false
		default:
			inWord = false
			count++
		}
	}
	return count
}
