// Package nanoid generates the short opaque identifiers used for repo ids.
package nanoid

import (
	"crypto/rand"
	"fmt"
)

// alphabet is the canonical 64-character nanoid alphabet. A random byte is
// masked with &63 to index into it, so every byte maps to exactly one
// character with uniform probability.
const alphabet = "useandom-26T198340PX75pxJACKVERYMINDBUSHWOLF_GQZbfghjklqvwyzrict"

// RepoIDLength is the length of a minted repo id.
const RepoIDLength = 6

// RandomSource supplies random bytes. Swapping in a fake source makes id
// generation deterministic for tests.
type RandomSource interface {
	Read(p []byte) (int, error)
}

// OSRandom reads from the operating system's CSPRNG.
type OSRandom struct{}

func (OSRandom) Read(p []byte) (int, error) {
	return rand.Read(p)
}

// Generate produces an id of the given length by reading length random
// bytes from src and masking each into the alphabet.
func Generate(src RandomSource, length int) (string, error) {
	buf := make([]byte, length)
	if _, err := src.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = alphabet[b&63]
	}
	return string(out), nil
}
