// Package secret mints invitation tokens and short codes and derives the
// one-way hashes that are persisted in their place.
package secret

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const (
	// TokenBytes is the entropy of a plaintext token before hex encoding.
	TokenBytes = 32
	// CodePrefix starts every short code.
	CodePrefix = "LZ-"
	// CodeLength is the number of random characters after the prefix.
	CodeLength = 6
	// CodeAlphabet omits 0/O, 1/I/L to keep codes readable aloud.
	CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

// Generator issues secrets. The zero value uses crypto/rand and unpeppered
// SHA-256 hashes.
type Generator struct {
	pepper []byte
	random io.Reader
}

// NewGenerator returns a generator that HMACs token hashes with pepper when
// it is non-empty.
func NewGenerator(pepper []byte) *Generator {
	return &Generator{pepper: append([]byte(nil), pepper...)}
}

// WithRandom returns a copy of g reading entropy from r.
func (g *Generator) WithRandom(r io.Reader) *Generator {
	clone := &Generator{random: r}
	if g != nil {
		clone.pepper = g.pepper
	}
	return clone
}

func (g *Generator) reader() io.Reader {
	if g == nil || g.random == nil {
		return rand.Reader
	}
	return g.random
}

// NewToken returns a hex plaintext token and its stored hash.
func (g *Generator) NewToken() (plaintext string, hash string, err error) {
	raw := make([]byte, TokenBytes)
	if _, err := io.ReadFull(g.reader(), raw); err != nil {
		return "", "", fmt.Errorf("read token entropy: %w", err)
	}
	plaintext = hex.EncodeToString(raw)
	return plaintext, g.HashToken(plaintext), nil
}

// HashToken derives the lookup hash for a plaintext token.
func (g *Generator) HashToken(plaintext string) string {
	plaintext = strings.TrimSpace(plaintext)
	if g != nil && len(g.pepper) > 0 {
		mac := hmac.New(sha256.New, g.pepper)
		mac.Write([]byte(plaintext))
		return hex.EncodeToString(mac.Sum(nil))
	}
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// NewCode returns a short code such as LZ-7KQ2MX.
func (g *Generator) NewCode() (string, error) {
	raw := make([]byte, CodeLength)
	if _, err := io.ReadFull(g.reader(), raw); err != nil {
		return "", fmt.Errorf("read code entropy: %w", err)
	}
	var b strings.Builder
	b.Grow(len(CodePrefix) + CodeLength)
	b.WriteString(CodePrefix)
	for _, v := range raw {
		b.WriteByte(CodeAlphabet[int(v)%len(CodeAlphabet)])
	}
	return b.String(), nil
}

// ValidCode reports whether value has the short code shape.
func ValidCode(value string) bool {
	if !strings.HasPrefix(value, CodePrefix) || len(value) != len(CodePrefix)+CodeLength {
		return false
	}
	for _, r := range value[len(CodePrefix):] {
		if !strings.ContainsRune(CodeAlphabet, r) {
			return false
		}
	}
	return true
}
