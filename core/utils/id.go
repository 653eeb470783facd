package utils

import (
	"crypto/rand"
	"encoding/hex"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateChannelID returns an id usable as a Google push channel id
// (letters, digits, '-' only, at most 64 chars).
func GenerateChannelID(prefix string) string {
	id, err := gonanoid.Generate(idAlphabet, 21)
	if err != nil {
		id = GenerateSecret(10)
	}
	return prefix + "-" + id
}

// GenerateSecret returns n random bytes hex encoded. Used for Microsoft clientState
// and Calendly signing keys.
func GenerateSecret(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		id, _ := gonanoid.Generate(idAlphabet, n*2)
		return id
	}
	return hex.EncodeToString(b)
}
