package models

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
)

// GenerateSecret returns 32 random bytes hex-encoded, used for session keys
// and signing secrets when none is configured.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func itoa(i int) string { return strconv.Itoa(i) }
