package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// SessionKeyLength is the size of a generated cookie signing key.
const SessionKeyLength = 32

// NewSessionKey returns a random cookie signing key and its URL-safe base64
// form, which can be pasted into server.session_secret to keep cookies valid
// across restarts.
func NewSessionKey() ([]byte, string, error) {
	key := make([]byte, SessionKeyLength)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, "", fmt.Errorf("generate session key: %w", err)
	}
	return key, base64.URLEncoding.EncodeToString(key), nil
}
