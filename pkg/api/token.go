package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TokenFileName is the persisted session token, relative to the project root.
const TokenFileName = ".gao-dev/session.token"

// tokenBytes is the entropy of a generated token.
const tokenBytes = 32

// LoadOrCreateToken returns the project's session token, generating and
// persisting one on first use. The token file is owner-readable only.
func LoadOrCreateToken(projectRoot string) (string, error) {
	path := filepath.Join(projectRoot, filepath.FromSlash(TokenFileName))

	raw, err := os.ReadFile(path)
	if err == nil {
		token := strings.TrimSpace(string(raw))
		if token != "" {
			return token, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read session token: %w", err)
	}

	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist session token: %w", err)
	}
	return token, nil
}

// tokenMatches compares tokens in constant time.
func tokenMatches(expected, got string) bool {
	if expected == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
