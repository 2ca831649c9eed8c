package session

import (
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// LoadToken reads the session's stored auth token.
func LoadToken(name string) (string, error) {
	data, err := os.ReadFile(TokenPath(name))
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", TokenPath(name))
	}
	return token, nil
}

// SaveToken stores the session's auth token with owner-only permissions.
func SaveToken(name, token string) error {
	if err := EnsureDir(name); err != nil {
		return err
	}
	return os.WriteFile(TokenPath(name), []byte(token+"\n"), 0600)
}

// UserIDFromToken extracts the signed-in user id from the JWT sub claim.
// The signature is not verified here; the backend is the verifier and the
// daemon only needs the identity baked into the token it was handed.
func UserIDFromToken(token string) (string, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("token has no subject claim")
	}
	return sub, nil
}
