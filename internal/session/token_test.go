package session

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestUserIDFromToken(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"sub": "user-42", "role": "WORKER"})

	userID, err := UserIDFromToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if userID != "user-42" {
		t.Errorf("userID = %q, want user-42", userID)
	}
}

func TestUserIDFromTokenMissingSubject(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"role": "WORKER"})

	if _, err := UserIDFromToken(token); err == nil {
		t.Error("expected error for token without sub claim")
	}
}

func TestUserIDFromTokenGarbage(t *testing.T) {
	if _, err := UserIDFromToken("not-a-jwt"); err == nil {
		t.Error("expected error for malformed token")
	}
}
