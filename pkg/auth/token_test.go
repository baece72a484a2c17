package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestManager(t *testing.T, now time.Time) *TokenManager {
	t.Helper()
	tm, err := NewTokenManager(testSecret, 0)
	if err != nil {
		t.Fatalf("NewTokenManager() error = %v", err)
	}
	tm.now = func() time.Time { return now }
	return tm
}

func TestNewTokenManager_ShortSecret(t *testing.T) {
	if _, err := NewTokenManager("short", time.Hour); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestTokenManager_IssueAndVerify(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tm := newTestManager(t, now)

	token, expires, err := tm.Issue(42, "ana@example.com")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if !expires.Equal(now.Add(DefaultTokenTTL)) {
		t.Errorf("expires = %v, want %v", expires, now.Add(DefaultTokenTTL))
	}
	if strings.Count(token, ".") != 2 {
		t.Errorf("token %q is not a compact JWT", token)
	}

	claims, err := tm.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.UserID != 42 {
		t.Errorf("UserID = %d, want 42", claims.UserID)
	}
	if claims.Email != "ana@example.com" {
		t.Errorf("Email = %q", claims.Email)
	}
}

func TestTokenManager_Expired(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tm := newTestManager(t, now)

	token, _, err := tm.Issue(1, "")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	tm.now = func() time.Time { return now.Add(25 * time.Hour) }
	_, err = tm.Verify(token)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
	}
	if !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("Verify() error = %v, want wrapped ErrTokenExpired", err)
	}
}

func TestTokenManager_Rejects(t *testing.T) {
	now := time.Now()
	tm := newTestManager(t, now)

	other, err := NewTokenManager("another-secret-of-enough-length", 0)
	if err != nil {
		t.Fatal(err)
	}
	foreign, _, _ := other.Issue(1, "")

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "1", "iss": TokenIssuer, "exp": now.Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	wrongIssuer, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "1", "iss": "someone-else", "exp": now.Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "1", "iss": TokenIssuer,
	}).SignedString([]byte(testSecret))

	badSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "abc", "iss": TokenIssuer, "exp": now.Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "empty", token: ""},
		{name: "other secret", token: foreign},
		{name: "alg none", token: none},
		{name: "wrong issuer", token: wrongIssuer},
		{name: "no expiry", token: noExpiry},
		{name: "non numeric subject", token: badSubject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tm.Verify(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}
