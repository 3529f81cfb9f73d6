package auth

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSecret = "session-signing-secret"
	testSessionIssuer = "harbor-id"
	testCookieName    = "harbor_session"
)

func newTestValidator(t *testing.T, clock func() time.Time) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSecret),
		Issuer:        testSessionIssuer,
		CookieName:    testCookieName,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return validator
}

func mintSessionToken(t *testing.T, userID string, issuedAt time.Time, ttl time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID:          userID,
		UserDisplayName: "Someone",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testSessionIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	})
	signed, err := token.SignedString([]byte(testSessionSecret))
	if err != nil {
		t.Fatalf("failed to sign session token: %v", err)
	}
	return signed
}

func TestSessionValidatorAcceptsValidToken(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	validator := newTestValidator(t, func() time.Time { return now })

	token := mintSessionToken(t, "user-1", now.Add(-time.Minute), time.Hour)
	claims, err := validator.ValidateToken(token)
	if err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("unexpected user id %s", claims.UserID)
	}
}

func TestSessionValidatorRejectsExpiredToken(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	validator := newTestValidator(t, func() time.Time { return now })

	token := mintSessionToken(t, "user-1", now.Add(-2*time.Hour), time.Hour)
	_, err := validator.ValidateToken(token)
	if err != ErrExpiredSessionToken {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestSessionValidatorRejectsWrongIssuer(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	validator := newTestValidator(t, func() time.Time { return now })

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSessionSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := validator.ValidateToken(signed); err == nil {
		t.Fatalf("expected issuer mismatch to fail validation")
	}
}

func TestSessionValidatorReadsCookieAndBearer(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	validator := newTestValidator(t, func() time.Time { return now })
	token := mintSessionToken(t, "user-2", now, time.Hour)

	cookieReq, _ := http.NewRequest(http.MethodGet, "http://example.test/", nil)
	cookieReq.AddCookie(&http.Cookie{Name: testCookieName, Value: token})
	claims, err := validator.ValidateRequest(cookieReq)
	if err != nil {
		t.Fatalf("expected cookie validation to succeed: %v", err)
	}
	if claims.UserID != "user-2" {
		t.Fatalf("unexpected user id %s", claims.UserID)
	}

	bearerReq, _ := http.NewRequest(http.MethodGet, "http://example.test/", nil)
	bearerReq.Header.Set("Authorization", "Bearer "+token)
	claims, err = validator.ValidateRequest(bearerReq)
	if err != nil {
		t.Fatalf("expected bearer validation to succeed: %v", err)
	}
	if claims.UserID != "user-2" {
		t.Fatalf("unexpected user id %s", claims.UserID)
	}

	emptyReq, _ := http.NewRequest(http.MethodGet, "http://example.test/", nil)
	if _, err := validator.ValidateRequest(emptyReq); err != ErrMissingSessionToken {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestNewSessionValidatorRequiresConfiguration(t *testing.T) {
	if _, err := NewSessionValidator(SessionValidatorConfig{}); err == nil {
		t.Fatalf("expected error for empty configuration")
	}
	if _, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte("x")}); err == nil {
		t.Fatalf("expected error for missing issuer")
	}
	if _, err := NewSessionValidator(SessionValidatorConfig{SigningSecret: []byte("x"), Issuer: "harbor-id"}); err == nil {
		t.Fatalf("expected error for missing cookie name")
	}
}
