package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndVerify_Success(t *testing.T) {
	t.Parallel()

	secret := []byte("super-secret")

	tok, err := GenerateToken("user-123", "dev-1", secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	claims, err := NewVerifier(secret).Verify(tok)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if claims.UserID != "user-123" || claims.DeviceID != "dev-1" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")
	tok, err := GenerateToken("u1", "d1", secret, -1*time.Second)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = NewVerifier(secret).Verify(tok)
	if !errors.Is(err, common.ErrTokenExpired) {
		t.Fatalf("expected common.ErrTokenExpired, got %v", err)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken("u2", "d2", []byte("right-secret"), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = NewVerifier([]byte("wrong-secret")).Verify(tok)
	if !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected common.ErrInvalidToken, got %v", err)
	}
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	secret := []byte("k")
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: "u", DeviceID: "d"}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}

	if _, err := NewVerifier(secret).Verify(tok); !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected common.ErrInvalidToken, got %v", err)
	}
}

func TestVerify_MalformedString(t *testing.T) {
	t.Parallel()

	if _, err := NewVerifier([]byte("k")).Verify("not.a.jwt"); err == nil {
		t.Fatalf("expected error for malformed token, got nil")
	}
}

func TestDecodeUnverified_IgnoresSignatureAndExpiry(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken("u3", "d3", []byte("someone-elses"), -time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	claims, err := NewVerifier([]byte("mine")).DecodeUnverified(tok)
	if err != nil {
		t.Fatalf("DecodeUnverified error: %v", err)
	}
	if claims.UserID != "u3" || claims.DeviceID != "d3" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
}

func TestDecodeUnverified_Garbage(t *testing.T) {
	t.Parallel()

	_, err := NewVerifier([]byte("k")).DecodeUnverified("garbage")
	if !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected common.ErrInvalidToken, got %v", err)
	}
}
