// Package auth issues and decodes device credentials: HS256 JWTs binding a
// user id to an app-instance id.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the registered claims plus the (user, device) binding.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	DeviceID string `json:"app_instance_id"`
}

// GenerateToken signs a device credential valid for validityDuration.
func GenerateToken(userID, deviceID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		UserID:   userID,
		DeviceID: deviceID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// Verifier decodes device credentials signed with one HMAC secret.
type Verifier struct {
	secretKey []byte
	parser    *jwt.Parser
}

func NewVerifier(secretKey []byte) *Verifier {
	return &Verifier{
		secretKey: secretKey,
		parser:    jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// DecodeUnverified reads the claims without checking signature or expiry.
// The result must not be trusted for admission.
func (v *Verifier) DecodeUnverified(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := v.parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}
	return claims, nil
}

// Verify checks signature, algorithm and expiry. An expired credential is
// common.ErrTokenExpired; anything else wraps common.ErrInvalidToken.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := v.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
