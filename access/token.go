// access/token.go
package access

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	aegis_errors "github.com/framelane/aegis/errors"
)

// Refresh tokens are valid for exactly one hour from issuance.
const tokenValidity = time.Hour

type refreshClaims struct {
	ResourceID string `json:"rid"`
	SubjectID  string `json:"sid,omitempty"`
	Nonce      string `json:"nonce"`
	jwt.RegisteredClaims
}

// TokenBroker issues and verifies the refresh tokens attached to grants.
// Tokens are HMAC-signed so a forged or altered token is detectable rather
// than merely mismatched. Single use is not enforced; a token replays
// within its validity window.
type TokenBroker struct {
	secret []byte
	now    func() time.Time
}

func NewTokenBroker(secret []byte, now func() time.Time) (*TokenBroker, error) {
	if len(secret) == 0 {
		return nil, aegis_errors.ErrMissingSecret
	}
	if now == nil {
		now = time.Now
	}
	return &TokenBroker{secret: secret, now: now}, nil
}

// Issue creates a token bound to the resource and subject. The nonce makes
// every token unique even for identical bindings.
func (b *TokenBroker) Issue(resourceID, subjectID string) (string, error) {
	issued := b.now()
	claims := refreshClaims{
		ResourceID: resourceID,
		SubjectID:  subjectID,
		Nonce:      uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(tokenValidity)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return signed, nil
}

// Verify checks the token's signature and validity window and that it is
// bound to the given resource and subject. Expired tokens fail with
// ErrTokenExpired, everything else with ErrTokenTampered.
func (b *TokenBroker) Verify(tokenString, resourceID, subjectID string) error {
	claims := &refreshClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return b.secret, nil
	}, jwt.WithTimeFunc(b.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return aegis_errors.ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", aegis_errors.ErrTokenTampered, err)
	}
	if !token.Valid {
		return aegis_errors.ErrTokenTampered
	}
	if claims.ResourceID != resourceID || claims.SubjectID != subjectID {
		return aegis_errors.ErrTokenTampered
	}
	return nil
}
