package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// accessClaims are the GoTrue access-token claims we rely on.
type accessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// parseAccessToken reads the claims of a GoTrue access token. The signature is
// verified when secret is set; expiry is checked by the caller.
func parseAccessToken(token string, secret []byte) (accessClaims, error) {
	var claims accessClaims
	if len(secret) == 0 {
		if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
			return accessClaims{}, fmt.Errorf("parse access token: %w", err)
		}
		return claims, nil
	}
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return accessClaims{}, fmt.Errorf("verify access token: %w", err)
	}
	return claims, nil
}

func (c accessClaims) expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

var errSubjectMismatch = errors.New("auth: token subject does not match user")
