// Package auth provides shared-secret bearer tokens for the sandbox API.
//
// The runner mints a short-lived HS256 JWT when a sandbox secret is
// configured; the sandbox server verifies it on every request. With no
// secret configured both sides run unauthenticated, which is the
// expected mode for local development.
package auth

import (
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const (
	issuer   = "kreide"
	audience = "kreide-sandbox"
)

// Mint creates an HS256 bearer token for subject, valid for ttl.
func Mint(secret []byte, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("empty signing secret")
	}

	now := time.Now()
	claims := jwtlib.RegisteredClaims{
		Issuer:    issuer,
		Audience:  jwtlib.ClaimStrings{audience},
		Subject:   subject,
		IssuedAt:  jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
	}

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify validates a bearer token and returns its subject.
func Verify(secret []byte, tokenStr string) (string, error) {
	token, err := jwtlib.ParseWithClaims(tokenStr, &jwtlib.RegisteredClaims{},
		func(token *jwtlib.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwtlib.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		},
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithIssuer(issuer),
		jwtlib.WithAudience(audience),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*jwtlib.RegisteredClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}
	return claims.Subject, nil
}

// FromHeader extracts the bearer token from an Authorization header value.
// Returns an empty string when the header is absent or not a Bearer scheme.
func FromHeader(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}
