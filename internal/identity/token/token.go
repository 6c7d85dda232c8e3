// Package token verifies bearer tokens issued for API callers.
package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bissquit/incident-pager/internal/identity"
	"github.com/golang-jwt/jwt/v5"
)

// Config contains token verification settings.
type Config struct {
	Secret string
	Issuer string
}

// Validator checks HS256 tokens whose subject is the numeric user id.
type Validator struct {
	secret []byte
	issuer string
}

// NewValidator creates a new token validator.
func NewValidator(cfg Config) *Validator {
	return &Validator{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
	}
}

// ValidateToken returns the user id carried by a valid token.
func (v *Validator) ValidateToken(_ context.Context, token string) (int64, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", identity.ErrInvalidToken, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: subject %q is not a user id", identity.ErrInvalidToken, claims.Subject)
	}
	return userID, nil
}

// Issue signs a token for userID that expires after ttl.
// Tokens are normally minted by the identity provider; this serves operators and tests.
func (v *Validator) Issue(userID int64, ttl time.Duration) (string, error) {
	if userID <= 0 {
		return "", errors.New("user id must be positive")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
