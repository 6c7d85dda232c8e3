package token

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/incident-pager/internal/identity"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_RoundTrip(t *testing.T) {
	v := NewValidator(Config{Secret: "s3cret", Issuer: "incident-pager"})

	token, err := v.Issue(42, time.Hour)
	require.NoError(t, err)

	userID, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestValidator_Rejects(t *testing.T) {
	v := NewValidator(Config{Secret: "s3cret", Issuer: "incident-pager"})

	sign := func(t *testing.T, method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Subject:   "7",
			Issuer:    "incident-pager",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noExpiry := valid()
	noExpiry.ExpiresAt = nil
	foreignIssuer := valid()
	foreignIssuer.Issuer = "someone-else"
	textSubject := valid()
	textSubject.Subject = "alice"

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "wrong secret", token: sign(t, jwt.SigningMethodHS256, []byte("other"), valid())},
		{name: "wrong algorithm", token: sign(t, jwt.SigningMethodHS512, []byte("s3cret"), valid())},
		{name: "unsigned", token: sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid())},
		{name: "expired", token: sign(t, jwt.SigningMethodHS256, []byte("s3cret"), expired)},
		{name: "no expiry", token: sign(t, jwt.SigningMethodHS256, []byte("s3cret"), noExpiry)},
		{name: "foreign issuer", token: sign(t, jwt.SigningMethodHS256, []byte("s3cret"), foreignIssuer)},
		{name: "non-numeric subject", token: sign(t, jwt.SigningMethodHS256, []byte("s3cret"), textSubject)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ValidateToken(context.Background(), tt.token)
			assert.ErrorIs(t, err, identity.ErrInvalidToken)
		})
	}
}

func TestValidator_Issue_RejectsNonPositiveUser(t *testing.T) {
	v := NewValidator(Config{Secret: "s3cret"})

	_, err := v.Issue(0, time.Hour)
	assert.Error(t, err)
}
