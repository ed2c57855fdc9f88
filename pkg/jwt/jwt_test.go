package jwt

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestGenerateAndValidate(t *testing.T) {
	req := require.New(t)

	token, err := GenerateAccessToken("u1", "alice", secret, "instanext", time.Minute)
	req.NoError(err)

	claims, err := ValidateToken(token, secret)
	req.NoError(err)
	req.Equal("u1", claims.UserID)
	req.Equal("alice", claims.Username)
	req.Equal("instanext", claims.Issuer)
}

func TestValidateToken_Rejects(t *testing.T) {
	t.Run("should reject wrong secret", func(t *testing.T) {
		token, err := GenerateAccessToken("u1", "", secret, "", time.Minute)
		require.NoError(t, err)

		_, err = ValidateToken(token, "other-secret")
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("should reject expired token", func(t *testing.T) {
		token, err := GenerateAccessToken("u1", "", secret, "", -time.Minute)
		require.NoError(t, err)

		_, err = ValidateToken(token, secret)
		require.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("should reject garbage", func(t *testing.T) {
		_, err := ValidateToken("not.a.token", secret)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("should reject none algorithm", func(t *testing.T) {
		token := gojwt.NewWithClaims(gojwt.SigningMethodNone, &Claims{UserID: "u1"})
		signed, err := token.SignedString(gojwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = ValidateToken(signed, secret)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("should reject token without user id", func(t *testing.T) {
		token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, &Claims{})
		signed, err := token.SignedString([]byte(secret))
		require.NoError(t, err)

		_, err = ValidateToken(signed, secret)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestValidateToken_FallsBackToSubject(t *testing.T) {
	req := require.New(t)

	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.RegisteredClaims{Subject: "u9"})
	signed, err := token.SignedString([]byte(secret))
	req.NoError(err)

	claims, err := ValidateToken(signed, secret)
	req.NoError(err)
	req.Equal("u9", claims.UserID)
}

func TestParseUnverified(t *testing.T) {
	req := require.New(t)
	token, err := GenerateAccessToken("u1", "alice", "secret", "test", time.Hour)
	req.NoError(err)

	claims, err := ParseUnverified(token)

	req.NoError(err)
	req.Equal("u1", claims.UserID)

	_, err = ParseUnverified("garbage")
	req.ErrorIs(err, ErrInvalidToken)
}

func TestValidateToken_AcceptsWebClientUserIDClaim(t *testing.T) {
	req := require.New(t)

	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"userId": "u1",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	req.NoError(err)

	claims, err := ValidateToken(signed, secret)
	req.NoError(err)
	req.Equal("u1", claims.UserID)

	unverified, err := ParseUnverified(signed)
	req.NoError(err)
	req.Equal("u1", unverified.UserID)
}

func TestValidateToken_UserIDClaimWinsOverSubject(t *testing.T) {
	req := require.New(t)

	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"user_id": "primary",
		"userId":  "legacy",
		"sub":     "subject",
	})
	signed, err := token.SignedString([]byte(secret))
	req.NoError(err)

	claims, err := ValidateToken(signed, secret)
	req.NoError(err)
	req.Equal("primary", claims.UserID)
}
