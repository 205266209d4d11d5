package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialbridge/portal/internal/models"
)

var testSigningSecret = []byte("test-idp-signing-secret-for-portal")

func signTestToken(t *testing.T, secret []byte, claims *models.TokenClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestTokenVerifier_VerifyToken_Valid(t *testing.T) {
	tv := NewTokenVerifier(testSigningSecret)

	tokenString := signTestToken(t, testSigningSecret, &models.TokenClaims{
		Email: "investigator@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "idp-subject-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := tv.VerifyToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, "investigator@example.com", claims.Email)
	assert.Equal(t, "idp-subject-123", claims.Subject)
}

func TestTokenVerifier_VerifyToken_WrongSecret(t *testing.T) {
	tv := NewTokenVerifier(testSigningSecret)

	tokenString := signTestToken(t, []byte("some-other-secret-entirely-here!"), &models.TokenClaims{
		Email: "investigator@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err := tv.VerifyToken(tokenString)
	assert.Error(t, err)
}

func TestTokenVerifier_VerifyToken_Expired(t *testing.T) {
	tv := NewTokenVerifier(testSigningSecret)

	tokenString := signTestToken(t, testSigningSecret, &models.TokenClaims{
		Email: "investigator@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})

	_, err := tv.VerifyToken(tokenString)
	assert.Error(t, err)
}

func TestTokenVerifier_VerifyToken_MissingEmailClaim(t *testing.T) {
	tv := NewTokenVerifier(testSigningSecret)

	tokenString := signTestToken(t, testSigningSecret, &models.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "idp-subject-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err := tv.VerifyToken(tokenString)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing email claim")
}

func TestTokenVerifier_VerifyToken_UnexpectedSigningMethod(t *testing.T) {
	tv := NewTokenVerifier(testSigningSecret)

	// alg=none tokens must never verify
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &models.TokenClaims{
		Email: "investigator@example.com",
	})
	tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = tv.VerifyToken(tokenString)
	assert.Error(t, err)
}

func TestTokenVerifier_VerifyToken_Garbage(t *testing.T) {
	tv := NewTokenVerifier(testSigningSecret)

	_, err := tv.VerifyToken("not.a.token")
	assert.Error(t, err)
}
