package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/trialbridge/portal/internal/models"
)

// TokenVerifier validates bearer tokens issued by the sponsor identity
// provider. The portal never issues tokens; it only verifies them and
// maps the asserted email to a provisioned portal account.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier for the shared IdP signing secret
func NewTokenVerifier(secret []byte) *TokenVerifier {
	return &TokenVerifier{secret: secret}
}

// VerifyToken checks the token signature and registered claims and
// returns the asserted identity
func (tv *TokenVerifier) VerifyToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tv.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Email == "" {
		return nil, fmt.Errorf("invalid token: missing email claim")
	}

	return claims, nil
}
