package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the claims the external identity provider signs into
// portal bearer tokens: a stable subject id plus the account email the
// portal uses to resolve its own user record.
type TokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}
