package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const BcryptCost = 12

// HashResetCode hashes a password-reset verification code with bcrypt.
// Reset codes are short-lived so the cost factor matches interactive use.
func HashResetCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash reset code: %w", err)
	}
	return string(hash), nil
}

// CompareResetCode compares a bcrypt hash against a candidate code
func CompareResetCode(hash, code string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code))
}
