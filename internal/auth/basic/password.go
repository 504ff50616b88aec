package basic

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the bcrypt cost used when hashing secrets.
const DefaultBcryptCost = bcrypt.DefaultCost

// HashSecret hashes a plain secret with bcrypt.
func HashSecret(secret string) (string, error) {
	return HashSecretWithCost(secret, DefaultBcryptCost)
}

// HashSecretWithCost hashes a plain secret with the given bcrypt cost.
func HashSecretWithCost(secret string, cost int) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// CompareSecret compares a plain secret against a bcrypt hash. The
// comparison takes the same time whether or not the secret matches.
func CompareSecret(hash, secret string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
