package utils

import (
	"fmt"

	"github.com/sethvargo/go-password/password"
	"golang.org/x/crypto/bcrypt"
)

// GeneratePIN produces a random 6-digit access PIN.
func GeneratePIN() (string, error) {
	pin, err := password.Generate(6, 6, 0, false, true)
	if err != nil {
		return "", fmt.Errorf("generate pin: %w", err)
	}
	return pin, nil
}

// HashPIN derives the bcrypt hash persisted in settings.
func HashPIN(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash pin: %w", err)
	}
	return string(hash), nil
}

// CheckPIN reports whether the PIN matches the stored hash.
func CheckPIN(hash, pin string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}
