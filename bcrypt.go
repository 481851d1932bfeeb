package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes password with the package default cost
func HashPassword(password string) (string, error) {
	return HashPasswordWithCost(password, passwordHashCost())
}

// HashPasswordWithCost hashes with an explicit bcrypt cost
func HashPasswordWithCost(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(h), err
}

// ComparePasswordAndHash reports ErrMismatchedHashAndPassword when
// password does not produce hash
func ComparePasswordAndHash(password, hash string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrMismatchedHashAndPassword
	}
	return err
}

// BcryptAuthenticator is the default PasswordAuthenticator used by the
// login, password gate and reset confirm flows
type BcryptAuthenticator struct {
	Cost int
}

func (b BcryptAuthenticator) HashPassword(password string) (string, error) {
	if b.Cost <= 0 {
		return HashPassword(password)
	}
	return HashPasswordWithCost(password, b.Cost)
}

func (b BcryptAuthenticator) ComparePasswordAndHash(password, hash string) error {
	return ComparePasswordAndHash(password, hash)
}
