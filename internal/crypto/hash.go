package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmptySecret = errors.New("secret cannot be empty")
	ErrEmptyHash   = errors.New("hash cannot be empty")
)

// HashSecret hashes a client secret using bcrypt with default cost
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// VerifySecret checks a presented client secret against its bcrypt hash
func VerifySecret(hash, secret string) error {
	if hash == "" {
		return ErrEmptyHash
	}
	if secret == "" {
		return ErrEmptySecret
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}

// BcryptHasher exposes HashSecret and VerifySecret as methods
type BcryptHasher struct{}

func (BcryptHasher) HashSecret(secret string) (string, error) {
	return HashSecret(secret)
}

func (BcryptHasher) VerifySecret(hash, secret string) error {
	return VerifySecret(hash, secret)
}
