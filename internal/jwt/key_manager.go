package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// MinRSAKeyBits is the smallest RSA modulus accepted for signing access tokens.
const MinRSAKeyBits = 2048

// GenerateKeyPair generates an RSA key pair with the specified bit size
func GenerateKeyPair(bitSize int) (*rsa.PrivateKey, error) {
	if bitSize < MinRSAKeyBits {
		return nil, fmt.Errorf("bit size must be at least %d", MinRSAKeyBits)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, bitSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	return privateKey, nil
}

// SaveKeyPair writes the private key (0600) and its public half (0644) as PEM files
func SaveKeyPair(privateKey *rsa.PrivateKey, privateKeyPath, publicKeyPath string) error {
	privPEM := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}
	if err := writePEM(privateKeyPath, privPEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to marshal public key: %w", err)
	}
	pubPEM := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubBytes,
	}
	if err := writePEM(publicKeyPath, pubPEM, 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	return nil
}

func writePEM(path string, block *pem.Block, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer f.Close()

	return pem.Encode(f, block)
}

// LoadPrivateKeyFromFile loads an RSA private key from a PEM file
func LoadPrivateKeyFromFile(path string) (*rsa.PrivateKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.New("file does not exist")
		}
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}

	return LoadPrivateKeyFromPEM(keyData)
}

// LoadPrivateKeyFromPEM parses a PKCS1 or PKCS8 RSA private key
func LoadPrivateKeyFromPEM(keyData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, errors.New("invalid PEM format")
	}

	var privateKey *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		privateKey = key
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("not an RSA private key")
		}
		privateKey = rsaKey
	default:
		return nil, errors.New("wrong key type")
	}

	if privateKey.N.BitLen() < MinRSAKeyBits {
		return nil, fmt.Errorf("RSA key is %d bits, need at least %d", privateKey.N.BitLen(), MinRSAKeyBits)
	}

	return privateKey, nil
}

// KeyID derives a stable kid header value from the public key
func KeyID(publicKey *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:16]), nil
}
