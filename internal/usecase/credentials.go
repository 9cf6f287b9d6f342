// File: internal/usecase/credentials.go
package usecase

import (
	"fmt"

	"club-membership-gateway/internal/domain/model"
)

// PasswordHasher turns a plaintext password into a storable hash.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// SecretSealer keeps the plaintext password recoverable until the credentials mail goes out.
type SecretSealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// PasswordGenerator returns a random password of the given length.
type PasswordGenerator func(length int) (string, error)

// IssuedCredentials is what gets written to the account on first activation.
type IssuedCredentials struct {
	Login          string
	PasswordHash   string
	PasswordCipher string
}

// CredentialIssuer generates and seals a fresh password for an account.
type CredentialIssuer struct {
	hasher   PasswordHasher
	sealer   SecretSealer
	generate PasswordGenerator
	length   int
}

func NewCredentialIssuer(hasher PasswordHasher, sealer SecretSealer, generate PasswordGenerator, length int) *CredentialIssuer {
	if length <= 0 {
		length = 12
	}
	return &CredentialIssuer{hasher: hasher, sealer: sealer, generate: generate, length: length}
}

func (c *CredentialIssuer) Issue(acc *model.Account) (*IssuedCredentials, error) {
	plain, err := c.generate(c.length)
	if err != nil {
		return nil, fmt.Errorf("generate password: %w", err)
	}
	hash, err := c.hasher.Hash(plain)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	sealed, err := c.sealer.Encrypt(plain)
	if err != nil {
		return nil, fmt.Errorf("seal password: %w", err)
	}
	return &IssuedCredentials{Login: acc.LoginName(), PasswordHash: hash, PasswordCipher: sealed}, nil
}

// Reveal recovers the plaintext for the credentials mail. An empty cipher means
// the account kept a password it already had; the mail then carries none.
func (c *CredentialIssuer) Reveal(cipher *string) (string, error) {
	if cipher == nil || *cipher == "" {
		return "", nil
	}
	return c.sealer.Decrypt(*cipher)
}
