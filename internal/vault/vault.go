package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Vault seals stored transcript text with AES-256-GCM under a
// passphrase-derived key.
type Vault struct {
	key [32]byte
}

// New creates a Vault by deriving an AES-256 key from the passphrase via Argon2id.
// The salt is deterministic (SHA-256 of passphrase), so the same passphrase always
// produces the same key across restarts.
func New(passphrase string) *Vault {
	salt := sha256.Sum256([]byte(passphrase))
	key := argon2.IDKey([]byte(passphrase), salt[:16], 1, 64*1024, 4, 32)

	v := &Vault{}
	copy(v.key[:], key)
	return v
}

// Encrypt encrypts plaintext using AES-256-GCM with a random nonce.
func (v *Vault) Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("create gcm: %w", err)
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt decrypts ciphertext using AES-256-GCM with the provided nonce.
func (v *Vault) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	return plaintext, nil
}

// ErrSealedFormat is returned by Open for text that was not produced by Seal.
var ErrSealedFormat = errors.New("vault: malformed sealed text")

// Seal encrypts text and returns it as base64(nonce || ciphertext), suitable
// for a TEXT column.
func (v *Vault) Seal(text string) (string, error) {
	ciphertext, nonce, err := v.Encrypt([]byte(text))
	if err != nil {
		return "", err
	}
	buf := make([]byte, 0, len(nonce)+len(ciphertext))
	buf = append(buf, nonce...)
	buf = append(buf, ciphertext...)
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Open reverses Seal.
func (v *Vault) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealedFormat, err)
	}
	const nonceSize = 12 // GCM standard nonce
	if len(raw) <= nonceSize {
		return "", ErrSealedFormat
	}
	plaintext, err := v.Decrypt(raw[nonceSize:], raw[:nonceSize])
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
