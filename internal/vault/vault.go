// Package vault provides authenticated encryption for PII at rest.
//
// AES-256-GCM with a per-call random nonce. The GCM tag is stored
// separately from the ciphertext so tampering with either fails
// decryption with ErrIntegrity.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// KeySize is the required key length in bytes (AES-256).
const KeySize = 32

var (
	// ErrIntegrity is returned when the authentication tag does not
	// verify: the data was tampered with or the key is wrong.
	ErrIntegrity = errors.New("vault: integrity check failed")

	// ErrBadKey is returned for key material of the wrong length.
	ErrBadKey = errors.New("vault: key must be 32 bytes")
)

// Sealed is one encrypted value. All three parts are required to decrypt.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
}

// Vault encrypts and decrypts with a fixed key derived at startup.
type Vault struct {
	aead cipher.AEAD
}

// New builds a Vault from raw key material.
func New(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, ErrBadKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// NewFromHex builds a Vault from a hex-encoded 32-byte secret, the
// form the key takes in the environment.
func NewFromHex(secret string) (*Vault, error) {
	key, err := hex.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("vault: decode key: %w", err)
	}
	return New(key)
}

// Encrypt seals plaintext under a fresh random nonce.
func (v *Vault) Encrypt(plaintext []byte) (Sealed, error) {
	iv := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Sealed{}, fmt.Errorf("vault: nonce: %w", err)
	}

	out := v.aead.Seal(nil, iv, plaintext, nil)
	tagStart := len(out) - v.aead.Overhead()

	return Sealed{
		Ciphertext: out[:tagStart],
		IV:         iv,
		Tag:        out[tagStart:],
	}, nil
}

// Decrypt opens a sealed value. Any modification of ciphertext, IV or
// tag yields ErrIntegrity.
func (v *Vault) Decrypt(s Sealed) ([]byte, error) {
	if len(s.IV) != v.aead.NonceSize() {
		return nil, ErrIntegrity
	}
	sealed := make([]byte, 0, len(s.Ciphertext)+len(s.Tag))
	sealed = append(sealed, s.Ciphertext...)
	sealed = append(sealed, s.Tag...)

	plaintext, err := v.aead.Open(nil, s.IV, sealed, nil)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

// selfTestPlaintext is a fixed probe string for the startup check.
const selfTestPlaintext = "sentinel-vault-self-test"

// SelfTest round-trips a known string. A failure means the crypto
// configuration is broken and the process must not start.
func (v *Vault) SelfTest() error {
	sealed, err := v.Encrypt([]byte(selfTestPlaintext))
	if err != nil {
		return fmt.Errorf("vault: self-test encrypt: %w", err)
	}
	got, err := v.Decrypt(sealed)
	if err != nil {
		return fmt.Errorf("vault: self-test decrypt: %w", err)
	}
	if !bytes.Equal(got, []byte(selfTestPlaintext)) {
		return errors.New("vault: self-test mismatch")
	}
	return nil
}
