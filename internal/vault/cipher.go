package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"
	"strings"

	apperrors "panel-backup/internal/errors"
)

// FieldPrefix tags every encrypted credential field. A stored value without it is legacy plaintext.
const FieldPrefix = "enc:v1:"

// FieldState describes how a stored credential field was interpreted on load
type FieldState int

const (
	// FieldPlaintext means the stored value carried no marker and was used verbatim
	FieldPlaintext FieldState = iota
	// FieldDecrypted means the stored value was tagged ciphertext and decrypted cleanly
	FieldDecrypted
	// FieldUndecryptable means the value was tagged but did not open with the current key
	FieldUndecryptable
)

// Cipher performs AES-256-GCM encryption with a key held for the process lifetime.
// It is safe for concurrent use: every call is a pure function of the key and its input.
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher creates a cipher from a 32-byte key
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, apperrors.NewCryptoError("key must be 32 bytes for AES-256", nil)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperrors.NewCryptoError("failed to create AES cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperrors.NewCryptoError("failed to create GCM cipher", err)
	}

	return &Cipher{gcm: gcm}, nil
}

// Encrypt returns nonce || ciphertext
func (c *Cipher) Encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, apperrors.NewCryptoError("failed to generate nonce", err)
	}

	return c.gcm.Seal(nonce, nonce, data, nil), nil
}

// Decrypt reverses Encrypt
func (c *Cipher) Decrypt(encrypted []byte) ([]byte, error) {
	nonceSize := c.gcm.NonceSize()
	if len(encrypted) < nonceSize+c.gcm.Overhead() {
		return nil, apperrors.NewCryptoError("encrypted data too short", nil)
	}

	nonce, ciphertext := encrypted[:nonceSize], encrypted[nonceSize:]
	plaintext, err := c.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, apperrors.NewCryptoError("failed to decrypt data", err)
	}

	return plaintext, nil
}

// EncryptField encrypts a credential string into its tagged, base64 text form
func (c *Cipher) EncryptField(plaintext string) (string, error) {
	sealed, err := c.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return FieldPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptField interprets a stored credential field. It never fails: untagged values are
// legacy plaintext, and tagged values that do not open come back raw with FieldUndecryptable.
func (c *Cipher) DecryptField(stored string) (string, FieldState) {
	if !IsEncryptedField(stored) {
		return stored, FieldPlaintext
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, FieldPrefix))
	if err != nil {
		return stored, FieldUndecryptable
	}

	plaintext, err := c.Decrypt(raw)
	if err != nil {
		return stored, FieldUndecryptable
	}

	return string(plaintext), FieldDecrypted
}

// IsEncryptedField reports whether a stored value carries the ciphertext marker
func IsEncryptedField(stored string) bool {
	return strings.HasPrefix(stored, FieldPrefix)
}

// Algorithm names the field encryption scheme
func (c *Cipher) Algorithm() string {
	return "AES-256-GCM"
}
