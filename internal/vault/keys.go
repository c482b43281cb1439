package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	apperrors "panel-backup/internal/errors"
)

// KeySize is the AES-256 key length in bytes
const KeySize = 32

const (
	pbkdf2Iterations = 100000
	saltSize         = 32
)

// Key sources
const (
	KeySourceFile       = "file"
	KeySourceEnv        = "env"
	KeySourcePassphrase = "passphrase"
)

// KeyConfig selects where the credential key comes from
type KeyConfig struct {
	Source        string `mapstructure:"source" yaml:"source"`
	Path          string `mapstructure:"path" yaml:"path"`
	EnvVar        string `mapstructure:"env_var" yaml:"env_var"`
	PassphraseEnv string `mapstructure:"passphrase_env" yaml:"passphrase_env"`
	SaltPath      string `mapstructure:"salt_path" yaml:"salt_path"`
}

// KeyManager handles the credential key lifecycle
type KeyManager struct {
	config KeyConfig
}

// NewKeyManager creates a new key manager
func NewKeyManager(config KeyConfig) *KeyManager {
	return &KeyManager{config: config}
}

// LoadOrGenerate returns the configured key. For the file source a key is generated and
// written with mode 0600 the first time. The second return value reports whether it was created.
func (km *KeyManager) LoadOrGenerate() ([]byte, bool, error) {
	switch km.config.Source {
	case KeySourceEnv:
		key, err := km.LoadKeyFromEnv(km.config.EnvVar)
		return key, false, err
	case KeySourcePassphrase:
		return km.deriveFromPassphraseEnv()
	case KeySourceFile, "":
		key, err := km.LoadKeyFromFile(km.config.Path)
		if err == nil {
			return key, false, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, false, err
		}

		key, err = km.GenerateKey()
		if err != nil {
			return nil, false, err
		}
		if err := km.SaveKeyToFile(key, km.config.Path); err != nil {
			return nil, false, err
		}
		return key, true, nil
	default:
		return nil, false, apperrors.NewValidationError(fmt.Sprintf("unknown key source %q", km.config.Source))
	}
}

// GenerateKey generates a new 256-bit encryption key
func (km *KeyManager) GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, apperrors.NewCryptoError("failed to generate encryption key", err)
	}
	return key, nil
}

// DeriveFromPassphrase derives a key from a passphrase using PBKDF2-SHA256
func (km *KeyManager) DeriveFromPassphrase(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, apperrors.NewCryptoError("passphrase must not be empty", nil)
	}
	if len(salt) < 16 {
		return nil, apperrors.NewCryptoError("salt must be at least 16 bytes", nil)
	}
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, KeySize, sha256.New), nil
}

func (km *KeyManager) deriveFromPassphraseEnv() ([]byte, bool, error) {
	passphrase := os.Getenv(km.config.PassphraseEnv)
	if passphrase == "" {
		return nil, false, apperrors.NewCryptoError(
			fmt.Sprintf("environment variable %s not set", km.config.PassphraseEnv), nil)
	}

	created := false
	salt, err := os.ReadFile(km.config.SaltPath)
	if os.IsNotExist(err) {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, false, apperrors.NewCryptoError("failed to generate salt", err)
		}
		if err := writePrivateFile(km.config.SaltPath, salt); err != nil {
			return nil, false, apperrors.NewCryptoError("failed to save salt", err)
		}
		created = true
	} else if err != nil {
		return nil, false, apperrors.NewCryptoError("failed to read salt", err)
	}

	key, err := km.DeriveFromPassphrase(passphrase, salt)
	return key, created, err
}

// SaveKeyToFile saves an encryption key to a file, hex encoded, readable by the owner only
func (km *KeyManager) SaveKeyToFile(key []byte, path string) error {
	if err := km.ValidateKey(key); err != nil {
		return err
	}

	if err := writePrivateFile(path, []byte(hex.EncodeToString(key)+"\n")); err != nil {
		return apperrors.NewCryptoError("failed to save key to file", err)
	}
	return nil
}

// LoadKeyFromFile loads an encryption key from a file. Both raw 32-byte files and hex text are accepted.
func (km *KeyManager) LoadKeyFromFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewCryptoError("failed to read key from file", err)
	}

	key := data
	if len(data) != KeySize {
		decoded, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, apperrors.NewCryptoError("key file is neither raw nor hex encoded", err)
		}
		key = decoded
	}

	if err := km.ValidateKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// LoadKeyFromEnv loads an encryption key from an environment variable (hex-encoded)
func (km *KeyManager) LoadKeyFromEnv(envVar string) ([]byte, error) {
	hexKey := os.Getenv(envVar)
	if hexKey == "" {
		return nil, apperrors.NewCryptoError(fmt.Sprintf("environment variable %s not set", envVar), nil)
	}

	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, apperrors.NewCryptoError("failed to decode hex key from environment variable", err)
	}

	if err := km.ValidateKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Replace writes a fresh key for the file source. Other sources are managed outside the process.
func (km *KeyManager) Replace(key []byte) error {
	if km.config.Source != KeySourceFile && km.config.Source != "" {
		return apperrors.NewValidationError(
			fmt.Sprintf("key source %q is managed externally; update it there", km.config.Source))
	}
	return km.SaveKeyToFile(key, km.config.Path)
}

// ValidateKey validates that a key is suitable for AES-256
func (km *KeyManager) ValidateKey(key []byte) error {
	if len(key) != KeySize {
		return apperrors.NewCryptoError("key must be 32 bytes for AES-256", nil)
	}

	allZeros := true
	allOnes := true
	for _, b := range key {
		if b != 0 {
			allZeros = false
		}
		if b != 0xFF {
			allOnes = false
		}
	}

	if allZeros {
		return apperrors.NewCryptoError("key cannot be all zeros", nil)
	}
	if allOnes {
		return apperrors.NewCryptoError("key cannot be all ones", nil)
	}

	return nil
}

func writePrivateFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
