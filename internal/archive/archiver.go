// Package archive keeps long-term copies of downloaded panel databases in a local directory or
// a cloud bucket, compressed and optionally encrypted, with per-host retention.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "panel-backup/internal/errors"
	"panel-backup/internal/logging"
	"panel-backup/internal/models"
	"panel-backup/internal/panel"
)

const (
	metadataSuffix = ".json"
	encryptedExt   = ".enc"
)

// Encrypter seals archive payloads
type Encrypter interface {
	Encrypt(data []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

// Config configures an Archiver
type Config struct {
	Enabled          bool            `mapstructure:"enabled" yaml:"enabled"`
	Compression      CompressionType `mapstructure:"compression" yaml:"compression"`
	CompressionLevel int             `mapstructure:"compression_level" yaml:"compression_level"`
	Encrypt          bool            `mapstructure:"encrypt" yaml:"encrypt"`
	Retention        RetentionPolicy `mapstructure:"retention" yaml:"retention"`
	PruneAfterStore  bool            `mapstructure:"prune_after_store" yaml:"prune_after_store"`
	Storage          ProviderConfig  `mapstructure:"storage" yaml:"storage"`
}

// Entry is the metadata stored next to every archived object
type Entry struct {
	ID             string          `json:"id" yaml:"id"`
	Key            string          `json:"key" yaml:"key"`
	Host           string          `json:"host" yaml:"host"`
	BaseURL        string          `json:"base_url" yaml:"base_url"`
	DiscoveredPath string          `json:"db_path" yaml:"db_path"`
	Size           int64           `json:"size" yaml:"size"`
	StoredSize     int64           `json:"stored_size" yaml:"stored_size"`
	Checksum       string          `json:"sha256" yaml:"sha256"`
	Compression    CompressionType `json:"compression" yaml:"compression"`
	Encrypted      bool            `json:"encrypted" yaml:"encrypted"`
	CreatedAt      time.Time       `json:"created_at" yaml:"created_at"`
}

// Archiver stores artifacts through a StorageProvider
type Archiver struct {
	provider    StorageProvider
	compression *CompressionManager
	encrypter   Encrypter
	config      Config
	retry       *apperrors.RetryHandler
	logger      *logging.Logger
	now         func() time.Time
}

// New creates an archiver. encrypter is required only when cfg.Encrypt is set.
func New(provider StorageProvider, encrypter Encrypter, cfg Config, logger *logging.Logger) (*Archiver, error) {
	compression := NewCompressionManager()
	if !compression.Supported(cfg.Compression) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported compression algorithm: %s", cfg.Compression))
	}
	if cfg.Encrypt && encrypter == nil {
		return nil, apperrors.NewValidationError("archive encryption requires a key")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	retry := apperrors.DefaultRetryConfig()
	retry.MaxDelay = 10 * time.Second

	return &Archiver{
		provider:    provider,
		compression: compression,
		encrypter:   encrypter,
		config:      cfg,
		retry:       apperrors.NewRetryHandler(retry),
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Provider returns the underlying storage provider
func (a *Archiver) Provider() StorageProvider {
	return a.provider
}

// Store archives the artifact file and returns the object key
func (a *Archiver) Store(ctx context.Context, artifact *models.Artifact) (string, error) {
	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		return "", apperrors.NewStorageError("failed to read artifact", err)
	}

	payload, stats, err := a.compression.Compress(data, a.config.Compression, a.config.CompressionLevel)
	if err != nil {
		return "", err
	}
	if a.config.Encrypt {
		payload, err = a.encrypter.Encrypt(payload)
		if err != nil {
			return "", apperrors.NewCryptoError("failed to encrypt archive", err)
		}
	}

	createdAt := artifact.CreatedAt
	if createdAt.IsZero() {
		createdAt = a.now().UTC()
	}
	checksum := artifact.Checksum
	if checksum == "" {
		sum := sha256.Sum256(data)
		checksum = hex.EncodeToString(sum[:])
	}

	entry := Entry{
		ID:             uuid.New().String(),
		Key:            a.objectKey(artifact.Host, createdAt),
		Host:           artifact.Host,
		BaseURL:        artifact.BaseURL,
		DiscoveredPath: artifact.DiscoveredPath,
		Size:           int64(len(data)),
		StoredSize:     int64(len(payload)),
		Checksum:       checksum,
		Compression:    stats.Algorithm,
		Encrypted:      a.config.Encrypt,
		CreatedAt:      createdAt,
	}

	meta, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", apperrors.NewStorageError("failed to encode archive metadata", err)
	}

	err = a.retry.Retry(ctx, func() error {
		return a.provider.Put(ctx, entry.Key, payload, "application/octet-stream")
	})
	if err != nil {
		return "", err
	}
	err = a.retry.Retry(ctx, func() error {
		return a.provider.Put(ctx, entry.Key+metadataSuffix, meta, "application/json")
	})
	if err != nil {
		return "", err
	}

	a.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"host":        entry.Host,
		"key":         entry.Key,
		"size":        entry.Size,
		"stored_size": entry.StoredSize,
		"compression": entry.Compression,
		"encrypted":   entry.Encrypted,
		"destination": a.provider.Describe(),
	}).Info("Artifact archived")

	if a.config.PruneAfterStore && a.config.Retention.Enabled() {
		if _, err := a.Prune(ctx); err != nil {
			a.logger.WithContext(ctx).WithField("error", err.Error()).Warn("Archive pruning failed")
		}
	}

	return entry.Key, nil
}

// List returns archived entries, newest first. An empty host lists every host.
func (a *Archiver) List(ctx context.Context, host string) ([]Entry, error) {
	prefix := ""
	if host != "" {
		prefix = hostDir(host) + "/"
	}

	objects, err := a.provider.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(objects)/2)
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Key, metadataSuffix) {
			continue
		}
		entry, err := a.readEntry(ctx, obj.Key)
		if err != nil {
			a.logger.WithFields(map[string]interface{}{
				"key":   obj.Key,
				"error": err.Error(),
			}).Warn("Skipping unreadable archive metadata")
			continue
		}
		if host != "" && entry.Host != host {
			continue
		}
		entries = append(entries, *entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	return entries, nil
}

// Prune deletes entries the retention policy no longer protects and returns them
func (a *Archiver) Prune(ctx context.Context) ([]Entry, error) {
	entries, err := a.List(ctx, "")
	if err != nil {
		return nil, err
	}

	expired := a.config.Retention.Expired(entries, a.now())
	removed := make([]Entry, 0, len(expired))
	for _, e := range expired {
		if err := a.provider.Delete(ctx, e.Key); err != nil {
			return removed, err
		}
		if err := a.provider.Delete(ctx, e.Key+metadataSuffix); err != nil {
			return removed, err
		}
		removed = append(removed, e)
	}

	if len(removed) > 0 {
		a.logger.WithField("removed", len(removed)).Info("Archive pruned")
	}
	return removed, nil
}

// Restore writes the original database for key to dest after checking checksum and signature
func (a *Archiver) Restore(ctx context.Context, key, dest string) (*Entry, error) {
	key = strings.TrimSuffix(key, metadataSuffix)
	entry, err := a.readEntry(ctx, key+metadataSuffix)
	if err != nil {
		return nil, err
	}

	payload, err := a.provider.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if entry.Encrypted {
		if a.encrypter == nil {
			return nil, apperrors.NewCryptoError("archive is encrypted but no key is loaded", nil)
		}
		payload, err = a.encrypter.Decrypt(payload)
		if err != nil {
			return nil, apperrors.NewCryptoError("failed to decrypt archive; was it written under another key?", err)
		}
	}

	data, err := a.compression.Decompress(payload, entry.Compression)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != entry.Checksum {
		return nil, apperrors.NewStorageError("restored data does not match the recorded checksum", nil)
	}
	if err := panel.CheckSignature(data); err != nil {
		return nil, apperrors.NewStorageError("restored data is not a SQLite database", err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return nil, apperrors.NewStorageError("failed to create destination directory", err)
	}
	if err := os.WriteFile(dest, data, 0600); err != nil {
		return nil, apperrors.NewStorageError("failed to write restored database", err)
	}
	return entry, nil
}

func (a *Archiver) readEntry(ctx context.Context, metaKey string) (*Entry, error) {
	raw, err := a.provider.Get(ctx, metaKey)
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, apperrors.NewStorageError(fmt.Sprintf("corrupt archive metadata %s", metaKey), err)
	}
	return &entry, nil
}

func (a *Archiver) objectKey(host string, at time.Time) string {
	dir := hostDir(host)
	key := fmt.Sprintf("%s/%s_%s.db%s", dir, dir, at.UTC().Format("20060102T150405.000Z"), a.config.Compression.Extension())
	if a.config.Encrypt {
		key += encryptedExt
	}
	return key
}

func hostDir(host string) string {
	return strings.ReplaceAll(models.SanitizeName(host), " ", "_")
}
