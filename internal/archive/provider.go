package archive

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	apperrors "panel-backup/internal/errors"
)

// ProviderType names a storage backend
type ProviderType string

const (
	ProviderLocal ProviderType = "local"
	ProviderS3    ProviderType = "s3"
	ProviderAzure ProviderType = "azure"
	ProviderGCS   ProviderType = "gcs"
)

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// StorageProvider is a flat key/value object store
type StorageProvider interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Describe() string
}

// LocalConfig configures the local provider
type LocalConfig struct {
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
}

// S3Config configures the S3 provider. Endpoint allows S3-compatible services.
type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
}

// AzureConfig configures the Azure Blob provider
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key,omitempty"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	Prefix        string `mapstructure:"prefix" yaml:"prefix"`
}

// GCSConfig configures the Google Cloud Storage provider
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path,omitempty"`
}

// ProviderConfig selects and configures one provider
type ProviderConfig struct {
	Type  ProviderType `mapstructure:"type" yaml:"type"`
	Local LocalConfig  `mapstructure:"local" yaml:"local"`
	S3    S3Config     `mapstructure:"s3" yaml:"s3"`
	Azure AzureConfig  `mapstructure:"azure" yaml:"azure"`
	GCS   GCSConfig    `mapstructure:"gcs" yaml:"gcs"`
}

// Validate checks the selected provider's required fields
func (c ProviderConfig) Validate() error {
	switch c.Type {
	case ProviderLocal, "":
		if c.Local.BasePath == "" {
			return fmt.Errorf("archive.storage.local.base_path is required")
		}
	case ProviderS3:
		if c.S3.Bucket == "" || c.S3.Region == "" {
			return fmt.Errorf("archive.storage.s3 requires bucket and region")
		}
	case ProviderAzure:
		if c.Azure.AccountName == "" || c.Azure.AccountKey == "" || c.Azure.ContainerName == "" {
			return fmt.Errorf("archive.storage.azure requires account_name, account_key and container_name")
		}
	case ProviderGCS:
		if c.GCS.Bucket == "" {
			return fmt.Errorf("archive.storage.gcs.bucket is required")
		}
	default:
		return fmt.Errorf("unsupported archive provider: %s", c.Type)
	}
	return nil
}

// NewProvider creates the provider selected by cfg
func NewProvider(ctx context.Context, cfg ProviderConfig) (StorageProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	switch cfg.Type {
	case ProviderS3:
		return NewS3Provider(cfg.S3)
	case ProviderAzure:
		return NewAzureProvider(cfg.Azure)
	case ProviderGCS:
		return NewGCSProvider(ctx, cfg.GCS)
	default:
		return NewLocalProvider(cfg.Local)
	}
}

// SupportedProviders lists the provider types NewProvider accepts
func SupportedProviders() []ProviderType {
	return []ProviderType{ProviderLocal, ProviderS3, ProviderAzure, ProviderGCS}
}

// validateKey rejects keys that could escape the archive root
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return apperrors.NewValidationError(fmt.Sprintf("invalid object key %q", key))
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." || part == "" {
			return apperrors.NewValidationError(fmt.Sprintf("invalid object key %q", key))
		}
	}
	return nil
}

func joinPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

func trimPrefix(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return strings.TrimPrefix(strings.TrimPrefix(name, strings.TrimSuffix(prefix, "/")), "/")
}

func storageError(message string, err error) error {
	return apperrors.NewRecoverableError(apperrors.ErrorTypeStorage, message, err)
}
