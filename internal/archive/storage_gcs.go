package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	apperrors "panel-backup/internal/errors"
)

// GCSProvider stores objects in a Google Cloud Storage bucket
type GCSProvider struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSProvider creates a client from a credentials file or the default credentials
func NewGCSProvider(ctx context.Context, cfg GCSConfig) (*GCSProvider, error) {
	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create GCS client", err)
	}

	return &GCSProvider{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Put uploads an object
func (p *GCSProvider) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	writer := p.client.Bucket(p.bucket).Object(joinPrefix(p.prefix, key)).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return storageError(fmt.Sprintf("failed to write %s to GCS", key), err)
	}
	if err := writer.Close(); err != nil {
		return storageError(fmt.Sprintf("failed to upload %s to GCS", key), err)
	}
	return nil
}

// Get downloads an object
func (p *GCSProvider) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	reader, err := p.client.Bucket(p.bucket).Object(joinPrefix(p.prefix, key)).NewReader(ctx)
	if err != nil {
		return nil, storageError(fmt.Sprintf("failed to download %s from GCS", key), err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, storageError(fmt.Sprintf("failed to read %s", key), err)
	}
	return data, nil
}

// Delete removes an object
func (p *GCSProvider) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := p.client.Bucket(p.bucket).Object(joinPrefix(p.prefix, key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return storageError(fmt.Sprintf("failed to delete %s from GCS", key), err)
	}
	return nil
}

// List iterates objects under prefix
func (p *GCSProvider) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	it := p.client.Bucket(p.bucket).Objects(ctx, &storage.Query{Prefix: joinPrefix(p.prefix, prefix)})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, storageError("failed to list GCS archive", err)
		}
		objects = append(objects, ObjectInfo{
			Key:     trimPrefix(p.prefix, attrs.Name),
			Size:    attrs.Size,
			ModTime: attrs.Updated,
		})
	}
	return objects, nil
}

// Describe implements StorageProvider
func (p *GCSProvider) Describe() string {
	return fmt.Sprintf("gs://%s/%s", p.bucket, p.prefix)
}
