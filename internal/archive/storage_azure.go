package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"

	apperrors "panel-backup/internal/errors"
)

// AzureProvider stores objects as block blobs in one container
type AzureProvider struct {
	container azblob.ContainerURL
	name      string
	prefix    string
}

// NewAzureProvider creates a shared-key authenticated container client
func NewAzureProvider(cfg AzureConfig) (*AzureProvider, error) {
	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create Azure credentials", err)
	}

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName))
	if err != nil {
		return nil, apperrors.NewStorageError("failed to parse Azure service URL", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	service := azblob.NewServiceURL(*serviceURL, pipeline)

	return &AzureProvider{
		container: service.NewContainerURL(cfg.ContainerName),
		name:      cfg.ContainerName,
		prefix:    cfg.Prefix,
	}, nil
}

// Put uploads a block blob
func (p *AzureProvider) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	blob := p.container.NewBlockBlobURL(joinPrefix(p.prefix, key))
	_, err := azblob.UploadBufferToBlockBlob(ctx, data, blob, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 4,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: contentType,
		},
	})
	if err != nil {
		return storageError(fmt.Sprintf("failed to upload %s to Azure", key), err)
	}
	return nil
}

// Get downloads a blob
func (p *AzureProvider) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	blob := p.container.NewBlockBlobURL(joinPrefix(p.prefix, key))
	resp, err := blob.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, storageError(fmt.Sprintf("failed to download %s from Azure", key), err)
	}

	body := resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 5})
	defer body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return nil, storageError(fmt.Sprintf("failed to read %s", key), err)
	}
	return buf.Bytes(), nil
}

// Delete removes a blob and its snapshots
func (p *AzureProvider) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	blob := p.container.NewBlockBlobURL(joinPrefix(p.prefix, key))
	if _, err := blob.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{}); err != nil {
		return storageError(fmt.Sprintf("failed to delete %s from Azure", key), err)
	}
	return nil
}

// List walks the flat blob listing under prefix
func (p *AzureProvider) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := p.container.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: joinPrefix(p.prefix, prefix),
		})
		if err != nil {
			return nil, storageError("failed to list Azure archive", err)
		}

		for _, item := range resp.Segment.BlobItems {
			info := ObjectInfo{
				Key:     trimPrefix(p.prefix, item.Name),
				ModTime: item.Properties.LastModified,
			}
			if item.Properties.ContentLength != nil {
				info.Size = *item.Properties.ContentLength
			}
			objects = append(objects, info)
		}
		marker = resp.NextMarker
	}
	return objects, nil
}

// Describe implements StorageProvider
func (p *AzureProvider) Describe() string {
	return fmt.Sprintf("azure://%s/%s", p.name, p.prefix)
}
