package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	apperrors "panel-backup/internal/errors"
)

// S3Provider stores objects in an S3 bucket
type S3Provider struct {
	client *s3.S3
	bucket string
	prefix string
}

// NewS3Provider creates an S3 client. Without static keys the default credential chain is used.
func NewS3Provider(cfg S3Config) (*S3Provider, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create AWS session", err)
	}

	return &S3Provider{
		client: s3.New(sess),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Put uploads an object
func (p *S3Provider) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	_, err := p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(joinPrefix(p.prefix, key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return storageError(fmt.Sprintf("failed to upload %s to S3", key), err)
	}
	return nil
}

// Get downloads an object
func (p *S3Provider) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	result, err := p.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(joinPrefix(p.prefix, key)),
	})
	if err != nil {
		return nil, storageError(fmt.Sprintf("failed to download %s from S3", key), err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, storageError(fmt.Sprintf("failed to read %s", key), err)
	}
	return data, nil
}

// Delete removes an object
func (p *S3Provider) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	_, err := p.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(joinPrefix(p.prefix, key)),
	})
	if err != nil {
		return storageError(fmt.Sprintf("failed to delete %s from S3", key), err)
	}
	return nil
}

// List pages through objects under prefix
func (p *S3Provider) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	err := p.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(joinPrefix(p.prefix, prefix)),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:     trimPrefix(p.prefix, aws.StringValue(obj.Key)),
				Size:    aws.Int64Value(obj.Size),
				ModTime: aws.TimeValue(obj.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, storageError("failed to list S3 archive", err)
	}
	return objects, nil
}

// Describe implements StorageProvider
func (p *S3Provider) Describe() string {
	return fmt.Sprintf("s3://%s/%s", p.bucket, p.prefix)
}
