package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	apperrors "panel-backup/internal/errors"
)

// LocalProvider stores objects as files under a base directory
type LocalProvider struct {
	basePath string
}

// NewLocalProvider creates the base directory if needed
func NewLocalProvider(cfg LocalConfig) (*LocalProvider, error) {
	if cfg.BasePath == "" {
		return nil, apperrors.NewValidationError("local archive base path is required")
	}
	if err := os.MkdirAll(cfg.BasePath, 0700); err != nil {
		return nil, apperrors.NewStorageError("failed to create archive directory", err)
	}
	return &LocalProvider{basePath: cfg.BasePath}, nil
}

func (p *LocalProvider) path(key string) string {
	return filepath.Join(p.basePath, filepath.FromSlash(key))
}

// Put writes data atomically
func (p *LocalProvider) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	target := p.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
		return apperrors.NewStorageError("failed to create archive directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return apperrors.NewStorageError("failed to create archive object", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.NewStorageError(fmt.Sprintf("failed to write %s", key), err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("failed to write %s", key), err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("failed to write %s", key), err)
	}
	return nil
}

// Get reads an object
func (p *LocalProvider) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NewStorageError(fmt.Sprintf("archive object %s not found", key), err)
	}
	if err != nil {
		return nil, apperrors.NewStorageError(fmt.Sprintf("failed to read %s", key), err)
	}
	return data, nil
}

// Delete removes an object
func (p *LocalProvider) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := os.Remove(p.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperrors.NewStorageError(fmt.Sprintf("failed to delete %s", key), err)
	}
	return nil
}

// List walks the base directory for keys starting with prefix
func (p *LocalProvider) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	err := filepath.WalkDir(p.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		rel, err := filepath.Rel(p.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, apperrors.NewStorageError("failed to list archive", err)
	}
	return objects, nil
}

// Describe implements StorageProvider
func (p *LocalProvider) Describe() string {
	return "local:" + p.basePath
}
