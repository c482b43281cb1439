package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	apperrors "panel-backup/internal/errors"
	"panel-backup/internal/logging"
	"panel-backup/internal/models"
)

const (
	hostsFileName    = "hosts.json"
	scheduleFileName = "schedule.json"
)

// FileBackend keeps state as two JSON documents in one directory: a flat list of host
// records and a single schedule object.
type FileBackend struct {
	dir    string
	logger *logging.Logger
}

// NewFileBackend creates a JSON file backend rooted at dir
func NewFileBackend(dir string, logger *logging.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, apperrors.NewStorageError("failed to create state directory", err).
			WithContext("dir", dir)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FileBackend{dir: dir, logger: logger}, nil
}

// HostsPath returns the host list file path
func (b *FileBackend) HostsPath() string {
	return filepath.Join(b.dir, hostsFileName)
}

// SchedulePath returns the schedule file path
func (b *FileBackend) SchedulePath() string {
	return filepath.Join(b.dir, scheduleFileName)
}

// ReadHosts reads the host list. A missing, unreadable or corrupt file yields an empty list;
// a corrupt file is first moved aside so the next write does not destroy it.
func (b *FileBackend) ReadHosts(ctx context.Context) ([]models.HostRecord, error) {
	var hosts []models.HostRecord
	if !b.readDocument(b.HostsPath(), &hosts) {
		return []models.HostRecord{}, nil
	}
	if hosts == nil {
		hosts = []models.HostRecord{}
	}
	return hosts, nil
}

// WriteHosts replaces the host list
func (b *FileBackend) WriteHosts(ctx context.Context, hosts []models.HostRecord) error {
	if hosts == nil {
		hosts = []models.HostRecord{}
	}
	return b.writeDocument(b.HostsPath(), hosts)
}

// ReadSchedule reads the schedule setting
func (b *FileBackend) ReadSchedule(ctx context.Context) (models.ScheduleSetting, bool, error) {
	var setting models.ScheduleSetting
	if !b.readDocument(b.SchedulePath(), &setting) || !setting.Valid() {
		return models.ScheduleSetting{}, false, nil
	}
	return setting, true, nil
}

// WriteSchedule replaces the schedule setting
func (b *FileBackend) WriteSchedule(ctx context.Context, setting models.ScheduleSetting) error {
	return b.writeDocument(b.SchedulePath(), setting)
}

// Close is a no-op for the file backend
func (b *FileBackend) Close() error {
	return nil
}

func (b *FileBackend) readDocument(path string, v interface{}) bool {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	if err != nil {
		b.logger.WithFields(map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		}).Warn("State file unreadable; continuing with defaults")
		return false
	}

	if err := json.Unmarshal(data, v); err != nil {
		quarantine := fmt.Sprintf("%s.corrupt-%s", path, time.Now().Format("20060102-150405"))
		fields := map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		}
		if renameErr := os.Rename(path, quarantine); renameErr == nil {
			fields["moved_to"] = quarantine
		}
		b.logger.WithFields(fields).Warn("State file corrupt; continuing with defaults")
		return false
	}
	return true
}

// writeDocument writes through a temp file and rename so a crash never leaves half a document
func (b *FileBackend) writeDocument(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return apperrors.NewStorageError("failed to encode state", err)
	}

	tmp, err := os.CreateTemp(b.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return apperrors.NewStorageError("failed to create temp state file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return apperrors.NewStorageError("failed to write state file", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return apperrors.NewStorageError("failed to restrict state file permissions", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.NewStorageError("failed to close state file", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return apperrors.NewStorageError("failed to replace state file", err).WithContext("path", path)
	}
	return nil
}
