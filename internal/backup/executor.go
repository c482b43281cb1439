package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	apperrors "panel-backup/internal/errors"
	"panel-backup/internal/logging"
	"panel-backup/internal/models"
	"panel-backup/internal/panel"
)

// SessionOpener authenticates against a panel
type SessionOpener interface {
	Authenticate(ctx context.Context, host models.HostRecord, profile panel.Profile) (*panel.Session, error)
}

// EndpointFinder locates the database export endpoint of a session
type EndpointFinder interface {
	Discover(ctx context.Context, session *panel.Session, profile panel.Profile) (*panel.Discovery, error)
	Rescan(ctx context.Context, session *panel.Session, profile panel.Profile) (*panel.Discovery, error)
}

// PathRecorder persists a confirmed endpoint for a host
type PathRecorder interface {
	RememberPath(ctx context.Context, host models.HostRecord, path string, backedUpAt *time.Time) (bool, error)
}

// ExecutorConfig wires an Executor
type ExecutorConfig struct {
	Sessions  SessionOpener
	Endpoints EndpointFinder
	Paths     PathRecorder
	WorkDir   string
	Profiles  panel.Profiles
	Logger    *logging.Logger
}

// Executor downloads one host's database to a temporary artifact
type Executor struct {
	sessions  SessionOpener
	endpoints EndpointFinder
	paths     PathRecorder
	workDir   string
	profiles  panel.Profiles
	logger    *logging.Logger
	now       func() time.Time
}

// NewExecutor creates an executor
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Sessions == nil || cfg.Endpoints == nil || cfg.Paths == nil {
		return nil, apperrors.NewValidationError("executor requires an authenticator, a discoverer and a registry")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "panel-backup")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	return &Executor{
		sessions:  cfg.Sessions,
		endpoints: cfg.Endpoints,
		paths:     cfg.Paths,
		workDir:   cfg.WorkDir,
		profiles:  cfg.Profiles,
		logger:    cfg.Logger,
		now:       time.Now,
	}, nil
}

// WorkDir returns the directory temporary artifacts are written to
func (e *Executor) WorkDir() string {
	return e.workDir
}

// ArtifactPath returns the deterministic temporary file for host
func (e *Executor) ArtifactPath(host models.HostRecord) string {
	return filepath.Join(e.workDir, host.ArtifactName()+".db")
}

// Backup authenticates with the backup profile, discovers the endpoint and writes the payload
// to ArtifactPath. A newly confirmed path is stored in the registry before returning.
func (e *Executor) Backup(ctx context.Context, host models.HostRecord) (*models.Artifact, error) {
	started := e.now()
	artifact, err := e.backup(ctx, host)
	var size int64
	if artifact != nil {
		size = artifact.Size
	}
	e.logger.LogBackup(ctx, host.Name, size, e.now().Sub(started), err)
	return artifact, err
}

func (e *Executor) backup(ctx context.Context, host models.HostRecord) (*models.Artifact, error) {
	profile := e.profiles.Backup

	session, err := e.sessions.Authenticate(ctx, host, profile)
	if err != nil {
		return nil, err
	}

	found, err := e.endpoints.Discover(ctx, session, profile)
	if err != nil {
		return nil, err
	}

	artifact, err := e.writeArtifact(host, found)
	if err != nil {
		return nil, err
	}

	createdAt := artifact.CreatedAt
	changed, err := e.paths.RememberPath(ctx, host, found.Path, &createdAt)
	if err != nil {
		// The artifact is still valid; a host removed mid-run just loses its bookkeeping.
		e.logger.WithContext(ctx).WithField("host", host.Name).WithField("error", err.Error()).
			Warn("Failed to record backup in registry")
		artifact.Warnings = append(artifact.Warnings,
			fmt.Sprintf("database path %s not saved: %s", found.Path, apperrors.FormatUserError(err)))
	} else if changed {
		e.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"host": host.Name,
			"path": found.Path,
		}).Info("Stored newly discovered database path")
	}

	return artifact, nil
}

// Probe runs the live connection test used when adding or editing a host
func (e *Executor) Probe(ctx context.Context, host models.HostRecord) (*panel.Discovery, error) {
	session, err := e.sessions.Authenticate(ctx, host, e.profiles.Probe)
	if err != nil {
		return nil, err
	}
	return e.endpoints.Discover(ctx, session, e.profiles.Probe)
}

// Rescan re-runs discovery over the fixed candidate list for a stored host and records the
// confirmed path. A failed rescan leaves the remembered path untouched.
func (e *Executor) Rescan(ctx context.Context, host models.HostRecord) (*panel.Discovery, error) {
	session, err := e.sessions.Authenticate(ctx, host, e.profiles.Probe)
	if err != nil {
		return nil, err
	}

	found, err := e.endpoints.Rescan(ctx, session, e.profiles.Probe)
	if err != nil {
		return nil, err
	}

	if _, err := e.paths.RememberPath(ctx, host, found.Path, nil); err != nil {
		return nil, err
	}
	return found, nil
}

func (e *Executor) writeArtifact(host models.HostRecord, found *panel.Discovery) (*models.Artifact, error) {
	if err := os.MkdirAll(e.workDir, 0700); err != nil {
		return nil, apperrors.NewStorageError("failed to create work directory", err)
	}

	path := e.ArtifactPath(host)
	tmp, err := os.CreateTemp(e.workDir, ".artifact-*")
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create artifact", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(found.Payload); err != nil {
		tmp.Close()
		return nil, apperrors.NewStorageError(fmt.Sprintf("failed to write artifact %s", path), err)
	}
	if err := tmp.Close(); err != nil {
		return nil, apperrors.NewStorageError(fmt.Sprintf("failed to write artifact %s", path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, apperrors.NewStorageError(fmt.Sprintf("failed to write artifact %s", path), err)
	}

	sum := sha256.Sum256(found.Payload)
	return &models.Artifact{
		Host:           host.Name,
		BaseURL:        host.BaseURL,
		Path:           path,
		DiscoveredPath: found.Path,
		Size:           int64(len(found.Payload)),
		Checksum:       hex.EncodeToString(sum[:]),
		CreatedAt:      e.now().UTC(),
	}, nil
}
