// Package registry holds the host list and the schedule setting. Every mutation reads the full
// store, changes it in memory and writes it back.
package registry

import (
	"context"
	"sync"
	"time"

	apperrors "panel-backup/internal/errors"
	"panel-backup/internal/logging"
	"panel-backup/internal/models"
)

// CredentialStore loads and saves decrypted host records
type CredentialStore interface {
	Load(ctx context.Context) ([]models.HostRecord, error)
	Save(ctx context.Context, records []models.HostRecord) error
}

// Registry is the host registry. Indexes are positions in the last List result and are only
// valid until the next mutation.
type Registry struct {
	mu     sync.Mutex
	store  CredentialStore
	logger *logging.Logger
	now    func() time.Time
}

// New creates a registry over an initialized credential store
func New(store CredentialStore, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Registry{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// List returns every host in stored order
func (r *Registry) List(ctx context.Context) ([]models.HostRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Load(ctx)
}

// Get returns the host at index
func (r *Registry) Get(ctx context.Context, index int) (models.HostRecord, error) {
	hosts, err := r.List(ctx)
	if err != nil {
		return models.HostRecord{}, err
	}
	if index < 0 || index >= len(hosts) {
		return models.HostRecord{}, apperrors.NewNotFoundError(index, len(hosts))
	}
	return hosts[index], nil
}

// Add appends a host and returns its index. A duplicate name + base URL is logged, not refused.
func (r *Registry) Add(ctx context.Context, record models.HostRecord) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hosts, err := r.store.Load(ctx)
	if err != nil {
		return -1, err
	}

	for _, h := range hosts {
		if h.SameHost(record) {
			r.logger.WithFields(map[string]interface{}{
				"host":     record.Name,
				"base_url": record.BaseURL,
			}).Warn("A host with the same name and URL is already registered")
			break
		}
	}

	if record.AddedAt == nil {
		now := r.now()
		record.AddedAt = &now
	}
	hosts = append(hosts, record)

	if err := r.store.Save(ctx, hosts); err != nil {
		return -1, err
	}
	return len(hosts) - 1, nil
}

// Update replaces the host at index
func (r *Registry) Update(ctx context.Context, index int, record models.HostRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	hosts, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(hosts) {
		return apperrors.NewNotFoundError(index, len(hosts))
	}

	hosts[index] = record
	return r.store.Save(ctx, hosts)
}

// Remove deletes the host at index and returns it
func (r *Registry) Remove(ctx context.Context, index int) (models.HostRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hosts, err := r.store.Load(ctx)
	if err != nil {
		return models.HostRecord{}, err
	}
	if index < 0 || index >= len(hosts) {
		return models.HostRecord{}, apperrors.NewNotFoundError(index, len(hosts))
	}

	removed := hosts[index]
	hosts = append(hosts[:index], hosts[index+1:]...)
	if err := r.store.Save(ctx, hosts); err != nil {
		return models.HostRecord{}, err
	}
	return removed, nil
}

// RememberPath records a confirmed backup path and backup time for the host identified by
// name + base URL. The path is only written when it differs; the record is located by identity,
// not index, so edits made since the caller listed cannot redirect the write.
// Returns whether the stored path changed.
func (r *Registry) RememberPath(ctx context.Context, host models.HostRecord, path string, backedUpAt *time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hosts, err := r.store.Load(ctx)
	if err != nil {
		return false, err
	}

	for i := range hosts {
		if !hosts[i].SameHost(host) {
			continue
		}

		changed := path != "" && hosts[i].DiscoveredPath != path
		if changed {
			hosts[i].DiscoveredPath = path
		}
		if backedUpAt != nil {
			t := *backedUpAt
			hosts[i].LastBackupAt = &t
		}
		if !changed && backedUpAt == nil {
			return false, nil
		}
		if err := r.store.Save(ctx, hosts); err != nil {
			return false, err
		}
		return changed, nil
	}

	r.logger.WithField("host", host.Name).Warn("Host removed before its discovered path could be stored")
	return false, apperrors.NewNotFoundError(-1, len(hosts)).WithContext("host", host.Name)
}
