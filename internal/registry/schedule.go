package registry

import (
	"context"
	"sync"

	"panel-backup/internal/logging"
	"panel-backup/internal/models"
)

// SchedulePersister reads and writes the raw schedule setting
type SchedulePersister interface {
	ReadSchedule(ctx context.Context) (models.ScheduleSetting, bool, error)
	WriteSchedule(ctx context.Context, setting models.ScheduleSetting) error
}

// ScheduleStore owns the persisted ScheduleSetting
type ScheduleStore struct {
	mu        sync.Mutex
	persister SchedulePersister
	logger    *logging.Logger
}

// NewScheduleStore creates a schedule store
func NewScheduleStore(persister SchedulePersister, logger *logging.Logger) *ScheduleStore {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ScheduleStore{persister: persister, logger: logger}
}

// Load returns the persisted setting, or the 24h default when nothing usable is stored.
// A read error also yields the default so a broken state store never blocks startup.
func (s *ScheduleStore) Load(ctx context.Context) models.ScheduleSetting {
	s.mu.Lock()
	defer s.mu.Unlock()

	setting, found, err := s.persister.ReadSchedule(ctx)
	if err != nil {
		s.logger.WithField("error", err.Error()).Warn("Failed to read schedule; using default")
		return models.DefaultSchedule()
	}
	if !found {
		return models.DefaultSchedule()
	}
	if setting.Label == "" {
		setting.Label = models.IntervalLabel(setting.IntervalSeconds)
	}
	return setting
}

// Save persists setting immediately
func (s *ScheduleStore) Save(ctx context.Context, setting models.ScheduleSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persister.WriteSchedule(ctx, setting)
}
