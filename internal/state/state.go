// Package state persists the host list and the schedule setting. Backends store records exactly
// as given; encryption of credential fields happens one layer up in the vault package.
package state

import (
	"context"
	"fmt"
	"path/filepath"

	apperrors "panel-backup/internal/errors"
	"panel-backup/internal/logging"
	"panel-backup/internal/models"
)

// Backend drivers
const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Backend is the full persisted state of one instance
type Backend interface {
	ReadHosts(ctx context.Context) ([]models.HostRecord, error)
	WriteHosts(ctx context.Context, hosts []models.HostRecord) error
	// ReadSchedule returns found=false when no schedule has been persisted yet or the stored
	// one is unusable.
	ReadSchedule(ctx context.Context) (setting models.ScheduleSetting, found bool, err error)
	WriteSchedule(ctx context.Context, setting models.ScheduleSetting) error
	Close() error
}

// Config selects and configures a backend
type Config struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Dir    string `mapstructure:"dir" yaml:"dir"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// Validate validates the state configuration
func (c Config) Validate() error {
	switch c.Driver {
	case DriverJSON, "":
		if c.Dir == "" {
			return apperrors.NewValidationError("state.dir is required for the json driver")
		}
	case DriverSQLite:
		if c.DSN == "" && c.Dir == "" {
			return apperrors.NewValidationError("state.dsn or state.dir is required for the sqlite driver")
		}
	case DriverMySQL:
		if c.DSN == "" {
			return apperrors.NewValidationError("state.dsn is required for the mysql driver")
		}
	default:
		return apperrors.NewValidationError(fmt.Sprintf("unsupported state driver: %s", c.Driver))
	}
	return nil
}

// NewBackend creates the configured backend
func NewBackend(ctx context.Context, config Config, logger *logging.Logger) (Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	switch config.Driver {
	case DriverSQLite:
		dsn := config.DSN
		if dsn == "" {
			dsn = filepath.Join(config.Dir, "state.db")
		}
		return OpenSQLite(ctx, dsn, logger)
	case DriverMySQL:
		return OpenMySQL(ctx, config.DSN, logger)
	default:
		return NewFileBackend(config.Dir, logger)
	}
}
