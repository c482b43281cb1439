package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	apperrors "panel-backup/internal/errors"
	"panel-backup/internal/logging"
	"panel-backup/internal/models"
)

// Statements are shared by both dialects: sqlite and mysql accept the same DDL and `?` placeholders here.
const (
	createHostsTable = `CREATE TABLE IF NOT EXISTS hosts (
	position INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	base_url TEXT NOT NULL,
	username TEXT NOT NULL,
	password TEXT NOT NULL,
	db_path TEXT NULL,
	added_at VARCHAR(64) NULL,
	last_backup_at VARCHAR(64) NULL
)`
	createScheduleTable = `CREATE TABLE IF NOT EXISTS schedule (
	id INTEGER PRIMARY KEY,
	interval_seconds BIGINT NOT NULL,
	label TEXT NOT NULL
)`
	selectHosts    = `SELECT name, base_url, username, password, db_path, added_at, last_backup_at FROM hosts ORDER BY position`
	deleteHosts    = `DELETE FROM hosts`
	insertHost     = `INSERT INTO hosts (position, name, base_url, username, password, db_path, added_at, last_backup_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	selectSchedule = `SELECT interval_seconds, label FROM schedule WHERE id = 1`
	deleteSchedule = `DELETE FROM schedule WHERE id = 1`
	insertSchedule = `INSERT INTO schedule (id, interval_seconds, label) VALUES (1, ?, ?)`
)

// SQLBackend stores state in two tables. Writes replace the whole host list inside one transaction.
type SQLBackend struct {
	db      *sql.DB
	dialect string
	logger  *logging.Logger
}

// OpenSQLite opens (and creates) a SQLite state database using the pure-Go driver
func OpenSQLite(ctx context.Context, dsn string, logger *logging.Logger) (*SQLBackend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to open sqlite state database", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)
	return newSQLBackend(ctx, db, DriverSQLite, logger)
}

// OpenMySQL opens a MySQL state database
func OpenMySQL(ctx context.Context, dsn string, logger *logging.Logger) (*SQLBackend, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid mysql dsn: %v", err))
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create mysql connector", err)
	}
	db := sql.OpenDB(connector)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxOpenConns(4)
	return newSQLBackend(ctx, db, DriverMySQL, logger)
}

// NewSQLBackendFromDB wraps an existing handle without running migrations
func NewSQLBackendFromDB(db *sql.DB, dialect string, logger *logging.Logger) *SQLBackend {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &SQLBackend{db: db, dialect: dialect, logger: logger}
}

func newSQLBackend(ctx context.Context, db *sql.DB, dialect string, logger *logging.Logger) (*SQLBackend, error) {
	b := NewSQLBackendFromDB(db, dialect, logger)
	if err := b.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// Migrate creates the tables when missing
func (b *SQLBackend) Migrate(ctx context.Context) error {
	for _, stmt := range []string{createHostsTable, createScheduleTable} {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return apperrors.WrapError(err, fmt.Sprintf("failed to migrate %s state database", b.dialect))
		}
	}
	return nil
}

// ReadHosts reads the host list in position order
func (b *SQLBackend) ReadHosts(ctx context.Context) ([]models.HostRecord, error) {
	rows, err := b.db.QueryContext(ctx, selectHosts)
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to query hosts")
	}
	defer rows.Close()

	hosts := []models.HostRecord{}
	for rows.Next() {
		var (
			h                     models.HostRecord
			dbPath                sql.NullString
			addedAt, lastBackupAt sql.NullString
		)
		if err := rows.Scan(&h.Name, &h.BaseURL, &h.Username, &h.Password, &dbPath, &addedAt, &lastBackupAt); err != nil {
			return nil, apperrors.WrapError(err, "failed to scan host row")
		}
		h.DiscoveredPath = dbPath.String
		h.AddedAt = parseTimestamp(addedAt)
		h.LastBackupAt = parseTimestamp(lastBackupAt)
		hosts = append(hosts, h)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.WrapError(err, "failed to read host rows")
	}
	return hosts, nil
}

// WriteHosts replaces every host row
func (b *SQLBackend) WriteHosts(ctx context.Context, hosts []models.HostRecord) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.WrapError(err, "failed to begin host write")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteHosts); err != nil {
		return apperrors.WrapError(err, "failed to clear hosts")
	}
	for i, h := range hosts {
		if _, err := tx.ExecContext(ctx, insertHost,
			i, h.Name, h.BaseURL, h.Username, h.Password,
			nullString(h.DiscoveredPath), formatTimestamp(h.AddedAt), formatTimestamp(h.LastBackupAt)); err != nil {
			return apperrors.WrapError(err, fmt.Sprintf("failed to insert host %q", h.Name))
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.WrapError(err, "failed to commit host write")
	}
	return nil
}

// ReadSchedule reads the single schedule row
func (b *SQLBackend) ReadSchedule(ctx context.Context) (models.ScheduleSetting, bool, error) {
	var setting models.ScheduleSetting
	err := b.db.QueryRowContext(ctx, selectSchedule).Scan(&setting.IntervalSeconds, &setting.Label)
	if err == sql.ErrNoRows {
		return models.ScheduleSetting{}, false, nil
	}
	if err != nil {
		return models.ScheduleSetting{}, false, apperrors.WrapError(err, "failed to read schedule")
	}
	if !setting.Valid() {
		b.logger.WithField("interval_seconds", setting.IntervalSeconds).Warn("Stored schedule invalid; using default")
		return models.ScheduleSetting{}, false, nil
	}
	return setting, true, nil
}

// WriteSchedule replaces the schedule row
func (b *SQLBackend) WriteSchedule(ctx context.Context, setting models.ScheduleSetting) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.WrapError(err, "failed to begin schedule write")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteSchedule); err != nil {
		return apperrors.WrapError(err, "failed to clear schedule")
	}
	if _, err := tx.ExecContext(ctx, insertSchedule, setting.IntervalSeconds, setting.Label); err != nil {
		return apperrors.WrapError(err, "failed to insert schedule")
	}
	if err := tx.Commit(); err != nil {
		return apperrors.WrapError(err, "failed to commit schedule write")
	}
	return nil
}

// Close closes the database handle
func (b *SQLBackend) Close() error {
	return b.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTimestamp(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTimestamp(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
