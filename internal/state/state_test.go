package state

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panel-backup/internal/models"
)

func sampleHosts() []models.HostRecord {
	added := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []models.HostRecord{
		{Name: "A", BaseURL: "http://10.0.0.1:2053", Username: "admin", Password: "enc:v1:AAAA", DiscoveredPath: "/panel/api/server/getDb", AddedAt: &added},
		{Name: "B", BaseURL: "https://10.0.0.2:8443", Username: "root", Password: "enc:v1:BBBB"},
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend, err := NewFileBackend(t.TempDir(), nil)
	require.NoError(t, err)

	hosts, err := backend.ReadHosts(ctx)
	require.NoError(t, err)
	assert.Empty(t, hosts, "missing file reads as empty")

	require.NoError(t, backend.WriteHosts(ctx, sampleHosts()))
	hosts, err = backend.ReadHosts(ctx)
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, "/panel/api/server/getDb", hosts[0].DiscoveredPath)
	assert.True(t, sampleHosts()[0].AddedAt.Equal(*hosts[0].AddedAt))
	assert.Equal(t, "enc:v1:BBBB", hosts[1].Password)

	info, err := os.Stat(backend.HostsPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileBackendWritesAreByteStable(t *testing.T) {
	ctx := context.Background()
	backend, err := NewFileBackend(t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, backend.WriteHosts(ctx, sampleHosts()))
	first, err := os.ReadFile(backend.HostsPath())
	require.NoError(t, err)

	require.NoError(t, backend.WriteHosts(ctx, sampleHosts()))
	second, err := os.ReadFile(backend.HostsPath())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestFileBackendCorruptHostsFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(backend.HostsPath(), []byte("{not json"), 0600))

	hosts, err := backend.ReadHosts(ctx)
	require.NoError(t, err, "corrupt state is not a startup failure")
	assert.Empty(t, hosts)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var quarantined bool
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "hosts.json.corrupt-") {
			quarantined = true
		}
	}
	assert.True(t, quarantined, "corrupt file is kept aside for the operator")
}

func TestFileBackendSchedule(t *testing.T) {
	ctx := context.Background()
	backend, err := NewFileBackend(t.TempDir(), nil)
	require.NoError(t, err)

	_, found, err := backend.ReadSchedule(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	setting := models.ScheduleSetting{IntervalSeconds: 3600, Label: "Every hour"}
	require.NoError(t, backend.WriteSchedule(ctx, setting))
	got, found, err := backend.ReadSchedule(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, setting, got)

	require.NoError(t, os.WriteFile(backend.SchedulePath(), []byte(`{"interval_seconds": -5, "label": "x"}`), 0600))
	_, found, err = backend.ReadSchedule(ctx)
	require.NoError(t, err)
	assert.False(t, found, "non-positive interval falls back to default")
}

func TestSQLiteBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "state.db"), nil)
	require.NoError(t, err)
	defer backend.Close()

	require.NoError(t, backend.WriteHosts(ctx, sampleHosts()))
	hosts, err := backend.ReadHosts(ctx)
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, "A", hosts[0].Name)
	assert.Equal(t, "/panel/api/server/getDb", hosts[0].DiscoveredPath)
	require.NotNil(t, hosts[0].AddedAt)
	assert.True(t, sampleHosts()[0].AddedAt.Equal(*hosts[0].AddedAt))
	assert.Nil(t, hosts[1].AddedAt)
	assert.Empty(t, hosts[1].DiscoveredPath)

	require.NoError(t, backend.WriteHosts(ctx, sampleHosts()[1:]))
	hosts, err = backend.ReadHosts(ctx)
	require.NoError(t, err)
	require.Len(t, hosts, 1, "writes replace the full list")
	assert.Equal(t, "B", hosts[0].Name)

	_, found, err := backend.ReadSchedule(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, backend.WriteSchedule(ctx, models.ScheduleSetting{IntervalSeconds: 60, Label: "Every minute"}))
	require.NoError(t, backend.WriteSchedule(ctx, models.ScheduleSetting{IntervalSeconds: 300, Label: "Every 5 minutes"}))
	setting, found, err := backend.ReadSchedule(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.EqualValues(t, 300, setting.IntervalSeconds)
}

func TestNewBackendFactory(t *testing.T) {
	ctx := context.Background()

	backend, err := NewBackend(ctx, Config{Driver: DriverJSON, Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, backend)

	backend, err = NewBackend(ctx, Config{Driver: DriverSQLite, Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLBackend{}, backend)
	require.NoError(t, backend.Close())

	_, err = NewBackend(ctx, Config{Driver: "postgres", Dir: t.TempDir()}, nil)
	assert.Error(t, err)

	_, err = NewBackend(ctx, Config{Driver: DriverMySQL}, nil)
	assert.Error(t, err)

	_, err = OpenMySQL(ctx, "::not a dsn::", nil)
	assert.Error(t, err)
}

func TestMySQLBackendWriteHosts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	backend := NewSQLBackendFromDB(db, DriverMySQL, nil)
	hosts := sampleHosts()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(deleteHosts)).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(insertHost)).
		WithArgs(0, "A", "http://10.0.0.1:2053", "admin", "enc:v1:AAAA", "/panel/api/server/getDb", sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertHost)).
		WithArgs(1, "B", "https://10.0.0.2:8443", "root", "enc:v1:BBBB", nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, backend.WriteHosts(context.Background(), hosts))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLBackendWriteHostsRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	backend := NewSQLBackendFromDB(db, DriverMySQL, nil)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(deleteHosts)).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err = backend.WriteHosts(context.Background(), sampleHosts())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLBackendReadHosts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"name", "base_url", "username", "password", "db_path", "added_at", "last_backup_at"}).
		AddRow("A", "http://10.0.0.1:2053", "admin", "enc:v1:AAAA", "/server/getDb", "2026-03-01T12:00:00Z", nil).
		AddRow("B", "http://10.0.0.2:2053", "root", "plain", nil, nil, "bad timestamp")
	mock.ExpectQuery(regexp.QuoteMeta(selectHosts)).WillReturnRows(rows)

	hosts, err := NewSQLBackendFromDB(db, DriverMySQL, nil).ReadHosts(context.Background())
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, "/server/getDb", hosts[0].DiscoveredPath)
	require.NotNil(t, hosts[0].AddedAt)
	assert.Nil(t, hosts[1].LastBackupAt, "unparseable timestamps are dropped")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLBackendReadScheduleMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(selectSchedule)).
		WillReturnRows(sqlmock.NewRows([]string{"interval_seconds", "label"}))

	_, found, err := NewSQLBackendFromDB(db, DriverMySQL, nil).ReadSchedule(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}
