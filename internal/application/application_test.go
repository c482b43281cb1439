package application

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panel-backup/internal/backup"
	"panel-backup/internal/config"
	appErrors "panel-backup/internal/errors"
	"panel-backup/internal/logging"
	"panel-backup/internal/models"
	"panel-backup/internal/notify"
	"panel-backup/internal/panel"
	"panel-backup/internal/vault"
)

var panelDB = append([]byte(panel.SQLiteHeader), []byte("inbounds")...)

type panelServer struct {
	mu        sync.Mutex
	dbPath    string
	downloads []string
}

func (p *panelServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch r.URL.Path {
	case "/login":
		_ = r.ParseForm()
		if r.PostForm.Get("username") == "admin" && r.PostForm.Get("password") == "p" {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "s", Path: "/"})
			_, _ = w.Write([]byte(`{"success":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":false,"msg":"wrong"}`))
	case "/server/status":
		_, _ = w.Write([]byte(`{"success":true,"obj":{"cpu":12.5,"mem":{"current":50,"total":100},"uptime":3600}}`))
	default:
		p.downloads = append(p.downloads, r.URL.Path)
		if r.URL.Path == p.dbPath {
			_, _ = w.Write(panelDB)
			return
		}
		http.NotFound(w, r)
	}
}

func (p *panelServer) Downloads() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.downloads...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.State.Dir = filepath.Join(dir, "state")
	cfg.Key.Path = filepath.Join(dir, "key")
	cfg.WorkDir = filepath.Join(dir, "work")
	cfg.Profiles.Probe = config.ProfileConfig{Attempts: 1, LoginTimeouts: []time.Duration{2 * time.Second}}
	cfg.Archive.Enabled = true
	cfg.Archive.Storage.Local.BasePath = filepath.Join(dir, "archive")
	cfg.Notify.Enabled = true
	cfg.Notify.File = &notify.FileConfig{Path: filepath.Join(dir, "notify.jsonl")}
	require.NoError(t, os.MkdirAll(cfg.State.Dir, 0700))
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestContext(t *testing.T, cfg *config.Config) *Context {
	t.Helper()
	app, err := New(context.Background(), cfg, Options{Logger: logging.NewNopLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestAddHostThenBackupUsesDiscoveredPath(t *testing.T) {
	mock := &panelServer{dbPath: "/panel/api/server/getDb"}
	srv := httptest.NewServer(mock)
	defer srv.Close()

	cfg := testConfig(t)
	app := newTestContext(t, cfg)
	assert.True(t, app.KeyCreated)

	result, err := app.AddHost(context.Background(), models.HostRecord{Name: "A", BaseURL: srv.URL, Username: "admin", Password: "p"})
	require.NoError(t, err)
	require.NoError(t, result.Err)
	assert.Equal(t, 0, result.Index)
	assert.Equal(t, "/panel/api/server/getDb", result.Host.DiscoveredPath)

	stored, err := app.Registry.Get(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "/panel/api/server/getDb", stored.DiscoveredPath)
	assert.Equal(t, "p", stored.Password)

	before := len(mock.Downloads())
	report, err := app.Fleet.Run(context.Background(), backup.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded())
	assert.Equal(t, []string{"/panel/api/server/getDb"}, mock.Downloads()[before:])

	entries, err := app.Archiver.List(context.Background(), "A")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Encrypted)

	notes, err := os.ReadFile(cfg.Notify.File.Path)
	require.NoError(t, err)
	assert.Contains(t, string(notes), `"event":"backup_success"`)
	assert.Contains(t, string(notes), `"title":"Done."`)
}

func TestAddHostNotStoredWhenProbeFails(t *testing.T) {
	srv := httptest.NewServer(&panelServer{dbPath: "/server/getDb"})
	defer srv.Close()

	app := newTestContext(t, testConfig(t))

	result, err := app.AddHost(context.Background(), models.HostRecord{Name: "B", BaseURL: srv.URL, Username: "admin", Password: "nope"})
	require.NoError(t, err)
	require.Error(t, result.Err)
	assert.True(t, appErrors.IsType(result.Err, appErrors.ErrorTypeAuthentication))
	assert.False(t, result.Saved)
	assert.Equal(t, -1, result.Index)

	hosts, err := app.Registry.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, hosts)
}

func TestEditHostRefusedWhenProbeFails(t *testing.T) {
	srv := httptest.NewServer(&panelServer{dbPath: "/server/getDb"})
	defer srv.Close()

	app := newTestContext(t, testConfig(t))
	added, err := app.AddHost(context.Background(), models.HostRecord{Name: "C", BaseURL: srv.URL, Username: "admin", Password: "p"})
	require.NoError(t, err)
	require.True(t, added.Saved)

	edited, err := app.EditHost(context.Background(), added.Index, models.HostRecord{Name: "C2", BaseURL: srv.URL, Username: "admin", Password: "wrong"}, false)
	require.NoError(t, err)
	require.Error(t, edited.Err)
	assert.False(t, edited.Saved)

	stored, err := app.Registry.Get(context.Background(), added.Index)
	require.NoError(t, err)
	assert.Equal(t, "C", stored.Name)
	assert.Equal(t, "p", stored.Password)
	assert.Equal(t, "/server/getDb", stored.DiscoveredPath)
}

func TestEditHostForceKeepsPath(t *testing.T) {
	srv := httptest.NewServer(&panelServer{dbPath: "/server/getDb"})
	defer srv.Close()

	app := newTestContext(t, testConfig(t))
	added, err := app.AddHost(context.Background(), models.HostRecord{Name: "C", BaseURL: srv.URL, Username: "admin", Password: "p"})
	require.NoError(t, err)
	original, err := app.Registry.Get(context.Background(), added.Index)
	require.NoError(t, err)

	edited, err := app.EditHost(context.Background(), added.Index, models.HostRecord{Name: "C2", BaseURL: srv.URL, Username: "admin", Password: "wrong"}, true)
	require.NoError(t, err)
	require.Error(t, edited.Err)
	assert.True(t, edited.Saved)

	stored, err := app.Registry.Get(context.Background(), added.Index)
	require.NoError(t, err)
	assert.Equal(t, "C2", stored.Name)
	assert.Equal(t, "/server/getDb", stored.DiscoveredPath)
	assert.Equal(t, original.AddedAt, stored.AddedAt)
}

func TestEditHostKeepsUnreadableCiphertext(t *testing.T) {
	srv := httptest.NewServer(&panelServer{dbPath: "/server/getDb"})
	defer srv.Close()

	ctx := context.Background()
	app := newTestContext(t, testConfig(t))
	added, err := app.AddHost(ctx, models.HostRecord{Name: "D", BaseURL: srv.URL, Username: "admin", Password: "p"})
	require.NoError(t, err)
	require.True(t, added.Saved)

	stale, err := vault.NewCipher(bytes.Repeat([]byte{9}, vault.KeySize))
	require.NoError(t, err)
	app.Vault.UseCipher(stale)

	current, err := app.Registry.Get(ctx, added.Index)
	require.NoError(t, err)
	require.True(t, current.CredentialUnreadable)

	// rename only; the password field still holds the raw ciphertext
	record, err := models.NewHostRecord("D2", current.BaseURL, current.Username, current.Password)
	require.NoError(t, err)
	edited, err := app.EditHost(ctx, added.Index, record, true)
	require.NoError(t, err)
	assert.True(t, edited.Saved)

	app.Vault.UseCipher(app.Cipher)
	restored, err := app.Registry.Get(ctx, added.Index)
	require.NoError(t, err)
	assert.Equal(t, "D2", restored.Name)
	assert.Equal(t, "p", restored.Password)
	assert.False(t, restored.CredentialUnreadable)
}

func TestRotateKeyKeepsCredentialsReadable(t *testing.T) {
	srv := httptest.NewServer(&panelServer{dbPath: "/server/getDb"})
	defer srv.Close()

	cfg := testConfig(t)
	app := newTestContext(t, cfg)
	_, err := app.AddHost(context.Background(), models.HostRecord{Name: "A", BaseURL: srv.URL, Username: "admin", Password: "p"})
	require.NoError(t, err)

	oldKey, err := os.ReadFile(cfg.Key.Path)
	require.NoError(t, err)

	rekeyed, skipped, err := app.RotateKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rekeyed)
	assert.Empty(t, skipped)

	newKey, err := os.ReadFile(cfg.Key.Path)
	require.NoError(t, err)
	assert.NotEqual(t, oldKey, newKey)

	hosts, err := app.Registry.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p", hosts[0].Password)

	require.NoError(t, app.Close())
	reopened := newTestContext(t, cfg)
	assert.False(t, reopened.KeyCreated)
	hosts, err = reopened.Registry.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p", hosts[0].Password)
	assert.False(t, hosts[0].CredentialUnreadable)
}

func TestStatusForwardsReports(t *testing.T) {
	srv := httptest.NewServer(&panelServer{dbPath: "/server/getDb"})
	defer srv.Close()

	cfg := testConfig(t)
	app := newTestContext(t, cfg)
	_, err := app.AddHost(context.Background(), models.HostRecord{Name: "A", BaseURL: srv.URL, Username: "admin", Password: "p"})
	require.NoError(t, err)

	reports, err := app.Status(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Online)
	require.NotNil(t, reports[0].Metrics)
	assert.Equal(t, time.Hour, reports[0].Metrics.Uptime)

	notes, err := os.ReadFile(cfg.Notify.File.Path)
	require.NoError(t, err)
	assert.Contains(t, string(notes), `"event":"status_report"`)
}

func TestRunDaemonReloadsSchedule(t *testing.T) {
	app := newTestContext(t, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	reload := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- app.RunDaemon(ctx, reload) }()

	require.Eventually(t, func() bool { return app.Scheduler.Interval() == 24*time.Hour }, time.Second, 10*time.Millisecond)

	setting, err := models.NewScheduleSetting(3600, "")
	require.NoError(t, err)
	require.NoError(t, app.Schedules.Save(context.Background(), setting))
	reload <- struct{}{}

	assert.Eventually(t, func() bool { return app.Scheduler.Interval() == time.Hour }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestRequireArchiveWhenDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Enabled = false
	app := newTestContext(t, cfg)

	_, err := app.RequireArchive()
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeValidation))
}

func TestReportErrorHints(t *testing.T) {
	var buf bytes.Buffer
	ReportError(&buf, appErrors.NewEndpointNotFoundError("A", []string{"/server/getDb"}))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Error: "))
	assert.Contains(t, out, "host rescan")

	buf.Reset()
	ReportError(&buf, os.ErrPermission)
	assert.NotContains(t, buf.String(), "Troubleshooting")
}
