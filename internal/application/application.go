// Package application builds the explicit application context shared by every command.
package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"panel-backup/internal/archive"
	"panel-backup/internal/backup"
	"panel-backup/internal/config"
	appErrors "panel-backup/internal/errors"
	"panel-backup/internal/logging"
	"panel-backup/internal/models"
	"panel-backup/internal/monitor"
	"panel-backup/internal/notify"
	"panel-backup/internal/panel"
	"panel-backup/internal/registry"
	"panel-backup/internal/scheduler"
	"panel-backup/internal/state"
	"panel-backup/internal/vault"
)

// Options supplies collaborators that tests replace
type Options struct {
	Logger    *logging.Logger
	Transport http.RoundTripper
	Sender    notify.Sender
	Clock     scheduler.Clock
}

// Context owns every long-lived component. It is built once per process in a fixed order:
// config, logger, key, state backend, credential store, registry, schedule store, panel clients,
// executor, poller, archive, notifier, fleet runner, scheduler.
type Context struct {
	Config *config.Config
	Logger *logging.Logger

	Keys       *vault.KeyManager
	Cipher     *vault.Cipher
	KeyCreated bool

	Backend   state.Backend
	Vault     *vault.Store
	Registry  *registry.Registry
	Schedules *registry.ScheduleStore

	Auth       *panel.Authenticator
	Discoverer *panel.Discoverer
	Executor   *backup.Executor
	Poller     *monitor.Poller
	Archiver   *archive.Archiver
	Notifier   *notify.Dispatcher
	Fleet      *backup.FleetRunner
	Scheduler  *scheduler.Scheduler
}

// New builds the context. On error every component opened so far is closed.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Context, error) {
	if cfg == nil {
		return nil, appErrors.NewValidationError("configuration is required")
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.NewLogger(cfg.LoggerConfig(false, false))
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	app := &Context{Config: cfg, Logger: logger}

	app.Keys = vault.NewKeyManager(cfg.Key)
	key, created, err := app.Keys.LoadOrGenerate()
	if err != nil {
		return nil, err
	}
	app.KeyCreated = created
	if created {
		logger.WithField("path", cfg.Key.Path).Info("Generated a new credential key")
	}
	if app.Cipher, err = vault.NewCipher(key); err != nil {
		return nil, err
	}

	if app.Backend, err = state.NewBackend(ctx, cfg.State, logger); err != nil {
		return nil, err
	}

	app.Vault = vault.NewStore(app.Backend, app.Cipher, logger)
	app.Registry = registry.New(app.Vault, logger)
	app.Schedules = registry.NewScheduleStore(app.Backend, logger)

	transport := opts.Transport
	if transport == nil {
		transport = panel.NewTransport()
	}
	app.Auth = panel.NewAuthenticator(transport, logger)

	var validator panel.Validator
	if cfg.Validation.DeepCheck {
		validator = panel.NewDeepValidator(cfg.Validation.TempDir)
	}
	app.Discoverer = panel.NewDiscoverer(panel.DiscovererConfig{
		Candidates: cfg.Discovery.Candidates,
		MaxPayload: cfg.Discovery.MaxPayloadBytes,
		Validator:  validator,
	}, logger)

	profiles := cfg.PanelProfiles()
	app.Executor, err = backup.NewExecutor(backup.ExecutorConfig{
		Sessions:  app.Auth,
		Endpoints: app.Discoverer,
		Paths:     app.Registry,
		WorkDir:   cfg.WorkDir,
		Profiles:  profiles,
		Logger:    logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Poller = monitor.NewPoller(app.Auth, profiles.Monitor, cfg.Monitor.Workers, logger)

	if cfg.Archive.Enabled {
		provider, err := archive.NewProvider(ctx, cfg.Archive.Storage)
		if err != nil {
			app.Close()
			return nil, err
		}
		var encrypter archive.Encrypter
		if cfg.Archive.Encrypt {
			encrypter = app.Cipher
		}
		if app.Archiver, err = archive.New(provider, encrypter, cfg.Archive, logger); err != nil {
			app.Close()
			return nil, err
		}
	}

	app.Notifier = notify.NewDispatcher(cfg.Notify, opts.Sender, logger)

	fleet := backup.FleetConfig{
		Hosts:    app.Registry,
		Executor: app.Executor,
		Reporter: app.Notifier,
		Logger:   logger,
	}
	if app.Archiver != nil {
		fleet.Sink = app.Archiver
	}
	app.Fleet = backup.NewFleetRunner(fleet)

	clock := opts.Clock
	if clock == nil {
		clock = scheduler.RealClock()
	}
	app.Scheduler = scheduler.New(app.Schedules, app.scheduledRun, clock, logger)

	logger.WithField("config", cfg.String()).Debug("Application context ready")
	return app, nil
}

func (app *Context) scheduledRun(ctx context.Context) {
	report, err := app.Fleet.Run(ctx, backup.RunOptions{
		Trigger: backup.TriggerScheduled,
		KeepDir: app.Config.Schedule.KeepDir,
	})
	if err != nil {
		app.Logger.WithField("error", err.Error()).Error("Scheduled backup could not start")
		return
	}
	app.Logger.WithFields(map[string]interface{}{
		"run_id":    report.RunID,
		"succeeded": report.Succeeded(),
		"failed":    report.Failed(),
	}).Info("Scheduled backup finished")
}

// ProbeResult reports the live connection test of a host being added or edited
type ProbeResult struct {
	Index int
	Host  models.HostRecord
	// Err is set when the probe failed
	Err error
	// Saved reports whether the registry was changed
	Saved bool
}

// AddHost tests the connection and stores the host with its discovered path. A host whose
// probe fails is not stored; the failure is returned in the result.
func (app *Context) AddHost(ctx context.Context, host models.HostRecord) (*ProbeResult, error) {
	result := app.probe(ctx, host)
	result.Index = -1
	if result.Err != nil {
		return result, nil
	}

	index, err := app.Registry.Add(ctx, result.Host)
	if err != nil {
		return nil, err
	}
	result.Index = index
	result.Saved = true
	return result, nil
}

// EditHost re-runs the probe for the changed record before replacing the host at index.
// When the probe fails the stored host is left alone unless force is set, in which case the
// path remembered for the old record is kept.
func (app *Context) EditHost(ctx context.Context, index int, host models.HostRecord, force bool) (*ProbeResult, error) {
	current, err := app.Registry.Get(ctx, index)
	if err != nil {
		return nil, err
	}
	host.AddedAt = current.AddedAt
	host.LastBackupAt = current.LastBackupAt
	// an unchanged password that could not be decrypted is still the stored ciphertext
	if current.CredentialUnreadable && host.Password == current.Password {
		host.CredentialUnreadable = true
	}

	result := app.probe(ctx, host)
	result.Index = index
	if result.Err != nil {
		if !force {
			return result, nil
		}
		result.Host.DiscoveredPath = current.DiscoveredPath
	}
	if err := app.Registry.Update(ctx, index, result.Host); err != nil {
		return nil, err
	}
	result.Saved = true
	return result, nil
}

func (app *Context) probe(ctx context.Context, host models.HostRecord) *ProbeResult {
	host.DiscoveredPath = ""
	found, err := app.Executor.Probe(ctx, host)
	if err != nil {
		app.Logger.WithFields(map[string]interface{}{
			"host":  host.Name,
			"error": err.Error(),
		}).Warn("Connection test failed")
		return &ProbeResult{Host: host, Err: err}
	}
	host.DiscoveredPath = found.Path
	return &ProbeResult{Host: host}
}

// RescanHost rediscovers the database path of the host at index
func (app *Context) RescanHost(ctx context.Context, index int) (*panel.Discovery, error) {
	host, err := app.Registry.Get(ctx, index)
	if err != nil {
		return nil, err
	}
	return app.Executor.Rescan(ctx, host)
}

// Status polls every registered host. Reports are forwarded to the notifier when requested
// or configured.
func (app *Context) Status(ctx context.Context, notifyReports bool) ([]monitor.StatusReport, error) {
	hosts, err := app.Registry.List(ctx)
	if err != nil {
		return nil, err
	}
	reports := app.Poller.PollAll(ctx, hosts)
	if notifyReports || app.Config.Monitor.NotifyStatus {
		app.Notifier.StatusReported(ctx, reports)
	}
	return reports, nil
}

// RequireArchive returns the archiver or a validation error when archiving is disabled
func (app *Context) RequireArchive() (*archive.Archiver, error) {
	if app.Archiver == nil {
		return nil, appErrors.NewValidationError("archive is disabled; set archive.enabled in the configuration")
	}
	return app.Archiver, nil
}

// RotateKey re-encrypts every stored credential under a fresh key and then replaces the key
// file. If the key cannot be written the store is re-encrypted back under the old key.
func (app *Context) RotateKey(ctx context.Context) (rekeyed int, skipped []string, err error) {
	if app.Config.Key.Source != vault.KeySourceFile {
		return 0, nil, appErrors.NewValidationError(
			fmt.Sprintf("key source %q is managed externally; rotate it there and run key rotate with the file source", app.Config.Key.Source))
	}

	key, err := app.Keys.GenerateKey()
	if err != nil {
		return 0, nil, err
	}
	next, err := vault.NewCipher(key)
	if err != nil {
		return 0, nil, err
	}

	rekeyed, skipped, err = app.Vault.Rekey(ctx, next)
	if err != nil {
		return 0, skipped, err
	}

	if err := app.Keys.Replace(key); err != nil {
		nextStore := vault.NewStore(app.Backend, next, app.Logger)
		if _, _, rollbackErr := nextStore.Rekey(ctx, app.Cipher); rollbackErr != nil {
			app.Logger.WithField("error", rollbackErr.Error()).Error("Failed to restore credentials under the previous key")
		}
		return 0, skipped, err
	}

	app.Cipher = next
	app.Vault.UseCipher(next)

	if app.Archiver != nil && app.Config.Archive.Encrypt {
		app.Logger.Warn("Archived objects stay encrypted under the previous key; keep a copy of it to restore them")
	}
	return rekeyed, skipped, nil
}

// Close releases the state backend
func (app *Context) Close() error {
	if app.Scheduler != nil {
		app.Scheduler.Stop()
	}
	if app.Backend != nil {
		return app.Backend.Close()
	}
	return nil
}

// Signals carries the daemon's process signals
type Signals struct {
	Reload <-chan struct{}
	stop   func()
}

// Stop releases the signal subscriptions
func (s *Signals) Stop() {
	s.stop()
}

// WatchSignals returns a context cancelled on SIGINT or SIGTERM and a reload channel fed by SIGHUP
func WatchSignals(parent context.Context, logger *logging.Logger) (context.Context, *Signals) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	reload := make(chan struct{}, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigChan:
				if sig == syscall.SIGHUP {
					select {
					case reload <- struct{}{}:
					default:
					}
					continue
				}
				logger.WithField("signal", sig.String()).Info("Received shutdown signal")
				cancel()
				return
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return ctx, &Signals{
		Reload: reload,
		stop: func() {
			signal.Stop(sigChan)
			close(done)
			cancel()
		},
	}
}

// RunDaemon starts the scheduler and blocks until ctx is cancelled. Each reload re-reads the
// persisted schedule so a change made from another shell takes effect.
func (app *Context) RunDaemon(ctx context.Context, reload <-chan struct{}) error {
	setting := app.Scheduler.Start(ctx)
	app.Logger.WithFields(map[string]interface{}{
		"interval": setting.Label,
		"next_run": app.Scheduler.NextRun().Format(time.RFC3339),
	}).Info("Daemon started")

	for {
		select {
		case <-ctx.Done():
			app.Logger.Info("Daemon stopping, waiting for the current run")
			app.Scheduler.Stop()
			return nil
		case <-reload:
			setting, changed := app.Scheduler.Reload(ctx)
			fields := map[string]interface{}{"interval": setting.Label, "changed": changed}
			if changed {
				fields["next_run"] = app.Scheduler.NextRun().Format(time.RFC3339)
			}
			app.Logger.WithFields(fields).Info("Schedule reloaded")
		}
	}
}

// ReportError prints a user-facing message and troubleshooting hints for err
func ReportError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %s\n", appErrors.FormatUserError(err))

	var appErr *appErrors.AppError
	if !errors.As(err, &appErr) {
		return
	}

	var hints []string
	switch appErr.Type {
	case appErrors.ErrorTypeAuthentication:
		hints = []string{
			"Check the username and password stored for this host",
			"Verify the panel URL including its port and web base path",
		}
	case appErrors.ErrorTypeEndpointNotFound:
		hints = []string{
			"Run host rescan after a panel upgrade",
			"Add the panel's database export path to discovery.candidates",
		}
	case appErrors.ErrorTypeTransport, appErrors.ErrorTypeTimeout:
		hints = []string{
			"Ensure the panel is reachable from this machine",
			"Raise the request timeout in the matching profile",
		}
	case appErrors.ErrorTypeNotFound:
		hints = []string{"Run host list to see the current indexes"}
	case appErrors.ErrorTypeCrypto:
		hints = []string{"Make sure the same key is configured that encrypted the data"}
	case appErrors.ErrorTypeStorage:
		hints = []string{"Check permissions and free space of the state and archive locations"}
	}
	if len(hints) == 0 {
		return
	}

	fmt.Fprintf(w, "\nTroubleshooting hints:\n")
	for _, hint := range hints {
		fmt.Fprintf(w, "- %s\n", hint)
	}
}
