// Package config loads and validates panel-backup configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"panel-backup/internal/archive"
	"panel-backup/internal/display"
	"panel-backup/internal/logging"
	"panel-backup/internal/notify"
	"panel-backup/internal/panel"
	"panel-backup/internal/state"
	"panel-backup/internal/vault"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "PANEL_BACKUP"

// Config is the complete configuration
type Config struct {
	State      state.Config          `mapstructure:"state" yaml:"state"`
	Key        vault.KeyConfig       `mapstructure:"key" yaml:"key"`
	WorkDir    string                `mapstructure:"work_dir" yaml:"work_dir"`
	Profiles   ProfilesConfig        `mapstructure:"profiles" yaml:"profiles"`
	Discovery  DiscoveryConfig       `mapstructure:"discovery" yaml:"discovery"`
	Validation ValidationConfig      `mapstructure:"validation" yaml:"validation"`
	Monitor    MonitorConfig         `mapstructure:"monitor" yaml:"monitor"`
	Schedule   ScheduleConfig        `mapstructure:"schedule" yaml:"schedule"`
	Archive    archive.Config        `mapstructure:"archive" yaml:"archive"`
	Notify     notify.Config         `mapstructure:"notify" yaml:"notify"`
	Logging    LoggingConfig         `mapstructure:"logging" yaml:"logging"`
	Display    display.DisplayConfig `mapstructure:"display" yaml:"display"`
}

// ProfileConfig overrides one built-in timeout profile. Zero values keep the built-in value.
type ProfileConfig struct {
	Attempts       int             `mapstructure:"attempts" yaml:"attempts,omitempty"`
	LoginTimeouts  []time.Duration `mapstructure:"login_timeouts" yaml:"login_timeouts,omitempty"`
	Delays         []time.Duration `mapstructure:"delays" yaml:"delays,omitempty"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout" yaml:"request_timeout,omitempty"`
}

// ProfilesConfig groups the three profile overrides
type ProfilesConfig struct {
	Probe   ProfileConfig `mapstructure:"probe" yaml:"probe"`
	Monitor ProfileConfig `mapstructure:"monitor" yaml:"monitor"`
	Backup  ProfileConfig `mapstructure:"backup" yaml:"backup"`
}

// DiscoveryConfig tunes endpoint discovery
type DiscoveryConfig struct {
	Candidates      []string `mapstructure:"candidates" yaml:"candidates"`
	MaxPayloadBytes int64    `mapstructure:"max_payload_bytes" yaml:"max_payload_bytes"`
}

// ValidationConfig enables the integrity check on top of the header signature
type ValidationConfig struct {
	DeepCheck bool   `mapstructure:"deep_check" yaml:"deep_check"`
	TempDir   string `mapstructure:"temp_dir" yaml:"temp_dir,omitempty"`
}

// MonitorConfig bounds the status poller
type MonitorConfig struct {
	Workers      int  `mapstructure:"workers" yaml:"workers"`
	NotifyStatus bool `mapstructure:"notify_status" yaml:"notify_status"`
}

// ScheduleConfig configures daemon runs
type ScheduleConfig struct {
	KeepDir string `mapstructure:"keep_dir" yaml:"keep_dir,omitempty"`
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

// DataDir is the default directory for state, key and archive
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".panel-backup"
	}
	return filepath.Join(home, ".panel-backup")
}

// DefaultConfig returns a configuration with every default filled in
func DefaultConfig() *Config {
	cfg := &Config{
		Archive: archive.Config{Encrypt: true, PruneAfterStore: true},
		Notify:  notify.Config{OnSuccess: true, OnFailure: true},
		Display: *display.DefaultDisplayConfig(),
	}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	dataDir := DataDir()

	if c.State.Driver == "" {
		c.State.Driver = state.DriverJSON
	}
	if c.State.Dir == "" {
		c.State.Dir = dataDir
	}

	if c.Key.Source == "" {
		c.Key.Source = vault.KeySourceFile
	}
	if c.Key.Path == "" {
		c.Key.Path = filepath.Join(dataDir, "key")
	}
	if c.Key.EnvVar == "" {
		c.Key.EnvVar = EnvPrefix + "_MASTER_KEY"
	}
	if c.Key.PassphraseEnv == "" {
		c.Key.PassphraseEnv = EnvPrefix + "_PASSPHRASE"
	}
	if c.Key.SaltPath == "" {
		c.Key.SaltPath = filepath.Join(dataDir, "salt")
	}

	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(os.TempDir(), "panel-backup")
	}

	if len(c.Discovery.Candidates) == 0 {
		c.Discovery.Candidates = append([]string(nil), panel.DefaultCandidates...)
	}
	if c.Discovery.MaxPayloadBytes == 0 {
		c.Discovery.MaxPayloadBytes = panel.DefaultMaxPayload
	}

	if c.Archive.Compression == "" {
		c.Archive.Compression = archive.CompressionZstd
	}
	if c.Archive.Storage.Type == "" {
		c.Archive.Storage.Type = archive.ProviderLocal
	}
	if c.Archive.Storage.Type == archive.ProviderLocal && c.Archive.Storage.Local.BasePath == "" {
		c.Archive.Storage.Local.BasePath = filepath.Join(dataDir, "archive")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = string(logging.LogLevelNormal)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	c.Display.SetDefaults()
}

// LoadFromEnvironment applies secret overrides that are kept out of config files
func (c *Config) LoadFromEnvironment() {
	if val := os.Getenv(EnvPrefix + "_STATE_DSN"); val != "" {
		c.State.DSN = val
	}
	if val := os.Getenv(EnvPrefix + "_S3_ACCESS_KEY"); val != "" {
		c.Archive.Storage.S3.AccessKey = val
	}
	if val := os.Getenv(EnvPrefix + "_S3_SECRET_KEY"); val != "" {
		c.Archive.Storage.S3.SecretKey = val
	}
	if val := os.Getenv(EnvPrefix + "_AZURE_ACCOUNT_KEY"); val != "" {
		c.Archive.Storage.Azure.AccountKey = val
	}
	if val := os.Getenv(EnvPrefix + "_GCS_CREDENTIALS"); val != "" {
		c.Archive.Storage.GCS.CredentialsPath = val
	}
	if val := os.Getenv(EnvPrefix + "_NOTIFY_URLS"); val != "" {
		for _, u := range strings.Split(val, ",") {
			if u = strings.TrimSpace(u); u != "" {
				c.Notify.Shoutrrr = append(c.Notify.Shoutrrr, u)
			}
		}
	}
}

// Validate checks every section and reports all problems at once
func (c *Config) Validate() error {
	var errs ValidationErrors

	if err := c.State.Validate(); err != nil {
		errs.Add("state", err.Error(), c.State.Driver)
	}

	switch c.Key.Source {
	case vault.KeySourceFile:
		if c.Key.Path == "" {
			errs.Add("key.path", "required for the file key source", nil)
		}
	case vault.KeySourceEnv:
		if c.Key.EnvVar == "" {
			errs.Add("key.env_var", "required for the env key source", nil)
		}
	case vault.KeySourcePassphrase:
		if c.Key.PassphraseEnv == "" || c.Key.SaltPath == "" {
			errs.Add("key.passphrase_env", "passphrase_env and salt_path are required for the passphrase key source", nil)
		}
	default:
		errs.Add("key.source", "must be one of: file, env, passphrase", c.Key.Source)
	}

	c.validateProfile(&errs, "profiles.probe", c.Profiles.Probe)
	c.validateProfile(&errs, "profiles.monitor", c.Profiles.Monitor)
	c.validateProfile(&errs, "profiles.backup", c.Profiles.Backup)

	for _, candidate := range c.Discovery.Candidates {
		if !strings.HasPrefix(candidate, "/") {
			errs.Add("discovery.candidates", "paths must start with /", candidate)
		}
	}
	if c.Discovery.MaxPayloadBytes < int64(len(panel.SQLiteHeader)) {
		errs.Add("discovery.max_payload_bytes", "must be at least the SQLite header size", c.Discovery.MaxPayloadBytes)
	}

	if c.Monitor.Workers < 0 {
		errs.Add("monitor.workers", "must not be negative", c.Monitor.Workers)
	}

	if c.Archive.Enabled {
		if err := c.Archive.Storage.Validate(); err != nil {
			errs.Add("archive.storage", err.Error(), c.Archive.Storage.Type)
		}
		if !archive.NewCompressionManager().Supported(c.Archive.Compression) {
			errs.Add("archive.compression", "must be one of: none, gzip, lz4, zstd", c.Archive.Compression)
		}
		if c.Archive.Retention.KeepLast < 0 || c.Archive.Retention.MaxAge < 0 {
			errs.Add("archive.retention", "keep_last and max_age must not be negative", nil)
		}
	}

	if c.Notify.Enabled {
		if len(c.Notify.Shoutrrr) == 0 && c.Notify.Webhook == nil && c.Notify.File == nil {
			errs.Add("notify", "enabled but no shoutrrr, webhook or file channel is configured", nil)
		}
		if c.Notify.Webhook != nil {
			if u, err := url.Parse(c.Notify.Webhook.URL); err != nil || u.Scheme == "" || u.Host == "" {
				errs.Add("notify.webhook.url", "must be an absolute URL", c.Notify.Webhook.URL)
			}
		}
		if c.Notify.File != nil && c.Notify.File.Path == "" {
			errs.Add("notify.file.path", "required", nil)
		}
	}

	switch logging.LogLevel(c.Logging.Level) {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		errs.Add("logging.level", "must be one of: quiet, normal, verbose, debug", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs.Add("logging.format", "must be text or json", c.Logging.Format)
	}

	if err := c.Display.Validate(); err != nil {
		errs.Add("display", err.Error(), nil)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (c *Config) validateProfile(errs *ValidationErrors, field string, p ProfileConfig) {
	if p.Attempts < 0 || p.Attempts > 3 {
		errs.Add(field+".attempts", "must be between 1 and 3", p.Attempts)
	}
	for _, d := range append(append([]time.Duration(nil), p.LoginTimeouts...), p.Delays...) {
		if d < 0 {
			errs.Add(field, "durations must not be negative", d.String())
			break
		}
	}
	if p.RequestTimeout < 0 {
		errs.Add(field+".request_timeout", "must not be negative", p.RequestTimeout.String())
	}
}

// PanelProfiles returns the built-in profiles with configured overrides applied
func (c *Config) PanelProfiles() panel.Profiles {
	defaults := panel.DefaultProfiles()
	return panel.Profiles{
		Probe:   c.Profiles.Probe.apply(defaults.Probe),
		Monitor: c.Profiles.Monitor.apply(defaults.Monitor),
		Backup:  c.Profiles.Backup.apply(defaults.Backup),
	}
}

func (p ProfileConfig) apply(base panel.Profile) panel.Profile {
	if p.Attempts > 0 {
		base.Attempts = p.Attempts
	}
	if len(p.LoginTimeouts) > 0 {
		base.LoginTimeouts = append([]time.Duration(nil), p.LoginTimeouts...)
	}
	if len(p.Delays) > 0 {
		base.Delays = append([]time.Duration(nil), p.Delays...)
	}
	if p.RequestTimeout > 0 {
		base.RequestTimeout = p.RequestTimeout
	}
	return base
}

// LoggerConfig converts the logging section. verbose and quiet flags win over the file.
func (c *Config) LoggerConfig(verbose, quiet bool) logging.Config {
	level := logging.LogLevel(c.Logging.Level)
	switch {
	case quiet:
		level = logging.LogLevelQuiet
	case verbose && level != logging.LogLevelDebug:
		level = logging.LogLevelVerbose
	}
	return logging.Config{
		Level:   level,
		Format:  c.Logging.Format,
		LogFile: c.Logging.File,
	}
}

// String renders a short summary used in debug logs
func (c *Config) String() string {
	return fmt.Sprintf("state=%s key=%s archive=%t notify=%t", c.State.Driver, c.Key.Source, c.Archive.Enabled, c.Notify.Enabled)
}
