package config

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"panel-backup/internal/archive"
	"panel-backup/internal/logging"
	"panel-backup/internal/panel"
	"panel-backup/internal/state"
	"panel-backup/internal/vault"
)

// FileName is the default config file name looked up in the home directory
const FileName = ".panel-backup"

type setting struct {
	key         string
	value       func() interface{}
	description string
}

func settings() []setting {
	dataDir := DataDir()
	constant := func(v interface{}) func() interface{} { return func() interface{} { return v } }

	return []setting{
		{"state.driver", constant(state.DriverJSON), "State backend: json, sqlite or mysql"},
		{"state.dir", constant(dataDir), "Directory for the json and sqlite backends"},
		{"state.dsn", constant(""), "DSN for the sqlite or mysql backend"},
		{"key.source", constant(vault.KeySourceFile), "Encryption key source: file, env or passphrase"},
		{"key.path", constant(filepath.Join(dataDir, "key")), "Key file for the file source"},
		{"key.env_var", constant(EnvPrefix + "_MASTER_KEY"), "Variable holding a base64 key for the env source"},
		{"key.passphrase_env", constant(EnvPrefix + "_PASSPHRASE"), "Variable holding the passphrase for the passphrase source"},
		{"key.salt_path", constant(filepath.Join(dataDir, "salt")), "Salt file for the passphrase source"},
		{"work_dir", func() interface{} { return DefaultConfig().WorkDir }, "Scratch directory for downloaded databases"},
		{"discovery.max_payload_bytes", constant(panel.DefaultMaxPayload), "Largest database accepted from a panel"},
		{"validation.deep_check", constant(false), "Open downloaded databases and run an integrity check"},
		{"monitor.workers", constant(0), "Concurrent status polls, 0 polls every host at once"},
		{"monitor.notify_status", constant(false), "Send status reports to notification channels"},
		{"schedule.keep_dir", constant(""), "Copy each scheduled backup into this directory"},
		{"archive.enabled", constant(false), "Store every backup in the archive"},
		{"archive.compression", constant(string(archive.CompressionZstd)), "Archive compression: none, gzip, lz4 or zstd"},
		{"archive.compression_level", constant(0), "Compression level, 0 uses the algorithm default"},
		{"archive.encrypt", constant(true), "Encrypt archived objects with the vault key"},
		{"archive.prune_after_store", constant(true), "Apply retention after each backup run"},
		{"archive.retention.keep_last", constant(0), "Keep the newest N archives per host"},
		{"archive.retention.max_age", constant("0s"), "Keep archives younger than this duration"},
		{"archive.storage.type", constant(string(archive.ProviderLocal)), "Archive provider: local, s3, azure or gcs"},
		{"archive.storage.local.base_path", constant(filepath.Join(dataDir, "archive")), "Directory for the local provider"},
		{"archive.storage.s3.bucket", constant(""), "S3 bucket"},
		{"archive.storage.s3.region", constant(""), "S3 region"},
		{"archive.storage.s3.endpoint", constant(""), "S3-compatible endpoint"},
		{"archive.storage.azure.account_name", constant(""), "Azure storage account"},
		{"archive.storage.azure.container_name", constant(""), "Azure container"},
		{"archive.storage.gcs.bucket", constant(""), "GCS bucket"},
		{"archive.storage.gcs.project_id", constant(""), "GCS project"},
		{"notify.enabled", constant(false), "Send notifications"},
		{"notify.on_success", constant(true), "Notify on every successful backup"},
		{"notify.on_failure", constant(true), "Notify on every failed backup"},
		{"logging.level", constant(string(logging.LogLevelNormal)), "Log level: quiet, normal, verbose or debug"},
		{"logging.format", constant("text"), "Log format: text or json"},
		{"logging.file", constant(""), "Also write logs to this file"},
		{"display.color_enabled", constant(true), "Colored output"},
		{"display.theme", constant("dark"), "Color theme: dark, light or plain"},
		{"display.output_format", constant("table"), "Default output: table, json or yaml"},
		{"display.table_style", constant("default"), "Table style: default, rounded or compact"},
		{"display.max_table_width", constant(0), "Table width, 0 uses the terminal width"},
		{"display.quiet", constant(false), "Suppress everything except errors"},
	}
}

// secrets are read by LoadFromEnvironment and never written to a config file
var secrets = []setting{
	{key: EnvPrefix + "_STATE_DSN", description: "State backend DSN"},
	{key: EnvPrefix + "_S3_ACCESS_KEY", description: "S3 access key"},
	{key: EnvPrefix + "_S3_SECRET_KEY", description: "S3 secret key"},
	{key: EnvPrefix + "_AZURE_ACCOUNT_KEY", description: "Azure account key"},
	{key: EnvPrefix + "_GCS_CREDENTIALS", description: "GCS credentials file"},
	{key: EnvPrefix + "_NOTIFY_URLS", description: "Comma separated shoutrrr URLs appended to notify.shoutrrr"},
	{key: EnvPrefix + "_MASTER_KEY", description: "Base64 key for the env key source"},
	{key: EnvPrefix + "_PASSPHRASE", description: "Passphrase for the passphrase key source"},
}

// Setup prepares v for environment overrides and registers every default
func Setup(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	RegisterDefaults(v)
}

// RegisterDefaults registers every default so environment variables reach nested keys
func RegisterDefaults(v *viper.Viper) {
	for _, s := range settings() {
		v.SetDefault(s.key, s.value())
	}
}

// Load unmarshals v into a validated Config
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.SetDefaults()
	cfg.LoadFromEnvironment()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnvironmentVariable describes one supported override
type EnvironmentVariable struct {
	Name        string `json:"name" yaml:"name"`
	Key         string `json:"key,omitempty" yaml:"key,omitempty"`
	Description string `json:"description" yaml:"description"`
}

// EnvironmentVariables lists every supported environment override sorted by name
func EnvironmentVariables() []EnvironmentVariable {
	var vars []EnvironmentVariable
	for _, s := range settings() {
		vars = append(vars, EnvironmentVariable{
			Name:        EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(s.key, ".", "_")),
			Key:         s.key,
			Description: s.description,
		})
	}
	for _, s := range secrets {
		vars = append(vars, EnvironmentVariable{Name: s.key, Description: s.description})
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
	return vars
}

// Sample renders a commented configuration file with every default
func Sample() ([]byte, error) {
	cfg := DefaultConfig()

	var buf bytes.Buffer
	buf.WriteString("# panel-backup configuration\n")
	buf.WriteString("# Secrets such as storage keys are better set through " + EnvPrefix + "_* variables.\n\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to render sample configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
