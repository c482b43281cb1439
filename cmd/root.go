package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"panel-backup/internal/application"
	"panel-backup/internal/config"
	"panel-backup/internal/display"
	apperrors "panel-backup/internal/errors"
	"panel-backup/internal/logging"
)

var cfgFile string

// Global flags
var (
	verbose      bool
	quiet        bool
	noColor      bool
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "panel-backup",
	Short: "Back up and monitor a fleet of 3x-ui style proxy panels",
	Long: `panel-backup keeps a registry of proxy management panels, discovers where each
panel exports its SQLite database, downloads verified copies on demand or on a
schedule, and reports which panels are online.

Credentials are stored encrypted with a local key. Backups can be archived with
compression and encryption to local disk, S3, Azure Blob Storage or Google Cloud
Storage, and every run can be announced through chat or webhook notifications.

Examples:
  # Register a panel; the password is prompted without echo
  panel-backup host add --name Frankfurt --url https://fra.example.com:2053 --username admin

  # Back up every panel now and keep the files
  panel-backup backup run --keep ./backups

  # Check which panels are online
  panel-backup status

  # Back up every 12 hours in the background
  panel-backup schedule set 12h
  panel-backup daemon`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		application.ReportError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.panel-backup.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format (table, json, yaml)")
	rootCmd.PersistentFlags().String("theme", "", "color theme (dark, light, plain)")
	rootCmd.PersistentFlags().String("table-style", "", "table style (default, rounded, compact)")
	rootCmd.PersistentFlags().String("log-file", "", "also write logs to this file")

	viper.BindPFlag("display.theme", rootCmd.PersistentFlags().Lookup("theme"))
	viper.BindPFlag("display.table_style", rootCmd.PersistentFlags().Lookup("table-style"))
	viper.BindPFlag("logging.file", rootCmd.PersistentFlags().Lookup("log-file"))

	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
}

func initConfig() {
	config.Setup(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(config.FileName)
	}

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Failed to read config file %s: %v\n", cfgFile, err)
		os.Exit(1)
	}
}

// loadConfig decodes the configuration and applies the global display flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if noColor {
		cfg.Display.ColorEnabled = false
	}
	if quiet {
		cfg.Display.QuietMode = true
	}
	return cfg, nil
}

func newDisplay(cfg *config.Config) *display.Service {
	dc := cfg.Display
	dc.Writer = os.Stdout
	return display.NewService(&dc)
}

// openApp builds the application context for a command. The caller must Close it.
func openApp(cmd *cobra.Command) (*application.Context, *display.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(cfg.LoggerConfig(verbose, quiet))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	app, err := application.New(cmd.Context(), cfg, application.Options{Logger: logger})
	if err != nil {
		return nil, nil, err
	}

	out := newDisplay(cfg)
	if app.KeyCreated {
		out.Warning(fmt.Sprintf("Created a new credential key at %s; back it up, stored passwords cannot be read without it", cfg.Key.Path))
	}
	return app, out, nil
}

// format resolves the --output flag against the configured default
func format(out *display.Service) (display.OutputFormat, error) {
	return out.Format(outputFormat)
}

// parseIndex converts the 1-based index shown by host list
func parseIndex(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, apperrors.NewValidationError(fmt.Sprintf("invalid host index %q; use the number shown by host list", arg))
	}
	return n - 1, nil
}
