package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"panel-backup/internal/config"
	"panel-backup/internal/display"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configSampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Print a configuration file with every default",
	Example: `  panel-backup config sample > ~/.panel-backup.yaml
  chmod 600 ~/.panel-backup.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.Sample()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var configEnvCmd = &cobra.Command{
	Use:   "env",
	Short: "List supported environment variables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			cfg = config.DefaultConfig()
		}
		out := newDisplay(cfg)
		f, err := format(out)
		if err != nil {
			return err
		}

		vars := config.EnvironmentVariables()
		return out.Emit(f, vars, func() *display.Table {
			t := out.NewTable().SetHeaders("Variable", "Description")
			for _, v := range vars {
				t.AddRow(v.Name, v.Description)
			}
			return t
		})
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and report every problem",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		newDisplay(cfg).Success(fmt.Sprintf("Configuration is valid (%s)", cfg))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSampleCmd, configEnvCmd, configValidateCmd)
}
