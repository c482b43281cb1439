package display

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// OutputFormat selects how command results are printed
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// DisplayConfig holds terminal output options
type DisplayConfig struct {
	ColorEnabled  bool   `mapstructure:"color_enabled" yaml:"color_enabled"`
	Theme         string `mapstructure:"theme" yaml:"theme"`
	OutputFormat  string `mapstructure:"output_format" yaml:"output_format"`
	TableStyle    string `mapstructure:"table_style" yaml:"table_style"`
	MaxTableWidth int    `mapstructure:"max_table_width" yaml:"max_table_width"`
	QuietMode     bool   `mapstructure:"quiet" yaml:"quiet"`

	Writer io.Writer `mapstructure:"-" yaml:"-"`
}

var (
	validThemes      = []string{"dark", "light", "plain"}
	validFormats     = []string{string(FormatTable), string(FormatJSON), string(FormatYAML)}
	validTableStyles = []string{"default", "rounded", "compact"}
)

// DefaultDisplayConfig returns the default display configuration
func DefaultDisplayConfig() *DisplayConfig {
	return &DisplayConfig{
		ColorEnabled:  true,
		Theme:         "dark",
		OutputFormat:  string(FormatTable),
		TableStyle:    "default",
		MaxTableWidth: 0,
		Writer:        os.Stdout,
	}
}

// SetDefaults fills unset fields
func (dc *DisplayConfig) SetDefaults() {
	if dc.Theme == "" {
		dc.Theme = "dark"
	}
	if dc.OutputFormat == "" {
		dc.OutputFormat = string(FormatTable)
	}
	if dc.TableStyle == "" {
		dc.TableStyle = "default"
	}
	if dc.Writer == nil {
		dc.Writer = os.Stdout
	}
}

// Validate checks the enumerated options
func (dc *DisplayConfig) Validate() error {
	var errs []string
	if !contains(validThemes, dc.Theme) {
		errs = append(errs, fmt.Sprintf("invalid theme '%s', must be one of: %s", dc.Theme, strings.Join(validThemes, ", ")))
	}
	if !contains(validFormats, dc.OutputFormat) {
		errs = append(errs, fmt.Sprintf("invalid output format '%s', must be one of: %s", dc.OutputFormat, strings.Join(validFormats, ", ")))
	}
	if !contains(validTableStyles, dc.TableStyle) {
		errs = append(errs, fmt.Sprintf("invalid table style '%s', must be one of: %s", dc.TableStyle, strings.Join(validTableStyles, ", ")))
	}
	if dc.MaxTableWidth > 0 && (dc.MaxTableWidth < 40 || dc.MaxTableWidth > 300) {
		errs = append(errs, fmt.Sprintf("max table width must be between 40 and 300, got %d", dc.MaxTableWidth))
	}
	if len(errs) > 0 {
		return fmt.Errorf("display configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ParseOutputFormat validates a --output flag value
func ParseOutputFormat(s string) (OutputFormat, error) {
	if !contains(validFormats, s) {
		return "", fmt.Errorf("invalid output format '%s', must be one of: %s", s, strings.Join(validFormats, ", "))
	}
	return OutputFormat(s), nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
