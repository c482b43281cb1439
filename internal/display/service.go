// Package display renders command output for the terminal: status lines, tables and
// JSON/YAML documents.
package display

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Service writes formatted output
type Service struct {
	config *DisplayConfig
	cs     ColorSystem
	w      io.Writer
}

// NewService creates a display service. A nil config uses the defaults.
func NewService(config *DisplayConfig) *Service {
	if config == nil {
		config = DefaultDisplayConfig()
	}
	config.SetDefaults()
	return &Service{
		config: config,
		cs:     NewColorSystem(GetThemeByName(config.Theme), config.ColorEnabled && config.Theme != "plain"),
		w:      config.Writer,
	}
}

// Writer returns the output writer
func (s *Service) Writer() io.Writer {
	return s.w
}

// SetOutput redirects output
func (s *Service) SetOutput(w io.Writer) {
	s.w = w
	s.config.Writer = w
}

// Config returns the active configuration
func (s *Service) Config() *DisplayConfig {
	return s.config
}

// Colors returns the color system
func (s *Service) Colors() ColorSystem {
	return s.cs
}

// Format returns override when set, else the configured output format
func (s *Service) Format(override string) (OutputFormat, error) {
	if override == "" {
		return OutputFormat(s.config.OutputFormat), nil
	}
	return ParseOutputFormat(override)
}

// NewTable creates a table in the configured style
func (s *Service) NewTable() *Table {
	return NewTable(s.cs, TableStyleByName(s.config.TableStyle), s.config.MaxTableWidth)
}

// Header prints a title line
func (s *Service) Header(title string) {
	if s.config.QuietMode {
		return
	}
	fmt.Fprintln(s.w, s.cs.Colorize(title, s.cs.Theme().Primary))
	fmt.Fprintln(s.w, strings.Repeat("=", len([]rune(title))))
}

func (s *Service) Success(message string) { s.status("✓", message, s.cs.Theme().Success) }
func (s *Service) Warning(message string) { s.status("!", message, s.cs.Theme().Warning) }
func (s *Service) Error(message string)   { s.status("✗", message, s.cs.Theme().Error) }

// Info prints a plain progress line, suppressed in quiet mode
func (s *Service) Info(message string) {
	if s.config.QuietMode {
		return
	}
	fmt.Fprintln(s.w, s.cs.Colorize(message, s.cs.Theme().Info))
}

// Emit writes v in the chosen structured format, or calls table for FormatTable
func (s *Service) Emit(format OutputFormat, v interface{}, table func() *Table) error {
	if format == FormatTable {
		t := table()
		t.RenderTo(s.w)
		return nil
	}
	return Encode(s.w, format, v)
}

func (s *Service) status(symbol, message string, clr Color) {
	if s.config.QuietMode && clr != s.cs.Theme().Error {
		return
	}
	fmt.Fprintf(s.w, "%s %s\n", s.cs.Colorize(symbol, clr), message)
}

// FormatBytes renders a size as B/KiB/MiB/GiB
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatTime renders t in local time, or "-" when unset
func FormatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// FormatUptime renders a duration as "3d 4h 5m"
func FormatUptime(d time.Duration) string {
	d = d.Truncate(time.Minute)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
