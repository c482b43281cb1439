package display

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"panel-backup/internal/archive"
	"panel-backup/internal/models"
	"panel-backup/internal/monitor"
)

// NotDetected is shown for hosts whose database path has not been confirmed
const NotDetected = "not detected yet"

// HostView is the printable form of a host record; credentials are never included
type HostView struct {
	Index          int        `json:"index" yaml:"index"`
	Name           string     `json:"name" yaml:"name"`
	URL            string     `json:"url" yaml:"url"`
	Username       string     `json:"username" yaml:"username"`
	DiscoveredPath string     `json:"db_path" yaml:"db_path"`
	LastBackupAt   *time.Time `json:"last_backup_at,omitempty" yaml:"last_backup_at,omitempty"`
	Unreadable     bool       `json:"credential_unreadable,omitempty" yaml:"credential_unreadable,omitempty"`
}

// HostViews numbers hosts from 1 in registry order
func HostViews(hosts []models.HostRecord) []HostView {
	views := make([]HostView, 0, len(hosts))
	for i, h := range hosts {
		path := h.DiscoveredPath
		if path == "" {
			path = NotDetected
		}
		views = append(views, HostView{
			Index:          i + 1,
			Name:           h.Name,
			URL:            h.BaseURL,
			Username:       h.Username,
			DiscoveredPath: path,
			LastBackupAt:   h.LastBackupAt,
			Unreadable:     h.CredentialUnreadable,
		})
	}
	return views
}

// PrintHosts renders the host list
func (s *Service) PrintHosts(format OutputFormat, hosts []models.HostRecord) error {
	views := HostViews(hosts)
	return s.Emit(format, views, func() *Table {
		t := s.NewTable().SetHeaders("#", "Name", "URL", "DB path", "Last backup")
		t.SetAlignment(0, AlignRight)
		for _, v := range views {
			t.AddRow(strconv.Itoa(v.Index), v.Name, v.URL, v.DiscoveredPath, FormatTime(v.LastBackupAt))
			if v.DiscoveredPath == NotDetected {
				t.ColorCell(3, s.cs.Theme().Warning)
			}
			if v.Unreadable {
				t.ColorCell(1, s.cs.Theme().Error)
			}
		}
		return t
	})
}

// StatusView is the printable form of a poll result
type StatusView struct {
	Host          string  `json:"host" yaml:"host"`
	Online        bool    `json:"online" yaml:"online"`
	Reason        string  `json:"reason,omitempty" yaml:"reason,omitempty"`
	LatencyMillis int64   `json:"latency_ms" yaml:"latency_ms"`
	CPUPercent    float64 `json:"cpu_percent,omitempty" yaml:"cpu_percent,omitempty"`
	MemoryPercent float64 `json:"memory_percent,omitempty" yaml:"memory_percent,omitempty"`
	Uptime        string  `json:"uptime,omitempty" yaml:"uptime,omitempty"`
}

// StatusViews flattens poll results
func StatusViews(reports []monitor.StatusReport) []StatusView {
	views := make([]StatusView, 0, len(reports))
	for _, r := range reports {
		v := StatusView{
			Host:          r.Host,
			Online:        r.Online,
			Reason:        r.Reason,
			LatencyMillis: r.Latency.Milliseconds(),
		}
		if r.Metrics != nil {
			v.CPUPercent = r.Metrics.CPUPercent
			v.MemoryPercent = r.Metrics.MemoryPercent
			if r.Metrics.Uptime > 0 {
				v.Uptime = FormatUptime(r.Metrics.Uptime)
			}
		}
		views = append(views, v)
	}
	return views
}

// PrintStatus renders the fleet status table
func (s *Service) PrintStatus(format OutputFormat, reports []monitor.StatusReport) error {
	views := StatusViews(reports)
	return s.Emit(format, views, func() *Table {
		t := s.NewTable().SetHeaders("Host", "State", "CPU", "Memory", "Uptime", "Latency")
		for _, col := range []int{2, 3, 5} {
			t.SetAlignment(col, AlignRight)
		}
		for _, v := range views {
			if !v.Online {
				t.AddRow(v.Host, "offline: "+v.Reason, "-", "-", "-", fmt.Sprintf("%dms", v.LatencyMillis))
				t.ColorCell(1, s.cs.Theme().Error)
				continue
			}
			cpu, mem, uptime := "-", "-", "-"
			if v.Uptime != "" || v.CPUPercent > 0 || v.MemoryPercent > 0 {
				cpu = fmt.Sprintf("%.1f%%", v.CPUPercent)
				mem = fmt.Sprintf("%.1f%%", v.MemoryPercent)
			}
			if v.Uptime != "" {
				uptime = v.Uptime
			}
			t.AddRow(v.Host, "online", cpu, mem, uptime, fmt.Sprintf("%dms", v.LatencyMillis))
			t.ColorCell(1, s.cs.Theme().Success)
		}
		return t
	})
}

// PrintRunReport renders per-host backup outcomes followed by the summary line
func (s *Service) PrintRunReport(format OutputFormat, report *models.RunReport) error {
	err := s.Emit(format, report, func() *Table {
		t := s.NewTable().SetHeaders("Host", "Result", "Size", "Duration", "Detail")
		t.SetAlignment(2, AlignRight)
		for _, o := range report.Outcomes {
			if o.Status == models.OutcomeFailed {
				t.AddRow(o.Host, "failed", "-", o.Duration.Round(time.Millisecond).String(), o.Reason)
				t.ColorCell(1, s.cs.Theme().Error)
				continue
			}
			size, detail := "-", o.ArchiveKey
			if o.Artifact != nil {
				size = FormatBytes(o.Artifact.Size)
			}
			if o.KeptAt != "" {
				detail = o.KeptAt
			}
			if len(o.Warnings) > 0 {
				detail = strings.Join(o.Warnings, "; ")
			}
			t.AddRow(o.Host, "ok", size, o.Duration.Round(time.Millisecond).String(), detail)
			t.ColorCell(1, s.cs.Theme().Success)
		}
		return t
	})
	if err != nil || format != FormatTable {
		return err
	}

	summary := fmt.Sprintf("Done. %d succeeded, %d failed in %s", report.Succeeded(), report.Failed(), report.Duration().Round(time.Millisecond))
	if report.Failed() > 0 {
		s.Warning(summary)
	} else {
		s.Success(summary)
	}
	return nil
}

// PrintArchive renders archived entries
func (s *Service) PrintArchive(format OutputFormat, entries []archive.Entry) error {
	return s.Emit(format, entries, func() *Table {
		t := s.NewTable().SetHeaders("Key", "Host", "Created", "Size", "Stored")
		t.SetAlignment(3, AlignRight).SetAlignment(4, AlignRight)
		for _, e := range entries {
			created := e.CreatedAt
			t.AddRow(e.Key, e.Host, FormatTime(&created), FormatBytes(e.Size), FormatBytes(e.StoredSize))
		}
		return t
	})
}

// PrintSchedule renders the persisted interval and the next firing
func (s *Service) PrintSchedule(format OutputFormat, setting models.ScheduleSetting, next *time.Time) error {
	doc := struct {
		models.ScheduleSetting `yaml:",inline"`
		NextRun                *time.Time `json:"next_run,omitempty" yaml:"next_run,omitempty"`
	}{setting, next}

	return s.Emit(format, doc, func() *Table {
		t := s.NewTable().SetHeaders("Interval", "Seconds", "Next run")
		t.AddRow(setting.Label, strconv.FormatInt(setting.IntervalSeconds, 10), FormatTime(next))
		return t
	})
}
