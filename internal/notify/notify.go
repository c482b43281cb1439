// Package notify delivers backup results to operator-configured targets.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "panel-backup/internal/errors"
	"panel-backup/internal/logging"
	"panel-backup/internal/models"
	"panel-backup/internal/monitor"
)

// EventType identifies what a message is about
type EventType string

const (
	EventBackupSuccess EventType = "backup_success"
	EventBackupFailure EventType = "backup_failure"
	EventRunSummary    EventType = "run_summary"
	EventStatusReport  EventType = "status_report"
)

const captionTimeLayout = "2006-01-02 15:04"

// Config holds notifier configuration
type Config struct {
	Enabled   bool           `mapstructure:"enabled" yaml:"enabled"`
	OnSuccess bool           `mapstructure:"on_success" yaml:"on_success"`
	OnFailure bool           `mapstructure:"on_failure" yaml:"on_failure"`
	Shoutrrr  []string       `mapstructure:"shoutrrr" yaml:"shoutrrr,omitempty"`
	Webhook   *WebhookConfig `mapstructure:"webhook" yaml:"webhook,omitempty"`
	File      *FileConfig    `mapstructure:"file" yaml:"file,omitempty"`
}

// Message is a rendered notification
type Message struct {
	Event     EventType              `json:"event"`
	Title     string                 `json:"title"`
	Text      string                 `json:"text"`
	Host      string                 `json:"host,omitempty"`
	RunID     string                 `json:"run_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Body is the plain-text form sent to chat services
func (m Message) Body() string {
	if m.Text == "" {
		return m.Title
	}
	return m.Title + "\n" + m.Text
}

// Channel is one delivery target
type Channel interface {
	Send(ctx context.Context, msg Message) error
	Type() string
}

// Dispatcher fans messages out to every channel
type Dispatcher struct {
	config   Config
	channels []Channel
	logger   *logging.Logger
	now      func() time.Time
}

// NewDispatcher builds channels from cfg. sender may be nil to use shoutrrr directly.
func NewDispatcher(cfg Config, sender Sender, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if sender == nil {
		sender = ShoutrrrSender{}
	}

	d := &Dispatcher{config: cfg, logger: logger, now: time.Now}
	for _, url := range cfg.Shoutrrr {
		if strings.TrimSpace(url) == "" {
			continue
		}
		d.channels = append(d.channels, NewShoutrrrChannel(url, sender))
	}
	if cfg.Webhook != nil && cfg.Webhook.URL != "" {
		d.channels = append(d.channels, NewWebhookChannel(*cfg.Webhook))
	}
	if cfg.File != nil && cfg.File.Path != "" {
		d.channels = append(d.channels, NewFileChannel(*cfg.File))
	}
	return d
}

// AddChannel registers an extra channel
func (d *Dispatcher) AddChannel(ch Channel) {
	d.channels = append(d.channels, ch)
}

// Channels returns the number of configured channels
func (d *Dispatcher) Channels() int {
	return len(d.channels)
}

// Dispatch sends msg through every channel and returns how many channels failed
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) int {
	if !d.config.Enabled || len(d.channels) == 0 {
		return 0
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = d.now()
	}
	if msg.RunID == "" {
		msg.RunID = logging.RunIDFromContext(ctx)
	}

	failed := 0
	for _, ch := range d.channels {
		if err := ch.Send(ctx, msg); err != nil {
			failed++
			d.logger.WithContext(ctx).WithFields(map[string]interface{}{
				"channel": ch.Type(),
				"event":   string(msg.Event),
				"error":   logging.RedactSecrets(err.Error()),
			}).Error("Failed to send notification")
			continue
		}
		d.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"channel": ch.Type(),
			"event":   string(msg.Event),
		}).Debug("Notification sent")
	}
	return failed
}

// BackupSucceeded sends the success caption
func (d *Dispatcher) BackupSucceeded(ctx context.Context, artifact *models.Artifact) {
	if !d.config.OnSuccess {
		return
	}
	d.Dispatch(ctx, SuccessMessage(artifact, d.now()))
}

// BackupFailed sends the failure notice
func (d *Dispatcher) BackupFailed(ctx context.Context, host models.HostRecord, err error) {
	if !d.config.OnFailure {
		return
	}
	d.Dispatch(ctx, FailureMessage(host, err, d.now()))
}

// RunFinished sends the run summary
func (d *Dispatcher) RunFinished(ctx context.Context, report *models.RunReport) {
	d.Dispatch(ctx, SummaryMessage(report))
}

// StatusReported sends a fleet status digest
func (d *Dispatcher) StatusReported(ctx context.Context, reports []monitor.StatusReport) {
	d.Dispatch(ctx, StatusMessage(reports, d.now()))
}

// SuccessMessage renders the caption that accompanies a delivered database
func SuccessMessage(artifact *models.Artifact, now time.Time) Message {
	at := artifact.CreatedAt
	if at.IsZero() {
		at = now
	}
	return Message{
		Event:     EventBackupSuccess,
		Title:     "Backup Success",
		Text:      fmt.Sprintf("%s\n%s", artifact.Host, at.Local().Format(captionTimeLayout)),
		Host:      artifact.Host,
		Timestamp: at,
		Fields: map[string]interface{}{
			"size":    artifact.Size,
			"sha256":  artifact.Checksum,
			"db_path": artifact.DiscoveredPath,
		},
	}
}

// FailureMessage renders a per-host failure
func FailureMessage(host models.HostRecord, err error, now time.Time) Message {
	reason := "unknown error"
	switch {
	case err == nil:
	case apperrors.GetErrorType(err) != apperrors.ErrorTypeUnknown:
		reason = apperrors.FormatUserError(err)
	default:
		reason = err.Error()
	}
	return Message{
		Event:     EventBackupFailure,
		Title:     "Backup Failed",
		Text:      fmt.Sprintf("%s\n%s", host.Name, reason),
		Host:      host.Name,
		Timestamp: now,
		Fields: map[string]interface{}{
			"error_type": string(apperrors.GetErrorType(err)),
		},
	}
}

// SummaryMessage renders the end-of-run summary
func SummaryMessage(report *models.RunReport) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "%d succeeded, %d failed", report.Succeeded(), report.Failed())
	for _, o := range report.Outcomes {
		if o.Status == models.OutcomeFailed {
			fmt.Fprintf(&b, "\n%s: %s", o.Host, o.Reason)
		}
		for _, w := range o.Warnings {
			fmt.Fprintf(&b, "\n%s: warning: %s", o.Host, w)
		}
	}
	return Message{
		Event:     EventRunSummary,
		Title:     "Done.",
		Text:      b.String(),
		RunID:     report.RunID,
		Timestamp: report.FinishedAt,
		Fields: map[string]interface{}{
			"trigger":   report.Trigger,
			"succeeded": report.Succeeded(),
			"failed":    report.Failed(),
			"duration":  report.Duration().String(),
		},
	}
}

// StatusMessage renders one line per host
func StatusMessage(reports []monitor.StatusReport, now time.Time) Message {
	online := 0
	lines := make([]string, 0, len(reports))
	for _, r := range reports {
		if !r.Online {
			lines = append(lines, fmt.Sprintf("%s: offline (%s)", r.Host, r.Reason))
			continue
		}
		online++
		line := fmt.Sprintf("%s: online", r.Host)
		if r.Metrics != nil {
			line += fmt.Sprintf(", cpu %.1f%%, mem %.1f%%", r.Metrics.CPUPercent, r.Metrics.MemoryPercent)
		}
		lines = append(lines, line)
	}
	return Message{
		Event:     EventStatusReport,
		Title:     fmt.Sprintf("Status: %d/%d online", online, len(reports)),
		Text:      strings.Join(lines, "\n"),
		Timestamp: now,
	}
}
