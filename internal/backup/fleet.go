package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "panel-backup/internal/errors"
	"panel-backup/internal/logging"
	"panel-backup/internal/models"
)

// Trigger values recorded on a RunReport
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// HostLister returns the registry snapshot a run works from
type HostLister interface {
	List(ctx context.Context) ([]models.HostRecord, error)
}

// HostBackuper backs up a single host
type HostBackuper interface {
	Backup(ctx context.Context, host models.HostRecord) (*models.Artifact, error)
}

// ArtifactSink retains an artifact beyond the run and returns the stored object key
type ArtifactSink interface {
	Store(ctx context.Context, artifact *models.Artifact) (string, error)
}

// Reporter receives per-host results and the run summary
type Reporter interface {
	BackupSucceeded(ctx context.Context, artifact *models.Artifact)
	BackupFailed(ctx context.Context, host models.HostRecord, err error)
	RunFinished(ctx context.Context, report *models.RunReport)
}

// FleetConfig wires a FleetRunner. Sink and Reporter are optional.
type FleetConfig struct {
	Hosts    HostLister
	Executor HostBackuper
	Sink     ArtifactSink
	Reporter Reporter
	Logger   *logging.Logger
}

// FleetRunner backs up hosts one after another and delivers each artifact
type FleetRunner struct {
	hosts    HostLister
	executor HostBackuper
	sink     ArtifactSink
	reporter Reporter
	logger   *logging.Logger
	now      func() time.Time
}

// NewFleetRunner creates a fleet runner
func NewFleetRunner(cfg FleetConfig) *FleetRunner {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	return &FleetRunner{
		hosts:    cfg.Hosts,
		executor: cfg.Executor,
		sink:     cfg.Sink,
		reporter: cfg.Reporter,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// RunOptions adjusts a single run
type RunOptions struct {
	Trigger string
	// Only restricts the run to these registry indexes; empty means every host
	Only []int
	// KeepDir receives a copy of each artifact before the temporary file is deleted
	KeepDir string
}

// Run backs up the fleet. One host's failure never stops the others; the returned error is
// only set when the registry itself could not be read.
func (f *FleetRunner) Run(ctx context.Context, opts RunOptions) (*models.RunReport, error) {
	hosts, err := f.hosts.List(ctx)
	if err != nil {
		return nil, err
	}

	if len(opts.Only) > 0 {
		selected := make([]models.HostRecord, 0, len(opts.Only))
		for _, index := range opts.Only {
			if index < 0 || index >= len(hosts) {
				return nil, apperrors.NewNotFoundError(index, len(hosts))
			}
			selected = append(selected, hosts[index])
		}
		hosts = selected
	}

	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}

	report := &models.RunReport{
		RunID:     uuid.New().String(),
		Trigger:   opts.Trigger,
		StartedAt: f.now().UTC(),
		Outcomes:  make([]models.HostOutcome, 0, len(hosts)),
	}
	ctx = logging.ContextWithRunID(ctx, report.RunID)

	done := f.logger.LogOperationStart("fleet_backup", map[string]interface{}{
		"run_id":  report.RunID,
		"trigger": opts.Trigger,
		"hosts":   len(hosts),
	})

	for _, host := range hosts {
		if ctx.Err() != nil {
			break
		}
		report.Outcomes = append(report.Outcomes, f.runHost(ctx, host, opts))
	}

	report.FinishedAt = f.now().UTC()
	if f.reporter != nil {
		f.reporter.RunFinished(ctx, report)
	}

	var runErr error
	if ctx.Err() != nil {
		runErr = apperrors.NewAppError(apperrors.ErrorTypeInterruption, "backup run interrupted", ctx.Err())
	}
	done(runErr)
	return report, runErr
}

func (f *FleetRunner) runHost(ctx context.Context, host models.HostRecord, opts RunOptions) models.HostOutcome {
	started := f.now()
	outcome := models.HostOutcome{Host: host.Name}

	artifact, err := f.executor.Backup(ctx, host)
	if err != nil {
		outcome.Status = models.OutcomeFailed
		outcome.Reason = apperrors.FormatUserError(err)
		if f.reporter != nil {
			f.reporter.BackupFailed(ctx, host, err)
		}
		outcome.Duration = f.now().Sub(started)
		return outcome
	}

	outcome.Status = models.OutcomeSuccess
	outcome.Artifact = artifact
	outcome.Warnings = append(outcome.Warnings, artifact.Warnings...)
	defer os.Remove(artifact.Path)

	if f.sink != nil {
		key, err := f.sink.Store(ctx, artifact)
		if err != nil {
			f.logger.WithContext(ctx).WithFields(map[string]interface{}{
				"host":  host.Name,
				"error": err.Error(),
			}).Warn("Failed to archive artifact")
			outcome.Warnings = append(outcome.Warnings, "archive failed: "+err.Error())
		} else {
			outcome.ArchiveKey = key
		}
	}

	if opts.KeepDir != "" {
		kept, err := keepCopy(artifact, opts.KeepDir)
		if err != nil {
			f.logger.WithContext(ctx).WithField("error", err.Error()).Warn("Failed to keep artifact copy")
			outcome.Warnings = append(outcome.Warnings, "copy not kept: "+err.Error())
		} else {
			outcome.KeptAt = kept
		}
	}

	if f.reporter != nil {
		f.reporter.BackupSucceeded(ctx, artifact)
	}

	outcome.Duration = f.now().Sub(started)
	return outcome
}

func keepCopy(artifact *models.Artifact, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}

	stem := strings.TrimSuffix(filepath.Base(artifact.Path), filepath.Ext(artifact.Path))
	name := fmt.Sprintf("%s_%s.db", stem, artifact.CreatedAt.Format("20060102_150405"))
	dest := filepath.Join(dir, name)

	src, err := os.Open(artifact.Path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", err
	}
	return dest, dst.Close()
}
