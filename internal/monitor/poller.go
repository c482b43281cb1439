// Package monitor polls every registered panel concurrently and reports reachability and load.
package monitor

import (
	"context"
	"errors"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "panel-backup/internal/errors"
	"panel-backup/internal/logging"
	"panel-backup/internal/models"
	"panel-backup/internal/panel"
)

// DefaultWorkers bounds concurrent polls
const DefaultWorkers = 16

// StatusReport is one host's poll result
type StatusReport struct {
	Host     string         `json:"host" yaml:"host"`
	BaseURL  string         `json:"base_url" yaml:"base_url"`
	Online   bool           `json:"online" yaml:"online"`
	TimedOut bool           `json:"timed_out,omitempty" yaml:"timed_out,omitempty"`
	Reason   string         `json:"reason,omitempty" yaml:"reason,omitempty"`
	Latency  time.Duration  `json:"latency" yaml:"latency"`
	Metrics  *panel.Metrics `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// SessionOpener authenticates against a panel
type SessionOpener interface {
	Authenticate(ctx context.Context, host models.HostRecord, profile panel.Profile) (*panel.Session, error)
}

// MetricsFetcher reads the optional load metrics of an authenticated session
type MetricsFetcher func(ctx context.Context, session *panel.Session, timeout time.Duration) (*panel.Metrics, error)

// Poller checks the whole fleet
type Poller struct {
	sessions SessionOpener
	metrics  MetricsFetcher
	profile  panel.Profile
	workers  int
	logger   *logging.Logger
}

// NewPoller creates a poller. workers <= 0 uses DefaultWorkers.
func NewPoller(sessions SessionOpener, profile panel.Profile, workers int, logger *logging.Logger) *Poller {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Poller{
		sessions: sessions,
		metrics:  panel.FetchStatus,
		profile:  profile,
		workers:  workers,
		logger:   logger,
	}
}

// PollAll polls every host concurrently and returns one report per host in input order.
// It returns only after every poll has finished.
func (p *Poller) PollAll(ctx context.Context, hosts []models.HostRecord) []StatusReport {
	reports := make([]StatusReport, len(hosts))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			reports[i] = p.poll(ctx, host)
			return nil
		})
	}
	_ = g.Wait()

	return reports
}

func (p *Poller) poll(ctx context.Context, host models.HostRecord) StatusReport {
	started := time.Now()
	report := StatusReport{Host: host.Name, BaseURL: host.BaseURL}

	session, err := p.sessions.Authenticate(ctx, host, p.profile)
	report.Latency = time.Since(started)
	if err != nil {
		report.TimedOut = isTimeout(err)
		report.Reason = apperrors.FormatUserError(err)
		if report.TimedOut {
			report.Reason = "timed out"
		}
		p.logger.LogPoll(ctx, host.Name, false, report.Latency, report.Reason)
		return report
	}

	report.Online = true
	if p.metrics != nil {
		metrics, err := p.metrics(ctx, session, p.profile.RequestTimeout)
		if err != nil {
			p.logger.WithContext(ctx).WithFields(map[string]interface{}{
				"host":  host.Name,
				"error": err.Error(),
			}).Debug("Status metrics unavailable")
		} else {
			report.Metrics = metrics
		}
	}

	p.logger.LogPoll(ctx, host.Name, true, report.Latency, "")
	return report
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
