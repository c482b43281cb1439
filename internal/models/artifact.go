package models

import "time"

// Artifact is a downloaded panel database on local disk
type Artifact struct {
	Host           string    `json:"host" yaml:"host"`
	BaseURL        string    `json:"base_url" yaml:"base_url"`
	Path           string    `json:"path" yaml:"path"`
	DiscoveredPath string    `json:"db_path" yaml:"db_path"`
	Size           int64     `json:"size" yaml:"size"`
	Checksum       string    `json:"sha256" yaml:"sha256"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
	// Warnings are problems that did not invalidate the download
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// OutcomeStatus is the result of one host within a fleet run
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
)

// HostOutcome is one host's line in a RunReport
type HostOutcome struct {
	Host       string        `json:"host" yaml:"host"`
	Status     OutcomeStatus `json:"status" yaml:"status"`
	Reason     string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Artifact   *Artifact     `json:"artifact,omitempty" yaml:"artifact,omitempty"`
	ArchiveKey string        `json:"archive_key,omitempty" yaml:"archive_key,omitempty"`
	KeptAt     string        `json:"kept_at,omitempty" yaml:"kept_at,omitempty"`
	Warnings   []string      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

// RunReport summarizes one fleet backup run
type RunReport struct {
	RunID      string        `json:"run_id" yaml:"run_id"`
	Trigger    string        `json:"trigger" yaml:"trigger"`
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time     `json:"finished_at" yaml:"finished_at"`
	Outcomes   []HostOutcome `json:"outcomes" yaml:"outcomes"`
}

// Succeeded counts hosts backed up successfully
func (r *RunReport) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == OutcomeSuccess {
			n++
		}
	}
	return n
}

// Failed counts hosts that failed
func (r *RunReport) Failed() int {
	return len(r.Outcomes) - r.Succeeded()
}

// Duration is the wall time of the run
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
