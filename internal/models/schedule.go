package models

import (
	"fmt"
	"time"
)

// DefaultIntervalSeconds is the fleet backup interval used when nothing has been persisted
const DefaultIntervalSeconds = 24 * 60 * 60

// ScheduleSetting is the process-wide backup interval
type ScheduleSetting struct {
	IntervalSeconds int64  `json:"interval_seconds" yaml:"interval_seconds"`
	Label           string `json:"label" yaml:"label"`
}

// DefaultSchedule returns the 24h schedule
func DefaultSchedule() ScheduleSetting {
	return ScheduleSetting{
		IntervalSeconds: DefaultIntervalSeconds,
		Label:           IntervalLabel(DefaultIntervalSeconds),
	}
}

// NewScheduleSetting validates seconds and derives a label when none is given
func NewScheduleSetting(seconds int64, label string) (ScheduleSetting, error) {
	if seconds <= 0 {
		return ScheduleSetting{}, fmt.Errorf("interval must be a positive number of seconds, got %d", seconds)
	}
	if label == "" {
		label = IntervalLabel(seconds)
	}
	return ScheduleSetting{IntervalSeconds: seconds, Label: label}, nil
}

// Valid reports whether the setting can drive a timer
func (s ScheduleSetting) Valid() bool {
	return s.IntervalSeconds > 0
}

// Interval returns the setting as a duration
func (s ScheduleSetting) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// IntervalLabel renders seconds as "Every 24 hours", "Every 2 days", "Every 30 minutes"
func IntervalLabel(seconds int64) string {
	switch {
	case seconds%86400 == 0 && seconds > 86400:
		return plural(seconds/86400, "day")
	case seconds%3600 == 0:
		return plural(seconds/3600, "hour")
	case seconds%60 == 0:
		return plural(seconds/60, "minute")
	default:
		return plural(seconds, "second")
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return "Every " + unit
	}
	return fmt.Sprintf("Every %d %ss", n, unit)
}
