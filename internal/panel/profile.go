package panel

import "time"

// Profile is a named set of timeouts and retry delays selected per call site
type Profile struct {
	Name string
	// Attempts is the login attempt budget per call
	Attempts int
	// LoginTimeouts[i] bounds login attempt i+1; the last entry covers any further attempts
	LoginTimeouts []time.Duration
	// Delays[i] is waited before attempt i+2. There is never a delay before the first attempt.
	Delays []time.Duration
	// RequestTimeout bounds each download or status call made with the session
	RequestTimeout time.Duration
}

// Built-in profiles
var (
	// ProbeProfile is used for live connectivity tests in add, edit and rescan
	ProbeProfile = Profile{
		Name:           "probe",
		Attempts:       3,
		LoginTimeouts:  []time.Duration{4 * time.Second},
		Delays:         []time.Duration{0, 0},
		RequestTimeout: 10 * time.Second,
	}
	// MonitorProfile is used for fleet status polling: a single login attempt per host
	MonitorProfile = Profile{
		Name:           "monitor",
		Attempts:       1,
		LoginTimeouts:  []time.Duration{2500 * time.Millisecond},
		RequestTimeout: 2500 * time.Millisecond,
	}
	// BackupProfile is used for scheduled and on-demand backups
	BackupProfile = Profile{
		Name:           "backup",
		Attempts:       3,
		LoginTimeouts:  []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second},
		Delays:         []time.Duration{3 * time.Second, 8 * time.Second},
		RequestTimeout: 60 * time.Second,
	}
)

// LoginTimeout returns the timeout for a 1-based attempt
func (p Profile) LoginTimeout(attempt int) time.Duration {
	if len(p.LoginTimeouts) == 0 {
		return 10 * time.Second
	}
	if attempt-1 < len(p.LoginTimeouts) && attempt >= 1 {
		return p.LoginTimeouts[attempt-1]
	}
	return p.LoginTimeouts[len(p.LoginTimeouts)-1]
}

// MaxAttempts returns the attempt budget, at least one and at most three
func (p Profile) MaxAttempts() int {
	switch {
	case p.Attempts < 1:
		return 1
	case p.Attempts > 3:
		return 3
	default:
		return p.Attempts
	}
}

// Profiles groups the three call-site profiles so configuration can override them together
type Profiles struct {
	Probe   Profile
	Monitor Profile
	Backup  Profile
}

// DefaultProfiles returns the built-in profiles
func DefaultProfiles() Profiles {
	return Profiles{
		Probe:   ProbeProfile,
		Monitor: MonitorProfile,
		Backup:  BackupProfile,
	}
}
