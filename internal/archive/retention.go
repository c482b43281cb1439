package archive

import (
	"sort"
	"time"
)

// RetentionPolicy bounds how many archived copies are kept per host
type RetentionPolicy struct {
	// KeepLast keeps the newest N entries of each host; 0 disables the rule
	KeepLast int `mapstructure:"keep_last" yaml:"keep_last"`
	// MaxAge keeps entries younger than this; 0 disables the rule
	MaxAge time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

// Enabled reports whether any rule is set
func (p RetentionPolicy) Enabled() bool {
	return p.KeepLast > 0 || p.MaxAge > 0
}

// Expired returns the entries the policy no longer protects. An entry survives when any
// enabled rule keeps it, and the newest entry of each host is always kept.
func (p RetentionPolicy) Expired(entries []Entry, now time.Time) []Entry {
	if !p.Enabled() {
		return nil
	}

	byHost := make(map[string][]Entry)
	for _, e := range entries {
		byHost[e.Host] = append(byHost[e.Host], e)
	}

	hosts := make([]string, 0, len(byHost))
	for host := range byHost {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	var expired []Entry
	for _, host := range hosts {
		group := byHost[host]
		sort.Slice(group, func(i, j int) bool { return group[i].CreatedAt.After(group[j].CreatedAt) })

		for i, e := range group {
			if i == 0 {
				continue
			}
			if p.KeepLast > 0 && i < p.KeepLast {
				continue
			}
			if p.MaxAge > 0 && now.Sub(e.CreatedAt) < p.MaxAge {
				continue
			}
			expired = append(expired, e)
		}
	}
	return expired
}
