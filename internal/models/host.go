package models

import (
	"fmt"
	"strings"
	"time"
)

// PlaceholderName is used for artifact file names when a host name has no usable characters
const PlaceholderName = "panel"

// HostRecord is one managed panel. Password is plaintext in memory only; the credential store
// encrypts it before anything reaches disk.
type HostRecord struct {
	Name           string     `json:"name" yaml:"name"`
	BaseURL        string     `json:"base_url" yaml:"base_url"`
	Username       string     `json:"username" yaml:"username"`
	Password       string     `json:"password" yaml:"-"`
	DiscoveredPath string     `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	AddedAt        *time.Time `json:"added_at,omitempty" yaml:"added_at,omitempty"`
	LastBackupAt   *time.Time `json:"last_backup_at,omitempty" yaml:"last_backup_at,omitempty"`

	// CredentialUnreadable is set on load when a tagged ciphertext could not be decrypted
	// with the current key. Never persisted.
	CredentialUnreadable bool `json:"-" yaml:"-"`
}

// NewHostRecord builds a record from operator input, normalizing and validating the base URL
func NewHostRecord(name, baseURL, username, password string) (HostRecord, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return HostRecord{}, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return HostRecord{}, fmt.Errorf("host name is required")
	}

	return HostRecord{
		Name:     name,
		BaseURL:  normalized,
		Username: username,
		Password: password,
	}, nil
}

// SameHost reports whether two records describe the same panel (name + base URL)
func (h HostRecord) SameHost(other HostRecord) bool {
	return h.Name == other.Name && h.BaseURL == other.BaseURL
}

// HasDiscoveredPath reports whether a backup endpoint has been confirmed for this host
func (h HostRecord) HasDiscoveredPath() bool {
	return h.DiscoveredPath != ""
}

// ArtifactName returns the filesystem-safe file name stem derived from the host name
func (h HostRecord) ArtifactName() string {
	return SanitizeName(h.Name)
}

// String implements fmt.Stringer without exposing the password
func (h HostRecord) String() string {
	return fmt.Sprintf("%s (%s)", h.Name, h.BaseURL)
}

// SanitizeName keeps letters, digits, space, dash and underscore. An empty result becomes
// PlaceholderName.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune(r)
		}
	}

	sanitized := strings.TrimSpace(b.String())
	if sanitized == "" {
		return PlaceholderName
	}
	return sanitized
}

// NormalizeBaseURL trims whitespace and trailing slashes and requires an http or https scheme
func NormalizeBaseURL(raw string) (string, error) {
	u := strings.TrimSpace(raw)
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return "", fmt.Errorf("base URL %q must start with http:// or https://", raw)
	}

	u = strings.TrimRight(u, "/")
	if u == "http:" || u == "https:" {
		return "", fmt.Errorf("base URL %q has no host", raw)
	}
	return u, nil
}

// CloneHosts returns a deep copy of records, including the time pointers
func CloneHosts(records []HostRecord) []HostRecord {
	if records == nil {
		return nil
	}
	out := make([]HostRecord, len(records))
	for i, r := range records {
		out[i] = r
		if r.AddedAt != nil {
			t := *r.AddedAt
			out[i].AddedAt = &t
		}
		if r.LastBackupAt != nil {
			t := *r.LastBackupAt
			out[i].LastBackupAt = &t
		}
	}
	return out
}
