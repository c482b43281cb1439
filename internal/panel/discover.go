package panel

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "panel-backup/internal/errors"
	"panel-backup/internal/logging"
	"panel-backup/internal/models"
)

// SQLiteHeader is the 16-byte magic every SQLite database file starts with
const SQLiteHeader = "SQLite format 3\x00"

// DefaultMaxPayload caps a single database download
const DefaultMaxPayload int64 = 512 << 20

// DefaultCandidates are the known database export paths across panel versions, in probe order
var DefaultCandidates = []string{
	"/server/getDb",
	"/panel/api/server/getDb",
	"/xui/server/getDb",
	"/api/server/getDb",
}

// Validator performs an extra check on a payload that already passed the signature check
type Validator interface {
	Validate(ctx context.Context, payload []byte) error
}

// ProbeResult is the outcome of one candidate path
type ProbeResult struct {
	Path    string
	Status  int
	Size    int
	Payload []byte
	Err     error
	Elapsed time.Duration
}

// Accepted reports whether the candidate yielded a valid database
func (r ProbeResult) Accepted() bool {
	return r.Err == nil && r.Payload != nil
}

// Reason describes why a candidate was rejected
func (r ProbeResult) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Discovery is a successful discovery: the accepted path, its payload, and every probe made
type Discovery struct {
	Path     string
	Payload  []byte
	Attempts []ProbeResult
}

// DiscovererConfig configures the discoverer
type DiscovererConfig struct {
	Candidates []string
	MaxPayload int64
	Validator  Validator
}

// Discoverer locates the database export endpoint of an authenticated session
type Discoverer struct {
	candidates []string
	maxPayload int64
	validator  Validator
	logger     *logging.Logger
}

// NewDiscoverer creates a discoverer. Empty candidates fall back to DefaultCandidates.
func NewDiscoverer(cfg DiscovererConfig, logger *logging.Logger) *Discoverer {
	candidates := cfg.Candidates
	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}
	maxPayload := cfg.MaxPayload
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Discoverer{
		candidates: append([]string(nil), candidates...),
		maxPayload: maxPayload,
		validator:  cfg.Validator,
		logger:     logger,
	}
}

// Candidates returns the probe order for a host: its remembered path first, then the fixed
// list without a second copy of the remembered path.
func (d *Discoverer) Candidates(host models.HostRecord) []string {
	order := make([]string, 0, len(d.candidates)+1)
	remembered := normalizePath(host.DiscoveredPath)
	if remembered != "" {
		order = append(order, remembered)
	}
	for _, candidate := range d.candidates {
		candidate = normalizePath(candidate)
		if candidate == remembered {
			continue
		}
		order = append(order, candidate)
	}
	return order
}

// Discover probes candidates in order and stops at the first valid database
func (d *Discoverer) Discover(ctx context.Context, session *Session, profile Profile) (*Discovery, error) {
	host := session.Host()
	var attempts []ProbeResult

	for _, path := range d.Candidates(host) {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrorTypeInterruption, "discovery canceled", err)
		}

		result := d.probe(ctx, session, path, profile.RequestTimeout)
		attempts = append(attempts, result)
		d.logger.LogDiscovery(ctx, host.Name, path, result.Accepted(), result.Reason())

		if result.Accepted() {
			return &Discovery{Path: path, Payload: result.Payload, Attempts: attempts}, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeInterruption, "discovery canceled", err)
	}

	tried := make([]string, 0, len(attempts))
	for _, a := range attempts {
		tried = append(tried, fmt.Sprintf("%s: %s", a.Path, a.Reason()))
	}
	return nil, apperrors.NewEndpointNotFoundError(host.Name, tried)
}

// Rescan runs discovery over the fixed candidate list only, ignoring the remembered path
func (d *Discoverer) Rescan(ctx context.Context, session *Session, profile Profile) (*Discovery, error) {
	fresh := *session
	fresh.host.DiscoveredPath = ""
	return d.Discover(ctx, &fresh, profile)
}

func (d *Discoverer) probe(ctx context.Context, session *Session, path string, timeout time.Duration) ProbeResult {
	started := time.Now()
	status, body, err := session.Get(ctx, path, timeout, d.maxPayload)
	result := ProbeResult{Path: path, Status: status, Size: len(body), Elapsed: time.Since(started)}

	switch {
	case err != nil:
		result.Err = err
	case status != http.StatusOK:
		result.Err = fmt.Errorf("HTTP %d", status)
	case int64(len(body)) > d.maxPayload:
		result.Err = fmt.Errorf("payload exceeds %d bytes", d.maxPayload)
	default:
		result.Err = CheckSignature(body)
	}

	if result.Err == nil && d.validator != nil {
		if err := d.validator.Validate(ctx, body); err != nil {
			result.Err = fmt.Errorf("integrity check failed: %w", err)
		}
	}

	if result.Err == nil {
		result.Payload = body
	}
	return result
}

// CheckSignature accepts only payloads that begin with the SQLite header
func CheckSignature(payload []byte) error {
	if len(payload) < len(SQLiteHeader) {
		return fmt.Errorf("payload too short")
	}
	if !bytes.HasPrefix(payload, []byte(SQLiteHeader)) {
		return fmt.Errorf("not a SQLite database")
	}
	return nil
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
