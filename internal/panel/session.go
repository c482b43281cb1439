package panel

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	apperrors "panel-backup/internal/errors"
	"panel-backup/internal/models"
)

const userAgent = "panel-backup/1.0"

// NewTransport returns the transport used for all panel traffic. Certificate verification is
// disabled: panels run on self-signed certificates.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
	}
}

// Session is an authenticated client bound to one host's cookie jar. It belongs to the call
// that created it and is dropped after one authenticate, discover, download sequence.
type Session struct {
	host    models.HostRecord
	baseURL *url.URL
	client  *http.Client
	jar     http.CookieJar
}

func newSession(host models.HostRecord, transport http.RoundTripper) (*Session, error) {
	base, err := url.Parse(host.BaseURL)
	if err != nil || base.Host == "" {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid base URL %q", host.BaseURL))
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeUnknown, "failed to create cookie jar", err)
	}

	return &Session{
		host:    host,
		baseURL: base,
		jar:     jar,
		client: &http.Client{
			Transport: transport,
			Jar:       jar,
		},
	}, nil
}

// Host returns the record the session was created for
func (s *Session) Host() models.HostRecord {
	return s.host
}

// URL joins a path onto the host's base URL
func (s *Session) URL(path string) string {
	return strings.TrimRight(s.host.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// HasCookies reports whether the panel set any cookie for the base URL
func (s *Session) HasCookies() bool {
	return len(s.jar.Cookies(s.baseURL)) > 0
}

// Get issues a GET bounded by timeout and returns status and up to limit+1 body bytes
func (s *Session) Get(ctx context.Context, path string, timeout time.Duration, limit int64) (int, []byte, error) {
	return s.do(ctx, http.MethodGet, path, nil, "", timeout, limit)
}

// PostForm issues a form POST bounded by timeout
func (s *Session) PostForm(ctx context.Context, path string, form url.Values, timeout time.Duration, limit int64) (int, []byte, error) {
	return s.do(ctx, http.MethodPost, path, strings.NewReader(form.Encode()),
		"application/x-www-form-urlencoded", timeout, limit)
}

func (s *Session) do(ctx context.Context, method, path string, body io.Reader, contentType string, timeout time.Duration, limit int64) (int, []byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, s.URL(path), body)
	if err != nil {
		return 0, nil, apperrors.NewValidationError(fmt.Sprintf("cannot build request for %s: %v", path, err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/html, */*")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}
