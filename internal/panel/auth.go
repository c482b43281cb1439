package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	apperrors "panel-backup/internal/errors"
	"panel-backup/internal/logging"
	"panel-backup/internal/models"
)

const (
	loginPath       = "/login"
	loginBodyLimit  = 1 << 20
	reasonLoginFail = "login failed"
)

var (
	successMarkers  = [][]byte{[]byte("success")}
	negationMarkers = [][]byte{[]byte("fail"), []byte("invalid"), []byte("incorrect"), []byte("wrong"), []byte("unauthorized")}
)

// Authenticator produces authenticated sessions
type Authenticator struct {
	transport http.RoundTripper
	logger    *logging.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewAuthenticator creates an authenticator. A nil transport uses NewTransport().
func NewAuthenticator(transport http.RoundTripper, logger *logging.Logger) *Authenticator {
	if transport == nil {
		transport = NewTransport()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Authenticator{transport: transport, logger: logger}
}

// Authenticate logs into the host's panel using profile's timeouts and retry schedule.
// Every failure is an AuthenticationFailed AppError whose message is "login failed" or,
// when the final attempt failed at the network level, that transport error's message.
func (a *Authenticator) Authenticate(ctx context.Context, host models.HostRecord, profile Profile) (*Session, error) {
	var session *Session
	retry := apperrors.NewRetryHandler(apperrors.RetryConfig{
		MaxAttempts: profile.MaxAttempts(),
		Delays:      profile.Delays,
		RetryAll:    true,
	})
	if a.sleep != nil {
		retry = retry.WithSleep(a.sleep)
	}

	err := retry.RetryAttempts(ctx, func(attempt int) error {
		started := time.Now()
		s, err := a.attempt(ctx, host, profile, attempt)
		a.logger.LogLogin(ctx, host.Name, host.BaseURL, profile.Name, attempt, err == nil, time.Since(started), err)
		if err != nil {
			return err
		}
		session = s
		return nil
	})
	if err == nil {
		return session, nil
	}

	if apperrors.IsType(err, apperrors.ErrorTypeInterruption) || ctx.Err() != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeInterruption, "login canceled", err)
	}
	if apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		return nil, err
	}

	reason := reasonLoginFail
	if !apperrors.IsType(err, apperrors.ErrorTypeAuthentication) {
		reason = err.Error()
	}
	return nil, apperrors.NewAuthenticationError(host.Name, reason, err)
}

// attempt performs one login POST on a fresh cookie jar
func (a *Authenticator) attempt(ctx context.Context, host models.HostRecord, profile Profile, attempt int) (*Session, error) {
	session, err := newSession(host, a.transport)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("username", host.Username)
	form.Set("password", host.Password)

	status, body, err := session.PostForm(ctx, loginPath, form, profile.LoginTimeout(attempt), loginBodyLimit)
	if err != nil {
		return nil, err
	}

	if !LoginSucceeded(status, body, session.HasCookies()) {
		return nil, apperrors.NewRecoverableError(apperrors.ErrorTypeAuthentication, reasonLoginFail, nil).
			WithContext("status", status).
			WithContext("attempt", attempt)
	}
	return session, nil
}

// LoginSucceeded decides whether a login response means success: HTTP 200 and then either the
// structured success flag or, for legacy responses, the cookie/substring heuristic.
func LoginSucceeded(status int, body []byte, hasCookie bool) bool {
	if status != http.StatusOK {
		return false
	}
	if success, structured := StructuredLoginResult(body); structured {
		return success
	}
	return LegacyLoginResult(body, hasCookie)
}

// StructuredLoginResult reads a JSON envelope with a boolean success field. structured is false
// when the body is not JSON or carries no such field.
func StructuredLoginResult(body []byte) (success bool, structured bool) {
	var resp struct {
		Success *bool  `json:"success"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(body), &resp); err != nil || resp.Success == nil {
		return false, false
	}
	return *resp.Success, true
}

// LegacyLoginResult handles HTML/text responses: a session cookie or success marker, and no
// negation marker anywhere in the body.
func LegacyLoginResult(body []byte, hasCookie bool) bool {
	lower := bytes.ToLower(body)
	for _, marker := range negationMarkers {
		if bytes.Contains(lower, marker) {
			return false
		}
	}
	if hasCookie {
		return true
	}
	for _, marker := range successMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}
