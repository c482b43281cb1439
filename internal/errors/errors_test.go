package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	cause := errors.New("underlying error")
	appErr := NewAppError(ErrorTypeStorage, "write failed", cause)

	assert.Equal(t, ErrorTypeStorage, appErr.Type)
	assert.Equal(t, "write failed", appErr.Message)
	assert.Same(t, cause, appErr.Cause)
	assert.False(t, appErr.IsRecoverable())
	assert.Equal(t, "storage: write failed (caused by: underlying error)", appErr.Error())
	assert.ErrorIs(t, appErr, cause)
}

func TestAppErrorWithContext(t *testing.T) {
	appErr := NewAppError(ErrorTypeValidation, "bad url", nil)
	appErr.WithContext("field", "base_url").WithContext("index", 2)

	assert.Equal(t, "base_url", appErr.Context["field"])
	assert.Equal(t, 2, appErr.Context["index"])
}

func TestDomainConstructors(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantType    ErrorType
		userMessage string
	}{
		{"authentication", NewAuthenticationError("edge", "login failed", nil), ErrorTypeAuthentication, "authentication failed: login failed"},
		{"endpoint", NewEndpointNotFoundError("edge", []string{"/server/getDb"}), ErrorTypeEndpointNotFound, "path not found"},
		{"transport", NewTransportError("connection refused", nil), ErrorTypeTransport, "connection refused"},
		{"not found", NewNotFoundError(7, 2), ErrorTypeNotFound, "host not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.True(t, tt.err.IsRecoverable(), "domain failures are expected states")
			assert.Equal(t, tt.userMessage, tt.err.GetUserMessage())
			assert.True(t, IsType(tt.err, tt.wantType))
		})
	}
}

func TestErrorClassifier_ContextErrors(t *testing.T) {
	classifier := NewErrorClassifier()

	deadline := classifier.ClassifyError(fmt.Errorf("login: %w", context.DeadlineExceeded))
	assert.Equal(t, ErrorTypeTimeout, deadline.Type)
	assert.True(t, deadline.IsRecoverable())

	canceled := classifier.ClassifyError(context.Canceled)
	assert.Equal(t, ErrorTypeInterruption, canceled.Type)
	assert.False(t, canceled.IsRecoverable())
}

func TestErrorClassifier_NetworkErrors(t *testing.T) {
	classifier := NewErrorClassifier()

	dial := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	appErr := classifier.ClassifyError(dial)
	assert.Equal(t, ErrorTypeTransport, appErr.Type)
	assert.True(t, appErr.IsRecoverable())

	dns := &net.DNSError{Name: "panel.invalid", Err: "no such host"}
	appErr = classifier.ClassifyError(dns)
	assert.Equal(t, ErrorTypeTransport, appErr.Type)
	assert.Contains(t, appErr.Message, "panel.invalid")
}

func TestErrorClassifier_MySQLErrors(t *testing.T) {
	classifier := NewErrorClassifier()

	denied := classifier.ClassifyError(&mysql.MySQLError{Number: 1045, Message: "Access denied"})
	assert.Equal(t, ErrorTypePermission, denied.Type)

	gone := classifier.ClassifyError(&mysql.MySQLError{Number: 2006, Message: "gone away"})
	assert.Equal(t, ErrorTypeStorage, gone.Type)
	assert.True(t, gone.IsRecoverable())
}

func TestErrorClassifier_FileSystemErrors(t *testing.T) {
	classifier := NewErrorClassifier()

	notFound := classifier.ClassifyError(&os.PathError{Op: "open", Path: "/tmp/hosts.json", Err: syscall.ENOENT})
	assert.Equal(t, ErrorTypeStorage, notFound.Type)

	denied := classifier.ClassifyError(&os.PathError{Op: "open", Path: "/root/key", Err: syscall.EACCES})
	assert.Equal(t, ErrorTypePermission, denied.Type)

	unknown := classifier.ClassifyError(errors.New("boom"))
	assert.Equal(t, ErrorTypeUnknown, unknown.Type)

	assert.Nil(t, classifier.ClassifyError(nil))
}

func newTestRetryHandler(config RetryConfig, slept *[]time.Duration) *RetryHandler {
	rh := NewRetryHandler(config)
	rh.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return ctx.Err()
	}
	return rh
}

func TestRetryHandler_ExplicitDelaySchedule(t *testing.T) {
	var slept []time.Duration
	rh := newTestRetryHandler(RetryConfig{
		MaxAttempts: 3,
		Delays:      []time.Duration{3 * time.Second, 8 * time.Second},
		RetryAll:    true,
	}, &slept)

	var attempts []int
	err := rh.RetryAttempts(context.Background(), func(attempt int) error {
		attempts = append(attempts, attempt)
		return errors.New("rejected")
	})

	require.Error(t, err)
	assert.Equal(t, "rejected", err.Error(), "last error is returned as seen")
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, []time.Duration{3 * time.Second, 8 * time.Second}, slept, "no delay before the first attempt")
}

func TestRetryHandler_StopsOnSuccess(t *testing.T) {
	var slept []time.Duration
	rh := newTestRetryHandler(RetryConfig{MaxAttempts: 3, RetryAll: true}, &slept)

	calls := 0
	err := rh.Retry(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("flaky")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryHandler_NonRecoverableStops(t *testing.T) {
	var slept []time.Duration
	rh := newTestRetryHandler(RetryConfig{MaxAttempts: 3, RetryAll: true}, &slept)

	calls := 0
	err := rh.Retry(context.Background(), func() error {
		calls++
		return NewValidationError("bad url")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, slept)
}

func TestRetryHandler_OnlyRecoverableByDefault(t *testing.T) {
	var slept []time.Duration
	rh := newTestRetryHandler(DefaultRetryConfig(), &slept)

	calls := 0
	_ = rh.Retry(context.Background(), func() error {
		calls++
		return errors.New("plain error")
	})
	assert.Equal(t, 1, calls)

	calls = 0
	_ = rh.Retry(context.Background(), func() error {
		calls++
		return NewTransportError("reset", nil)
	})
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestRetryHandler_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rh := NewRetryHandler(RetryConfig{MaxAttempts: 3, RetryAll: true})
	err := rh.Retry(ctx, func() error { return nil })

	require.Error(t, err)
	assert.Equal(t, ErrorTypeInterruption, GetErrorType(err))
}

func TestCalculateDelay(t *testing.T) {
	rh := NewRetryHandler(RetryConfig{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2})

	assert.Equal(t, time.Second, rh.calculateDelay(1))
	assert.Equal(t, 2*time.Second, rh.calculateDelay(2))
	assert.Equal(t, 3*time.Second, rh.calculateDelay(3), "capped at MaxDelay")
}

func TestFormatUserError(t *testing.T) {
	assert.Equal(t, "", FormatUserError(nil))
	assert.Equal(t, "path not found", FormatUserError(NewEndpointNotFoundError("edge", nil)))
	assert.Contains(t, FormatUserError(errors.New("x")), "unexpected error")
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, "ignored"))

	wrapped := WrapError(NewTransportError("reset", nil), "download failed")
	assert.Equal(t, ErrorTypeTransport, GetErrorType(wrapped))
	assert.True(t, IsRecoverableError(wrapped))

	plain := WrapError(context.DeadlineExceeded, "poll timed out")
	assert.Equal(t, ErrorTypeTimeout, GetErrorType(plain))
	assert.Contains(t, plain.Error(), "poll timed out")
}
