package errors

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeAuthentication means the panel rejected the login or was unreachable after all attempts
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeEndpointNotFound means login worked but no candidate path served a database
	ErrorTypeEndpointNotFound ErrorType = "endpoint_not_found"
	// ErrorTypeTransport represents network and TLS failures
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeNotFound means an index-based registry mutation referenced a missing record
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInterruption represents user interruption
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeStorage represents persistence and archive failures
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeCrypto represents key and cipher failures
	ErrorTypeCrypto ErrorType = "crypto"
	// ErrorTypePermission represents permission/access errors
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// AppError represents an application-specific error with context
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
	UserMessage string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns a user-friendly error message
func (e *AppError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// IsRecoverable returns whether the error is recoverable
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithUserMessage sets the operator-facing message
func (e *AppError) WithUserMessage(msg string) *AppError {
	e.UserMessage = msg
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: false,
	}
}

// NewRecoverableError creates a new recoverable error
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: true,
	}
}

// NewAuthenticationError reports a login that failed after every attempt. reason is either
// "login failed" or the message of the transport error seen on the final attempt.
func NewAuthenticationError(host, reason string, cause error) *AppError {
	return NewRecoverableError(ErrorTypeAuthentication, reason, cause).
		WithContext("host", host).
		WithUserMessage("authentication failed: " + reason)
}

// NewEndpointNotFoundError reports that no candidate path yielded a valid database
func NewEndpointNotFoundError(host string, tried []string) *AppError {
	return NewRecoverableError(ErrorTypeEndpointNotFound, "no candidate path served a valid database", nil).
		WithContext("host", host).
		WithContext("tried", tried).
		WithUserMessage("path not found")
}

// NewTransportError wraps a network or TLS failure, keeping its message verbatim
func NewTransportError(message string, cause error) *AppError {
	return NewRecoverableError(ErrorTypeTransport, message, cause).WithUserMessage(message)
}

// NewNotFoundError reports an out-of-range registry index
func NewNotFoundError(index, size int) *AppError {
	return NewRecoverableError(ErrorTypeNotFound,
		fmt.Sprintf("no host at index %d (registry holds %d)", index, size), nil).
		WithContext("index", index).
		WithUserMessage("host not found")
}

// NewValidationError reports invalid user or configuration input
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, message, nil).WithUserMessage(message)
}

// NewStorageError reports a persistence or archive failure
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeStorage, message, cause)
}

// NewCryptoError reports a key or cipher failure
func NewCryptoError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeCrypto, message, cause)
}

// ErrorClassifier provides methods to classify and handle different types of errors
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an AppError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	// Context errors first: an http.Client timeout wraps both a net.Error and DeadlineExceeded
	if ctxErr := ec.classifyContextError(err); ctxErr != nil {
		return ctxErr
	}

	if tlsErr := ec.classifyTLSError(err); tlsErr != nil {
		return tlsErr
	}

	if netErr := ec.classifyNetworkError(err); netErr != nil {
		return netErr
	}

	if sqlErr := ec.classifyMySQLError(err); sqlErr != nil {
		return sqlErr
	}

	if fsErr := ec.classifyFileSystemError(err); fsErr != nil {
		return fsErr
	}

	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

// classifyNetworkError classifies network-related errors
func (ec *ErrorClassifier) classifyNetworkError(err error) *AppError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverableError(ErrorTypeTimeout, "Network operation timed out", err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NewTransportError(fmt.Sprintf("cannot resolve %s", dnsErr.Name), err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewTransportError("Failed to establish network connection", err)
		case "read", "write":
			return NewTransportError("Network I/O error", err)
		}
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return NewTransportError(err.Error(), err)
	}

	return nil
}

// classifyTLSError classifies handshake failures. Certificate verification is disabled for
// panel traffic, so these only surface for protocol mismatches or archive providers.
func (ec *ErrorClassifier) classifyTLSError(err error) *AppError {
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return NewTransportError("TLS handshake failed: server did not answer with TLS", err)
	}

	var unknownAuth x509.UnknownAuthorityError
	if errors.As(err, &unknownAuth) {
		return NewTransportError("TLS certificate signed by unknown authority", err)
	}

	return nil
}

// classifyContextError classifies context-related errors
func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRecoverableError(ErrorTypeTimeout, "Operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewAppError(ErrorTypeInterruption, "Operation was canceled", err)
	}

	return nil
}

// classifyMySQLError classifies errors from the MySQL state backend
func (ec *ErrorClassifier) classifyMySQLError(err error) *AppError {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return nil
	}

	switch mysqlErr.Number {
	case 1045:
		return NewAppError(ErrorTypePermission,
			"State database access denied - check the state DSN credentials", err).
			WithContext("mysql_error_code", mysqlErr.Number)
	case 1049:
		return NewAppError(ErrorTypeValidation, "State database does not exist", err).
			WithContext("mysql_error_code", mysqlErr.Number)
	case 2003, 2006:
		return NewRecoverableError(ErrorTypeStorage, "State database unreachable", err).
			WithContext("mysql_error_code", mysqlErr.Number)
	default:
		return NewAppError(ErrorTypeStorage, fmt.Sprintf("MySQL error: %s", mysqlErr.Message), err).
			WithContext("mysql_error_code", mysqlErr.Number)
	}
}

// classifyFileSystemError classifies file system errors
func (ec *ErrorClassifier) classifyFileSystemError(err error) *AppError {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err {
		case syscall.ENOENT:
			return NewAppError(ErrorTypeStorage,
				fmt.Sprintf("File or directory not found: %s", pathErr.Path), err)
		case syscall.EACCES:
			return NewAppError(ErrorTypePermission,
				fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
		case syscall.ENOSPC:
			return NewAppError(ErrorTypeStorage, "No space left on device", err)
		}
	}

	return nil
}

// RetryConfig holds configuration for retry operations.
// When Delays is set it is used verbatim: Delays[i] is waited before attempt i+2.
// Otherwise the delay grows from BaseDelay by Multiplier, capped at MaxDelay.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Delays      []time.Duration
	// RetryAll retries every error, not only recoverable ones. Non-recoverable AppErrors
	// still stop the loop.
	RetryAll bool
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler provides retry functionality for operations
type RetryHandler struct {
	config     RetryConfig
	classifier *ErrorClassifier
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(config RetryConfig) *RetryHandler {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &RetryHandler{
		config:     config,
		classifier: NewErrorClassifier(),
		sleep:      sleepContext,
	}
}

// WithSleep replaces the wait between attempts
func (rh *RetryHandler) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *RetryHandler {
	rh.sleep = sleep
	return rh
}

// Retry executes a function with retry logic for recoverable errors
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	return rh.RetryAttempts(ctx, func(int) error { return operation() })
}

// RetryAttempts is Retry with the 1-based attempt number passed to the operation.
// The last error is returned unclassified so callers can inspect what the final attempt saw.
func (rh *RetryHandler) RetryAttempts(ctx context.Context, operation func(attempt int) error) error {
	var lastErr error

	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := rh.sleep(ctx, rh.calculateDelay(attempt-1)); err != nil {
				return NewAppError(ErrorTypeInterruption, "Operation canceled during retry", err)
			}
		}

		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "Operation canceled", ctx.Err())
		default:
		}

		err := operation(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !rh.shouldRetry(err) {
			return err
		}
	}

	return lastErr
}

func (rh *RetryHandler) shouldRetry(err error) bool {
	appErr := rh.classifier.ClassifyError(err)
	if appErr.Type == ErrorTypeInterruption {
		return false
	}
	if rh.config.RetryAll {
		var explicit *AppError
		if errors.As(err, &explicit) {
			return explicit.IsRecoverable()
		}
		return true
	}
	return appErr.IsRecoverable()
}

// calculateDelay returns the wait before the attempt following attempt n
func (rh *RetryHandler) calculateDelay(n int) time.Duration {
	if len(rh.config.Delays) > 0 {
		if n-1 < len(rh.config.Delays) {
			return rh.config.Delays[n-1]
		}
		return rh.config.Delays[len(rh.config.Delays)-1]
	}

	multiplier := 1.0
	for i := 1; i < n; i++ {
		multiplier *= rh.config.Multiplier
	}

	delay := time.Duration(float64(rh.config.BaseDelay) * multiplier)
	if rh.config.MaxDelay > 0 && delay > rh.config.MaxDelay {
		delay = rh.config.MaxDelay
	}

	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsRecoverableError checks if an error is recoverable
func IsRecoverableError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.IsRecoverable()
	}
	return false
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err is an AppError of the given type
func IsType(err error, errorType ErrorType) bool {
	return GetErrorType(err) == errorType
}

// FormatUserError formats an error for display to users
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.GetUserMessage()
	}

	return "An unexpected error occurred. Please check the logs for more details."
}

// WrapError wraps an existing error with additional context
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		wrapped := NewAppError(appErr.Type, message, err)
		wrapped.Recoverable = appErr.Recoverable
		return wrapped
	}

	classified := NewErrorClassifier().ClassifyError(err)
	classified.Message = message
	return classified
}
