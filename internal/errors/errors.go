package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication & Authorization
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeTokenExpired ErrorCode = "TOKEN_EXPIRED"
	ErrCodeTokenUnknown ErrorCode = "TOKEN_UNKNOWN"
	ErrCodeHandshake    ErrorCode = "HANDSHAKE_REQUIRED"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Room session state
	ErrCodeRoomNotFound  ErrorCode = "ROOM_NOT_FOUND"
	ErrCodeAlreadyActive ErrorCode = "ALREADY_ACTIVE"
	ErrCodeNotActive     ErrorCode = "NOT_ACTIVE"
	ErrCodeNoVoice       ErrorCode = "NO_VOICE_CONNECTION"

	// Delivery
	ErrCodeRenderFailed ErrorCode = "RENDER_FAILED"
	ErrCodeQueueClosed  ErrorCode = "QUEUE_CLOSED"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeExternal ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

// TokenExpired tells the client to run the issuance flow again.
func TokenExpired() *AppError {
	return New(ErrCodeTokenExpired, "Token has expired, request a new one")
}

// TokenUnknown is a hard reject: the token was never issued, was
// superseded by a newer one, or was revoked.
func TokenUnknown() *AppError {
	return New(ErrCodeTokenUnknown, "Unknown or superseded token")
}

func HandshakeRequired() *AppError {
	return New(ErrCodeHandshake, "First frame must authenticate")
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func RoomNotFound(roomID string) *AppError {
	return New(ErrCodeRoomNotFound, fmt.Sprintf("room %s not found", roomID))
}

func AlreadyActive() *AppError {
	return New(ErrCodeAlreadyActive, "Monitoring is already active")
}

func NotActive() *AppError {
	return New(ErrCodeNotActive, "Monitoring is not active")
}

func NoVoice() *AppError {
	return New(ErrCodeNoVoice, "Not connected to a voice channel")
}

func RenderFailed(cause error) *AppError {
	return Wrap(ErrCodeRenderFailed, "Failed to render audio job", cause)
}

func QueueClosed() *AppError {
	return New(ErrCodeQueueClosed, "Delivery queue is closed")
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

func External(service string, cause error) *AppError {
	return Wrap(ErrCodeExternal, fmt.Sprintf("External service error: %s", service), cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}
