package errors

import (
	stderrors "errors"
	"fmt"
)

type ErrorCode string

const (
	ErrInternalServer             ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrInvalidInput               ErrorCode = "INVALID_INPUT"
	ErrInvalidRequestData         ErrorCode = "INVALID_REQUEST_DATA"
	ErrUnauthorized               ErrorCode = "UNAUTHORIZED"
	ErrTokenExpired               ErrorCode = "TOKEN_EXPIRED"
	ErrInvalidTokenFormat         ErrorCode = "INVALID_TOKEN_FORMAT"
	ErrMissingAuthorizationHeader ErrorCode = "MISSING_AUTHORIZATION_HEADER"
	ErrForbidden                  ErrorCode = "FORBIDDEN"
	ErrNotFound                   ErrorCode = "NOT_FOUND"
	ErrAlreadyExists              ErrorCode = "ALREADY_EXISTS"
	ErrGetFailed                  ErrorCode = "GET_FAILED"
	ErrCreateFailed               ErrorCode = "CREATE_FAILED"
	ErrUpdateFailed               ErrorCode = "UPDATE_FAILED"
	ErrDeleteFailed               ErrorCode = "DELETE_FAILED"

	// Sync engine
	ErrSignatureInvalid     ErrorCode = "SIGNATURE_INVALID"
	ErrAuthExpired          ErrorCode = "AUTH_EXPIRED"
	ErrProviderRateLimited  ErrorCode = "PROVIDER_RATE_LIMITED"
	ErrProviderTransient    ErrorCode = "PROVIDER_TRANSIENT"
	ErrProviderRequest      ErrorCode = "PROVIDER_REQUEST_FAILED"
	ErrWebhookUnsupported   ErrorCode = "WEBHOOK_UNSUPPORTED"
	ErrQuotaExceeded        ErrorCode = "QUOTA_EXCEEDED"
	ErrPartialBatchFailure  ErrorCode = "PARTIAL_BATCH_FAILURE"
	ErrCursorExpired        ErrorCode = "CURSOR_EXPIRED"
	ErrUnsupportedEventType ErrorCode = "UNSUPPORTED_EVENT_TYPE"
)

// ErrRecordNotFound is returned by repository lookups that match no row.
var ErrRecordNotFound = stderrors.New("record not found")

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches another AppError by code so callers can write errors.Is(err, errors.New(code, "")).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the outermost AppError in err's chain, or "" when there is none.
func CodeOf(err error) ErrorCode {
	var ae *AppError
	if stderrors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

func IsCode(err error, code ErrorCode) bool {
	var ae *AppError
	for err != nil {
		if !stderrors.As(err, &ae) {
			return false
		}
		if ae.Code == code {
			return true
		}
		err = ae.Err
	}
	return false
}

func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrRecordNotFound) || IsCode(err, ErrNotFound)
}

// IsRetryable reports whether a provider failure should be retried with backoff.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrProviderRateLimited, ErrProviderTransient, ErrPartialBatchFailure:
		return true
	}
	return false
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}
