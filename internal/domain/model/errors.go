package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so driving adapters can choose a response
// without inspecting error strings.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"       // Caller-fixable input.
	KindNotFound        ErrorKind = "not_found"        // Referenced installation or mapping absent.
	KindUnauthorized    ErrorKind = "unauthorized"     // Signature or authentication failure.
	KindExternalService ErrorKind = "external_service" // Upstream platform failure.
	KindIntegrity       ErrorKind = "integrity"        // Decryption authentication failure.
)

// Sentinel errors, one per kind. errors.Is(err, ErrNotFound) reports true
// for any *Error of KindNotFound.
var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrExternalService = errors.New("external service failure")
	ErrIntegrity       = errors.New("integrity check failed")
)

var sentinelByKind = map[ErrorKind]error{
	KindValidation:      ErrValidation,
	KindNotFound:        ErrNotFound,
	KindUnauthorized:    ErrUnauthorized,
	KindExternalService: ErrExternalService,
	KindIntegrity:       ErrIntegrity,
}

// Error is the domain error type. Message is safe to show to the person who
// issued the request; Err carries the underlying cause for logs.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return sentinelByKind[e.Kind] == target
}

// ValidationError builds a KindValidation error.
func ValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError builds a KindNotFound error.
func NotFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// UnauthorizedError builds a KindUnauthorized error wrapping cause.
func UnauthorizedError(cause error, message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message, Err: cause}
}

// ExternalServiceError builds a KindExternalService error wrapping cause.
func ExternalServiceError(cause error, message string) *Error {
	return &Error{Kind: KindExternalService, Message: message, Err: cause}
}

// IntegrityError builds a KindIntegrity error wrapping cause.
func IntegrityError(cause error, message string) *Error {
	return &Error{Kind: KindIntegrity, Message: message, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when err
// is outside the taxonomy.
func KindOf(err error) ErrorKind {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return ""
}

// UserMessage returns the caller-facing message for err. Errors outside the
// taxonomy and upstream failures get a generic message so internals never leak.
func UserMessage(err error) string {
	var domainErr *Error
	if !errors.As(err, &domainErr) {
		return "internal error"
	}
	switch domainErr.Kind {
	case KindExternalService:
		return "GitHub is unavailable right now, try again shortly"
	case KindIntegrity:
		return "stored secret could not be decrypted"
	default:
		return domainErr.Message
	}
}
