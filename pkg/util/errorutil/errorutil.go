package errorutil

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Error codes returned by the engine.
const (
	CodeNotFound          = "NOT_FOUND"
	CodePermissionDenied  = "PERMISSION_DENIED"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeValidation        = "VALIDATION_FAILED"
	CodeArchiveConflict   = "ARCHIVE_CONFLICT"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeInternal          = "INTERNAL_ERROR"
)

// Sentinels for errors.Is checks against any DomainError of the same code.
var (
	ErrNotFound          = &DomainError{Code: CodeNotFound}
	ErrPermissionDenied  = &DomainError{Code: CodePermissionDenied}
	ErrInvalidTransition = &DomainError{Code: CodeInvalidTransition}
	ErrValidation        = &DomainError{Code: CodeValidation}
	ErrArchiveConflict   = &DomainError{Code: CodeArchiveConflict}
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches on Code so callers can compare against the package sentinels.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewPermissionDenied(message string, details map[string]any) error {
	return NewDomainError(CodePermissionDenied, message, http.StatusForbidden, details)
}

func NewInvalidTransition(message string, details map[string]any) error {
	return NewDomainError(CodeInvalidTransition, message, http.StatusConflict, details)
}

func NewArchiveConflict(details map[string]any) error {
	return NewDomainError(CodeArchiveConflict, "ticket was archived concurrently", http.StatusConflict, details)
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		if domainErr.HTTPStatus == 0 {
			copied := *domainErr
			copied.HTTPStatus = statusForCode(copied.Code)
			return &copied
		}
		return domainErr
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		return NewNotFound("resource", nil).(*DomainError)
	}
	return NewInternalError(err).(*DomainError)
}

// MapError converts err to a DomainError, keeping nil as nil.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	return ToDomainError(err)
}

// Code reports the code of err, or CodeInternal when it is not a DomainError.
func Code(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}

func statusForCode(code string) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeInvalidTransition, CodeArchiveConflict:
		return http.StatusConflict
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
