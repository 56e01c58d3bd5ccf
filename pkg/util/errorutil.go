package util

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared by the service layer and the HTTP surface.
const (
	CodeValidation   = "VALIDATION_FAILED"
	CodeConflict     = "CONFLICT"
	CodeForbidden    = "FORBIDDEN"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound     = "NOT_FOUND"
	CodeProvisioning = "PROVISIONING_FAILED"
	CodeArchival     = "ARCHIVAL_FAILED"
	CodeRateLimited  = "RATE_LIMITED"
	CodeInternal     = "INTERNAL_ERROR"
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
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
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

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

// NewForbidden reports an actor lacking the role required for a transition.
func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

func NewRateLimited(message string, details map[string]any) error {
	return NewDomainError(CodeRateLimited, message, http.StatusTooManyRequests, details)
}

// NewProvisioningError wraps a platform-side failure to create or modify a channel or role.
func NewProvisioningError(operation string, err error) error {
	return &DomainError{
		Code:       CodeProvisioning,
		Message:    fmt.Sprintf("platform operation %q failed", operation),
		HTTPStatus: http.StatusBadGateway,
		Details:    map[string]any{"operation": operation},
		Err:        err,
	}
}

// NewArchivalError wraps a transcript build or persistence failure. Callers log it; it never
// blocks closure.
func NewArchivalError(stage string, err error) error {
	return &DomainError{
		Code:       CodeArchival,
		Message:    fmt.Sprintf("transcript %s failed", stage),
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"stage": stage},
		Err:        err,
	}
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
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// HasCode reports whether err carries a DomainError with the given code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return false
	}
	return domainErr.Code == code
}

func MapError(err error) error {
	return ToDomainError(err)
}
