package common

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrCapacity     = errors.New("processing capacity exhausted")
	ErrConflict     = errors.New("resource conflict")
	ErrUnsupported  = errors.New("unsupported document")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// HTTPStatus maps an error chain onto the status code returned to clients.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnsupported):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrCapacity):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

const maxErrorMessage = 512

// Sanitize turns an error into a single-line message safe to store on a job.
// Host paths under mediaRoot are replaced with a relative form.
func Sanitize(err error, mediaRoot string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if mediaRoot != "" {
		msg = strings.ReplaceAll(msg, mediaRoot, "media")
	}
	msg = strings.Join(strings.Fields(msg), " ")
	if len(msg) > maxErrorMessage {
		cut := maxErrorMessage - 3
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	if msg == "" {
		msg = "unknown error"
	}
	return msg
}
