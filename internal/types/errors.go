package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error codes raised by the exposure engine and its collaborators.
// Callers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationInvalidGeometry ErrorCode = "validation_invalid_geometry"
	ErrCodeValidationInvalidLat      ErrorCode = "validation_invalid_latitude"
	ErrCodeValidationInvalidLon      ErrorCode = "validation_invalid_longitude"
	ErrCodeValidationTimeWindow      ErrorCode = "validation_time_window_invalid"
	ErrCodeValidationTimeRange       ErrorCode = "validation_time_range_exceeded"
	ErrCodeValidationInterval        ErrorCode = "validation_invalid_interval"
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationBatchSize       ErrorCode = "validation_batch_size_exceeded"
	ErrCodeValidationInvalidWeather  ErrorCode = "validation_invalid_weather"
	ErrCodeValidationInvalidDate     ErrorCode = "validation_invalid_date"

	// Not Found (404)
	ErrCodeNotFoundPatio    ErrorCode = "not_found_patio"
	ErrCodeNotFoundSchedule ErrorCode = "not_found_schedule"

	// Conflict (409)
	ErrCodeConflictRunActive ErrorCode = "conflict_precompute_run_active"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalCache      ErrorCode = "internal_cache_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamWeather    ErrorCode = "upstream_weather_unavailable"
	ErrCodeUpstreamQueue      ErrorCode = "upstream_queue_unavailable"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// The API layer wrapping this engine uses it to translate AppErrors.
// Returns 500 for unrecognized error codes.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard error type returned across package boundaries.
// Domain and repository failures are expressed as AppError so the caller can
// branch on Code and still reach the root cause through errors.Is/errors.As.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
// The receiver is not modified.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// HasCode reports whether the first AppError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	var ae *AppError
	return errors.As(err, &ae) && ae.Code == code
}
