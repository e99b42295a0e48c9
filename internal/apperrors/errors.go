// Package apperrors implements the error taxonomy described in the design's
// error-handling section: a stable status code plus a human-readable
// reason, never a stack trace or internal identifier. It mirrors the
// teacher's hand-rolled internal/errors package (errors.NewBadRequestError,
// errors.NewNotFoundError, errors.NewInternalServerError) generalized to
// cover every status code and domain-specific error named by the spec.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is one of the logical status codes of the error taxonomy.
type Code string

const (
	CodeOK                    Code = "ok"
	CodeInvalidInput          Code = "invalid_input"
	CodeNotFound              Code = "not_found"
	CodeForbidden             Code = "forbidden"
	CodeConflict              Code = "conflict"
	CodeRateLimited           Code = "rate_limited"
	CodeCancelled             Code = "cancelled"
	CodeDeadlineExceeded      Code = "deadline_exceeded"
	CodeDependencyUnavailable Code = "dependency_unavailable"
	CodeInternalError         Code = "internal_error"
)

// AppError is the one error type surfaced across package boundaries. Cause
// is kept for logging only; it is never rendered to callers.
type AppError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

func new(code Code, status int, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

func NewBadRequestError(message string) *AppError {
	return new(CodeInvalidInput, http.StatusBadRequest, message)
}

func NewNotFoundError(message string) *AppError {
	return new(CodeNotFound, http.StatusNotFound, message)
}

func NewForbiddenError(message string) *AppError {
	return new(CodeForbidden, http.StatusForbidden, message)
}

func NewConflictError(message string) *AppError {
	return new(CodeConflict, http.StatusConflict, message)
}

func NewRateLimitedError(message string) *AppError {
	return new(CodeRateLimited, http.StatusTooManyRequests, message)
}

func NewCancelledError(message string) *AppError {
	return new(CodeCancelled, 499, message)
}

func NewDeadlineExceededError(message string) *AppError {
	return new(CodeDeadlineExceeded, http.StatusGatewayTimeout, message)
}

func NewDependencyUnavailableError(message string, cause error) *AppError {
	e := new(CodeDependencyUnavailable, http.StatusServiceUnavailable, message)
	e.Cause = cause
	return e
}

func NewInternalServerError(message string) *AppError {
	return new(CodeInternalError, http.StatusInternalServerError, message)
}

func Wrap(code Code, status int, message string, cause error) *AppError {
	e := new(code, status, message)
	e.Cause = cause
	return e
}

// Domain-specific errors named explicitly by the spec.

// ConfigurationError is returned when a user's pipeline/template/parameter
// defaults cannot be materialized atomically (§4.1).
func ConfigurationError(message string, cause error) *AppError {
	return Wrap(CodeInternalError, http.StatusInternalServerError, "configuration error: "+message, cause)
}

// GenerationError is returned when the generation stage exhausts its retry
// budget against the LLM provider (§4.4f).
func GenerationError(message string, cause error) *AppError {
	return Wrap(CodeDependencyUnavailable, http.StatusBadGateway, "generation failed: "+message, cause)
}

// CollectionDeleted is returned when a session's bound collection has been
// deleted and the search pipeline cannot be invoked (§7).
func CollectionDeleted(collectionID string) *AppError {
	return new(CodeConflict, http.StatusConflict, "collection "+collectionID+" has been deleted")
}

// SessionBusy is returned when a concurrent turn cannot acquire the
// session's append lock within the configured timeout (§5).
func SessionBusy(sessionID string) *AppError {
	return new(CodeConflict, http.StatusConflict, "session "+sessionID+" is busy")
}

// DuplicateName is returned by collection creation on a name collision.
func DuplicateName(name string) *AppError {
	return new(CodeConflict, http.StatusConflict, "collection name already exists: "+name)
}

// UnknownEmbeddingModel is returned when a collection references an
// unregistered embedding model handle.
func UnknownEmbeddingModel(model string) *AppError {
	return new(CodeInvalidInput, http.StatusBadRequest, "unknown embedding model: "+model)
}

// VectorStoreUnavailable wraps a vector-store adapter failure during
// collection creation.
func VectorStoreUnavailable(cause error) *AppError {
	return NewDependencyUnavailableError("vector store unavailable", cause)
}

// UnsupportedFormat/CorruptInput are terminal, permanent-dependency errors
// raised by the ingestion pipeline's parse stage (§4.3, §7).
func UnsupportedFormat(mime string) *AppError {
	return new(CodeInvalidInput, http.StatusUnprocessableEntity, "unsupported document format: "+mime)
}

func CorruptInput(message string) *AppError {
	return new(CodeInvalidInput, http.StatusUnprocessableEntity, "corrupt input: "+message)
}

// InvalidPipeline is returned by the technique builder when a requested
// stage sequence violates an ordering or composition rule (§4.5, §8).
func InvalidPipeline(message string) *AppError {
	return new(CodeInvalidInput, http.StatusBadRequest, "invalid_pipeline: "+message)
}

// As reports whether err is (or wraps) an *AppError, and if so returns it.
func As(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// CodeOf returns the AppError code for err, or CodeInternalError if err is
// not an AppError.
func CodeOf(err error) Code {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return CodeInternalError
}
