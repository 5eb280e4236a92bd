// Package errors provides structured error types for uuidvault.
// All errors carry a category, code, message, and retryable flag so that
// callers can decide between rejecting, dropping, retrying and reporting.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the failure taxonomy.
type ErrorCategory string

const (
	ErrCategoryValidation    ErrorCategory = "VALIDATION"
	ErrCategoryAuth          ErrorCategory = "AUTH"
	ErrCategoryStorage       ErrorCategory = "STORAGE"
	ErrCategoryQueue         ErrorCategory = "QUEUE"
	ErrCategoryConsolidation ErrorCategory = "CONSOLIDATION"
	ErrCategoryInternal      ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidRecord = "INVALID_RECORD"
	CodeMalformedBody = "MALFORMED_BODY"
	CodeEmptyBatch    = "EMPTY_BATCH"

	// Auth codes
	CodeForbidden = "FORBIDDEN"

	// Storage codes
	CodeListFailed     = "LIST_FAILED"
	CodeGetFailed      = "GET_FAILED"
	CodePutFailed      = "PUT_FAILED"
	CodeDeleteFailed   = "DELETE_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Queue codes
	CodeEnqueueFailed  = "ENQUEUE_FAILED"
	CodeDeliveryFailed = "DELIVERY_FAILED"
	CodeCommitFailed   = "COMMIT_FAILED"

	// Consolidation codes
	CodeRunInProgress = "RUN_IN_PROGRESS"
	CodeLoadFailed    = "LOAD_FAILED"
	CodePersistFailed = "PERSIST_FAILED"
	CodeCleanupFailed = "CLEANUP_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// VaultError is the structured error type used throughout the system.
type VaultError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *VaultError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *VaultError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *VaultError) Is(target error) bool {
	var t *VaultError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new VaultError.
func New(category ErrorCategory, code, message string) *VaultError {
	return &VaultError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new VaultError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *VaultError {
	return &VaultError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *VaultError) WithDetails(details map[string]interface{}) *VaultError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a VaultError.
func GetCategory(err error) ErrorCategory {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a VaultError.
func GetCode(err error) string {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

// IsReportable reports whether err belongs to a category that must be
// forwarded to the exception collector. Auth and validation failures are
// expected client behaviour and are not reported.
func IsReportable(err error) bool {
	if err == nil {
		return false
	}
	switch GetCategory(err) {
	case ErrCategoryAuth, ErrCategoryValidation:
		return false
	}
	return GetCode(err) != CodeRunInProgress
}

// Storage, queue and persist failures are transient: the next tick or
// redelivery retries them from a safe state.
func isRetryable(category ErrorCategory, code string) bool {
	switch category {
	case ErrCategoryStorage:
		return code != CodeObjectNotFound
	case ErrCategoryQueue:
		return true
	case ErrCategoryConsolidation:
		return code == CodeLoadFailed || code == CodePersistFailed || code == CodeCleanupFailed
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *VaultError {
	return New(ErrCategoryValidation, code, message)
}

func NewAuthError(message string) *VaultError {
	return New(ErrCategoryAuth, CodeForbidden, message)
}

func NewStorageError(code, message string, cause error) *VaultError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewQueueError(code, message string, cause error) *VaultError {
	return Wrap(ErrCategoryQueue, code, message, cause)
}

func NewConsolidationError(code, message string, cause error) *VaultError {
	return Wrap(ErrCategoryConsolidation, code, message, cause)
}

func NewInternalError(message string, cause error) *VaultError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
