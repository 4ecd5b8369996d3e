// Package errors provides standardized error handling for the advisory engine and
// its BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeBackendTimeout     ErrorCode = "BACKEND_TIMEOUT"
	ErrCodeTurnInProgress     ErrorCode = "TURN_IN_PROGRESS"

	ErrCodeStoreFailed          ErrorCode = "STORE_FAILED"
	ErrCodeQuotaCheckFailed     ErrorCode = "QUOTA_CHECK_FAILED"
	ErrCodeAnalysisUnavailable  ErrorCode = "ANALYSIS_UNAVAILABLE"
	ErrCodeExportFailed         ErrorCode = "EXPORT_FAILED"
	ErrCodeArtifactUploadFailed ErrorCode = "ARTIFACT_UPLOAD_FAILED"
	ErrCodeInternal             ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func NewNotFoundError(resource, id string) *StandardError {
	return newError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), fmt.Sprintf("%sId: %s", resource, id), false, nil)
}

func NewInvalidInputError(details string) *StandardError {
	return newError(ErrCodeInvalidInput, "Invalid input", details, false, nil)
}

// NewQuotaExceededError is a decision outcome, not a failure: callers render an
// upgrade prompt from the remaining/limit metadata.
func NewQuotaExceededError(limit int) *StandardError {
	err := newError(ErrCodeQuotaExceeded, "Question quota exhausted", fmt.Sprintf("limit: %d", limit), false, nil)
	err.Metadata = map[string]interface{}{
		"remaining": 0,
		"limit":     limit,
	}
	return err
}

func NewBackendUnavailableError(err error) *StandardError {
	return newError(ErrCodeBackendUnavailable, "Completion backend unavailable", err.Error(), true, err)
}

func NewBackendTimeoutError(err error) *StandardError {
	return newError(ErrCodeBackendTimeout, "Completion backend timeout", err.Error(), true, err)
}

func NewTurnInProgressError(conversationID string) *StandardError {
	return newError(ErrCodeTurnInProgress, "A turn is already in progress for this conversation",
		fmt.Sprintf("conversationId: %s", conversationID), true, nil)
}

func NewStoreFailedError(op string, err error) *StandardError {
	return newError(ErrCodeStoreFailed, "Conversation store operation failed",
		fmt.Sprintf("op: %s, error: %s", op, err.Error()), true, err)
}

func NewQuotaCheckFailedError(err error) *StandardError {
	return newError(ErrCodeQuotaCheckFailed, "Quota counter unavailable", err.Error(), true, err)
}

func NewAnalysisUnavailableError(err error) *StandardError {
	return newError(ErrCodeAnalysisUnavailable, "Analysis provider error", err.Error(), true, err)
}

func NewExportFailedError(format string, err error) *StandardError {
	return newError(ErrCodeExportFailed, "Conversation export failed",
		fmt.Sprintf("format: %s, error: %s", format, err.Error()), false, err)
}

func NewArtifactUploadFailedError(err error) *StandardError {
	return newError(ErrCodeArtifactUploadFailed, "Export artifact upload failed", err.Error(), true, err)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", err.Error(), false, err)
}

// ==========================
// 4. Inspection Helpers
// ==========================

// CodeOf returns the code of the first StandardError in err's chain, or
// INTERNAL_ERROR when there is none.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// IsRetryable reports whether err is a StandardError marked retryable.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// AsStandard returns err as a StandardError, wrapping unknown errors as INTERNAL_ERROR.
func AsStandard(err error) *StandardError {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError(err)
}

// ==========================
// 5. Error Conversion to BPMN
// ==========================

// GetRetryCount returns the recommended job retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeStoreFailed,
		ErrCodeQuotaCheckFailed,
		ErrCodeAnalysisUnavailable,
		ErrCodeArtifactUploadFailed:
		return 3

	case ErrCodeTurnInProgress:
		return 2

	// The engine already retried the backend once.
	case ErrCodeBackendUnavailable, ErrCodeBackendTimeout:
		return 1

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           string(stdErr.Code),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "QUOTA"):
		return "QUOTA"
	case strings.Contains(codeStr, "BACKEND"):
		return "AI"
	case strings.Contains(codeStr, "STORE") || code == ErrCodeTurnInProgress:
		return "STORAGE"
	case strings.Contains(codeStr, "EXPORT") || strings.Contains(codeStr, "ARTIFACT"):
		return "EXPORT"
	case strings.Contains(codeStr, "ANALYSIS"):
		return "ANALYSIS"
	case code == ErrCodeNotFound || code == ErrCodeInvalidInput:
		return "VALIDATION"
	default:
		return "UNKNOWN"
	}
}
