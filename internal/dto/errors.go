package dto

import "errors"

type ErrorCode string

const (
	ErrCodeBatchAlreadyRunning      ErrorCode = "BATCH_ALREADY_RUNNING"
	ErrCodeLockAcquisitionFailed    ErrorCode = "BATCH_LOCK_ACQUISITION_FAILED"
	ErrCodeCannotRetrySuccess       ErrorCode = "CANNOT_RETRY_SUCCESS"
	ErrCodeCannotRetryRunning       ErrorCode = "CANNOT_RETRY_RUNNING"
	ErrCodeMissingRequiredParameter ErrorCode = "MISSING_REQUIRED_PARAMETER"
	ErrCodeMaxRetryExceeded         ErrorCode = "MAX_RETRY_EXCEEDED"
	ErrCodeProxyCallNotFound        ErrorCode = "PROXY_CALL_NOT_FOUND"
	ErrCodeProxyClientError         ErrorCode = "PROXY_CALL_CLIENT_ERROR"
	ErrCodeBatchJobNotFound         ErrorCode = "BATCH_JOB_NOT_FOUND"
	ErrCodeExecutionNotFound        ErrorCode = "EXECUTION_NOT_FOUND"
	ErrCodeInvalidSchedule          ErrorCode = "INVALID_SCHEDULE_EXPRESSION"
)

// IsPermanent reports whether a failure with this code can never succeed on
// retry: unbound template parameters, 4xx rejections, and bad definitions.
// Permanent failures end their chain; neither the retry timer nor the
// sweeper may resurrect them.
func IsPermanent(code ErrorCode) bool {
	switch code {
	case ErrCodeMissingRequiredParameter, ErrCodeProxyClientError,
		ErrCodeProxyCallNotFound, ErrCodeInvalidSchedule:
		return true
	}
	return false
}

// PermanentErrorCodes lists the codes IsPermanent accepts, for SQL filters.
func PermanentErrorCodes() []ErrorCode {
	return []ErrorCode{
		ErrCodeMissingRequiredParameter,
		ErrCodeProxyClientError,
		ErrCodeProxyCallNotFound,
		ErrCodeInvalidSchedule,
	}
}

// CodedError carries a stable reason code through the service boundary so
// the delivery layer can map it without string matching.
type CodedError struct {
	Code    ErrorCode
	Message string
}

func (e *CodedError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

func NewCodedError(code ErrorCode, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// CodeOf extracts the reason code from err, unwrapping as needed.
func CodeOf(err error) (ErrorCode, bool) {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, true
	}
	return "", false
}
