package errors

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Code classifies a processing failure.
type Code string

const (
	CodeTimeout              Code = "timeout"
	CodeRateLimit            Code = "rate_limit"
	CodeProviderUnavailable  Code = "provider_unavailable"
	CodeRecordingUnavailable Code = "recording_unavailable"
	CodeContextCancelled     Code = "context_cancelled"
	CodeEmptyOutput          Code = "empty_output"
	CodeInvalidInput         Code = "invalid_input"
	CodeProcessingError      Code = "processing_error"
)

// ProcessingError is a classified transcription or summarization failure.
// It matches ErrTransientFailure or ErrPermanentFailure under errors.Is,
// depending on whether its code is retryable.
type ProcessingError struct {
	Code    Code
	Stage   string
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match the transient/permanent sentinels.
func (e *ProcessingError) Is(target error) bool {
	switch target {
	case ErrTransientFailure:
		return IsRetryableCode(e.Code)
	case ErrPermanentFailure:
		return !IsRetryableCode(e.Code)
	}
	return false
}

// Retryable reports whether the failure is worth another attempt.
func (e *ProcessingError) Retryable() bool {
	return IsRetryableCode(e.Code)
}

// NewProcessingError builds a ProcessingError with an explicit code.
func NewProcessingError(code Code, stage, message string, cause error) *ProcessingError {
	return &ProcessingError{Code: code, Stage: stage, Message: message, Cause: cause}
}

// retryableError is implemented by provider client errors that know
// whether they are transient.
type retryableError interface {
	Retryable() bool
}

// statusCoder is implemented by errors that carry an HTTP status code.
type statusCoder interface {
	StatusCode() int
}

// statusPattern finds an HTTP status in messages such as "status 400" or
// "HTTP 503". Bare numbers are not status codes.
var statusPattern = regexp.MustCompile(`(?i)\b(?:status|http)(?: code)?[ :=]+([1-5][0-9]{2})\b`)

// ClassifyError inspects err and returns a *ProcessingError with the matching code.
// An error that is already classified is returned as is, or as a copy with
// the stage filled in; err itself is never modified.
func ClassifyError(err error, stage string) *ProcessingError {
	if err == nil {
		return nil
	}

	var pe *ProcessingError
	if errors.As(err, &pe) {
		if pe.Stage != "" || stage == "" {
			return pe
		}
		staged := *pe
		staged.Stage = stage
		return &staged
	}

	pe = &ProcessingError{Stage: stage, Cause: err, Message: err.Error()}

	if errors.Is(err, context.DeadlineExceeded) {
		pe.Code = CodeTimeout
		pe.Message = "operation timed out"
		return pe
	}
	if errors.Is(err, context.Canceled) {
		pe.Code = CodeContextCancelled
		pe.Message = "operation cancelled"
		return pe
	}

	if code, ok := codeForStatus(httpStatus(err)); ok {
		pe.Code = code
		return pe
	}

	lower := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		pe.Code = CodeRateLimit
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		pe.Code = CodeTimeout
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "unavailable") ||
		strings.Contains(lower, "bad gateway") || strings.Contains(lower, "no such host"):
		pe.Code = CodeProviderUnavailable
	case strings.Contains(lower, "empty transcript") || strings.Contains(lower, "empty summary") || strings.Contains(lower, "empty completion"):
		pe.Code = CodeEmptyOutput
	case strings.Contains(lower, "bad request") || strings.Contains(lower, "invalid request"):
		pe.Code = CodeInvalidInput
	default:
		pe.Code = CodeProcessingError
	}

	// Provider clients know better than string matching whether a
	// failure is transient.
	var re retryableError
	if pe.Code == CodeProcessingError && errors.As(err, &re) && re.Retryable() {
		pe.Code = CodeProviderUnavailable
	}

	return pe
}

// httpStatus returns the status carried by err, from a statusCoder in the
// chain or a "status NNN" phrase in the message. Zero means none.
func httpStatus(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

func codeForStatus(status int) (Code, bool) {
	switch {
	case status == 429:
		return CodeRateLimit, true
	case status == 408 || status == 504:
		return CodeTimeout, true
	case status >= 500:
		return CodeProviderUnavailable, true
	case status >= 400:
		return CodeInvalidInput, true
	}
	return "", false
}
