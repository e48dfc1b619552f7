package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsHelpers(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   func(error) bool
		want bool
	}{
		{"not found direct", ErrNotFound, IsNotFound, true},
		{"not found wrapped", fmt.Errorf("get meeting m1: %w", ErrNotFound), IsNotFound, true},
		{"not found wrapped twice", fmt.Errorf("svc: %w", fmt.Errorf("repo: %w", ErrNotFound)), IsNotFound, true},
		{"not found other", ErrConflict, IsNotFound, false},
		{"nil", nil, IsNotFound, false},
		{"conflict", fmt.Errorf("cas: %w", ErrConflict), IsConflict, true},
		{"duplicate", ErrDuplicateEvent, IsDuplicateEvent, true},
		{"not ready", fmt.Errorf("ask: %w", ErrNotReady), IsNotReady, true},
		{"invalid transition", ErrInvalidTransition, IsInvalidTransition, true},
		{"validation", fmt.Errorf("bad: %w", ErrValidation), IsValidation, true},
		{"already exists", ErrAlreadyExists, IsAlreadyExists, true},
		{"transient", ErrTransientFailure, IsTransient, true},
		{"permanent", ErrPermanentFailure, IsPermanent, true},
		{"permanent is not transient", ErrPermanentFailure, IsTransient, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.is(tt.err))
		})
	}
}

type flaky struct{ retry bool }

func (f flaky) Error() string   { return "provider said no" }
func (f flaky) Retryable() bool { return f.retry }

type statusErr int

func (e statusErr) Error() string   { return "provider rejected the call" }
func (e statusErr) StatusCode() int { return int(e) }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      Code
		transient bool
	}{
		{"deadline", context.DeadlineExceeded, CodeTimeout, true},
		{"cancelled", context.Canceled, CodeContextCancelled, false},
		{"rate limit", errors.New("HTTP 429 Too Many Requests"), CodeRateLimit, true},
		{"timeout text", errors.New("read: i/o timeout"), CodeTimeout, true},
		{"refused", errors.New("dial tcp: connection refused"), CodeProviderUnavailable, true},
		{"503", errors.New("upstream returned status 503"), CodeProviderUnavailable, true},
		{"500", errors.New("HTTP 500 from provider"), CodeProviderUnavailable, true},
		{"gateway timeout", errors.New("status: 504"), CodeTimeout, true},
		{"empty", errors.New("empty transcript"), CodeEmptyOutput, false},
		{"bad request", errors.New("status 400: invalid request"), CodeInvalidInput, false},
		{"unknown", errors.New("boom"), CodeProcessingError, false},
		{"number in id", errors.New("meeting m-400 has no agent"), CodeProcessingError, false},
		{"byte count", errors.New("short read: got 4003 of 5029 bytes"), CodeProcessingError, false},
		{"status type", statusErr(400), CodeInvalidInput, false},
		{"status type 503", statusErr(503), CodeProviderUnavailable, true},
		{"retryable hint", flaky{retry: true}, CodeProviderUnavailable, true},
		{"non retryable hint", flaky{retry: false}, CodeProcessingError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := ClassifyError(tt.err, "transcribing")
			assert.Equal(t, tt.code, pe.Code)
			assert.Equal(t, "transcribing", pe.Stage)
			assert.Equal(t, tt.transient, errors.Is(pe, ErrTransientFailure))
			assert.Equal(t, !tt.transient, errors.Is(pe, ErrPermanentFailure))
			assert.ErrorIs(t, pe, tt.err)
		})
	}
}

func TestClassifyError_Nil(t *testing.T) {
	assert.Nil(t, ClassifyError(nil, "summarizing"))
}

func TestClassifyError_AlreadyClassified(t *testing.T) {
	orig := NewProcessingError(CodeRateLimit, "", "slow down", nil)
	wrapped := fmt.Errorf("call: %w", orig)

	pe := ClassifyError(wrapped, "summarizing")
	assert.Equal(t, CodeRateLimit, pe.Code)
	assert.Equal(t, "summarizing", pe.Stage)
	assert.Empty(t, orig.Stage, "caller's error must not be modified")

	staged := NewProcessingError(CodeTimeout, "transcribing", "slow", nil)
	assert.Same(t, staged, ClassifyError(staged, "summarizing"))
	assert.Same(t, orig, ClassifyError(orig, ""))
}

func TestProcessingError_Error(t *testing.T) {
	pe := NewProcessingError(CodeTimeout, "transcribing", "operation timed out", nil)
	assert.Equal(t, "timeout: transcribing: operation timed out", pe.Error())

	pe.Stage = ""
	assert.Equal(t, "timeout: operation timed out", pe.Error())
}
