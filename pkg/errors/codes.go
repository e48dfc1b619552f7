package errors

// CodeInfo contains metadata about a processing error code.
type CodeInfo struct {
	Code            Code
	Retryable       bool
	Description     string
	SuggestedAction string
}

// CodeRegistry maps processing error codes to their metadata.
var CodeRegistry = map[Code]CodeInfo{
	CodeTimeout: {
		Code:            CodeTimeout,
		Retryable:       true,
		Description:     "Provider call exceeded its time limit",
		SuggestedAction: "Check pipeline.stage_timeout and provider latency dashboards",
	},
	CodeRateLimit: {
		Code:            CodeRateLimit,
		Retryable:       true,
		Description:     "Provider rate limit exceeded",
		SuggestedAction: "Wait for the backoff window or raise the provider quota",
	},
	CodeProviderUnavailable: {
		Code:            CodeProviderUnavailable,
		Retryable:       true,
		Description:     "Transcription or LLM provider unreachable",
		SuggestedAction: "Check provider health, then run: meetwise meeting redrive <meeting-id>",
	},
	CodeRecordingUnavailable: {
		Code:            CodeRecordingUnavailable,
		Retryable:       true,
		Description:     "Recording reference not yet delivered by the call provider",
		SuggestedAction: "Confirm the provider sent recording-ready, then redrive the meeting",
	},
	CodeContextCancelled: {
		Code:            CodeContextCancelled,
		Retryable:       false,
		Description:     "Operation cancelled by shutdown or caller",
		SuggestedAction: "The job is recovered by the sweeper on the next start",
	},
	CodeEmptyOutput: {
		Code:            CodeEmptyOutput,
		Retryable:       false,
		Description:     "Provider returned an empty transcript or summary",
		SuggestedAction: "Inspect the recording: meetwise meeting get <meeting-id>",
	},
	CodeInvalidInput: {
		Code:            CodeInvalidInput,
		Retryable:       false,
		Description:     "Provider rejected the request as malformed",
		SuggestedAction: "Check the recording URL and model settings in the service config",
	},
	CodeProcessingError: {
		Code:            CodeProcessingError,
		Retryable:       false,
		Description:     "Unclassified processing error",
		SuggestedAction: "Check service logs filtered by job_id, then redrive the meeting",
	},
}

// IsRetryableCode returns true if the code represents a transient failure.
func IsRetryableCode(code Code) bool {
	if info, ok := CodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// SuggestedAction returns the operator hint for the code.
func SuggestedAction(code Code) string {
	if info, ok := CodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Check service logs filtered by job_id"
}

// Description returns the human-readable description of the code.
func Description(code Code) string {
	if info, ok := CodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
