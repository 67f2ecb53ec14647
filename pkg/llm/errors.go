package llm

import "fmt"

// ErrorKind categorizes model-call failures. Callers branch on the kind:
// credential and auth problems are critical for the pipeline, transient
// kinds are retried inside the caller and only surface once exhausted.
type ErrorKind string

const (
	KindMissingCredential ErrorKind = "missing_credential"
	KindRateLimit         ErrorKind = "rate_limit"
	KindQuotaExceeded     ErrorKind = "quota_exceeded"
	KindAuthError         ErrorKind = "auth_error"
	KindModelNotFound     ErrorKind = "model_not_found"
	KindNetworkError      ErrorKind = "network_error"
	KindServerError       ErrorKind = "server_error"
	KindUnknown           ErrorKind = "unknown"
)

// CallError is the only error type the caller surfaces. Raw transport
// errors never escape the llm package.
type CallError struct {
	Kind    ErrorKind
	Message string

	// RetryWithFallback reports whether retrying on a different model could
	// plausibly succeed. False for credential, auth, and unknown-model
	// failures, which repeat identically on any route.
	RetryWithFallback bool
}

func (e *CallError) Error() string {
	return fmt.Sprintf("llm call failed (%s): %s", e.Kind, e.Message)
}

// retryable reports whether a kind is worth another attempt.
func (k ErrorKind) retryable() bool {
	switch k {
	case KindRateLimit, KindServerError, KindNetworkError, KindUnknown:
		return true
	}
	return false
}
