package actions

import "time"

// CallResult is the outcome of one attempt to invoke a configured action.
// Exactly one of Response or ErrorMessage is meaningfully populated.
type CallResult struct {
	ID           string        `json:"id"`
	ActionID     string        `json:"action_id"`
	Success      bool          `json:"success"`
	Response     any           `json:"response,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorKind    ErrorKind     `json:"error_kind,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// RetryState accumulates failure bookkeeping for one configured action.
// It is owned exclusively by that action's coordinator and only written
// after an attempt has fully resolved.
type RetryState struct {
	ConsecutiveFailures int        `json:"consecutive_failures"`
	IsRetrying          bool       `json:"is_retrying"`
	LastErrorKind       ErrorKind  `json:"last_error_kind"`
	LastError           string     `json:"last_error,omitempty"`
	LastSuccessTime     *time.Time `json:"last_success_time,omitempty"`
}

// NextRetryDelay returns the backoff before the next attempt given the
// current failure count.
func (s RetryState) NextRetryDelay() time.Duration {
	return RetryDelay(s.ConsecutiveFailures)
}
