package actions

import "strings"

// ErrorKind classifies a failed service call for retry purposes.
type ErrorKind string

const (
	// ErrorKindTemporary errors are retried with exponential backoff.
	ErrorKindTemporary ErrorKind = "temporary"
	// ErrorKindPermanent errors need user intervention and are not retried.
	ErrorKindPermanent ErrorKind = "permanent"
	// ErrorKindUnknown is the default and is treated like temporary.
	ErrorKindUnknown ErrorKind = "unknown"
)

// Keyword tables are kept as data rather than inline conditions so tests can
// cover them and deployments can reason about classification behavior.
// Permanent indicators are checked first: a message matching both lists is
// permanent.
var permanentIndicators = []string{
	"not found",
	"does not exist",
	"invalid",
	"unauthorized",
	"forbidden",
	"not supported",
	"permission denied",
	"authentication failed",
	"invalid api key",
	"missing required",
}

var temporaryIndicators = []string{
	"timeout",
	"timed out",
	"temporarily",
	"unavailable",
	"connection",
	"network",
	"busy",
	"rate limit",
	"too many requests",
	"server error",
	"503",
	"502",
	"504",
	"retry",
}

// Classify buckets a failure message as temporary, permanent, or unknown
// using case-insensitive substring matching.
func Classify(errText string) ErrorKind {
	lower := strings.ToLower(errText)

	for _, indicator := range permanentIndicators {
		if strings.Contains(lower, indicator) {
			return ErrorKindPermanent
		}
	}

	for _, indicator := range temporaryIndicators {
		if strings.Contains(lower, indicator) {
			return ErrorKindTemporary
		}
	}

	return ErrorKindUnknown
}

// Retryable reports whether a failure of this kind should be retried.
// Unknown errs on the side of retrying.
func (k ErrorKind) Retryable() bool {
	return k != ErrorKindPermanent
}
