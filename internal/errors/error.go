package errors

import (
	"strconv"

	"github.com/pkg/errors"
)

var (
	// account level errors, abort the whole account run and are not retried automatically
	ErrAccountNotFound      = errors.New("gmail account not found")
	ErrSyncDisabled         = errors.New("sync is disabled for gmail account")
	ErrMissingCredential    = errors.New("gmail account has no refresh credential")
	ErrMissingConfiguration = errors.New("gmail integration is not configured")

	// label level errors
	ErrCursorExpired = errors.New("history cursor expired upstream")
	ErrCircuitOpen   = errors.New("gmail api circuit breaker is open")

	// item level errors
	ErrItemNotFound     = errors.New("remote item not found")
	ErrCorruptItem      = errors.New("remote item could not be decoded")
	ErrDuplicateMessage = errors.New("message already synced")

	// context errors
	ErrAccountNotSet = errors.New("account not set on context")

	ErrThreadNotFound    = errors.New("thread not found")
	ErrReferenceRequired = errors.New("reference type and id are required")
)

// IsAccountLevel reports whether err must abort the whole account run.
func IsAccountLevel(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrSyncDisabled) ||
		errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrMissingConfiguration)
}

// RateLimitedError is returned when the provider throttles a whole batch round trip.
// Only the current chunk is aborted; the caller arms a cooldown and stops early.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return "gmail api rate limited, retry after " + strconv.Itoa(e.RetryAfterSeconds) + "s"
}

func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
