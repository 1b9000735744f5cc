package gmail

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	mserrors "github.com/customeros/mailsync/internal/errors"
)

var rateLimitReasons = []string{"rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded"}

// classifyError maps a Gmail or transport failure onto the sync error taxonomy. Anything
// it does not recognize is returned wrapped and counts as a transport error.
func classifyError(err error, defaultRetryAfter int, op string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Wrap(mserrors.ErrCircuitOpen, op)
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return errors.Wrapf(mserrors.ErrMissingCredential, "%s: token refresh failed: %s", op, retrieveErr.Error())
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests,
			apiErr.Code == http.StatusForbidden && hasRateLimitReason(apiErr):
			return &mserrors.RateLimitedError{RetryAfterSeconds: retryAfter(apiErr.Header, defaultRetryAfter)}
		case apiErr.Code == http.StatusUnauthorized:
			return errors.Wrap(mserrors.ErrMissingCredential, op)
		case apiErr.Code == http.StatusNotFound, apiErr.Code == http.StatusGone:
			return errors.Wrap(mserrors.ErrItemNotFound, op)
		}
	}

	return errors.Wrap(err, op)
}

func hasRateLimitReason(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		for _, reason := range rateLimitReasons {
			if item.Reason == reason {
				return true
			}
		}
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "rate limit")
}

func retryAfter(header http.Header, defaultSeconds int) int {
	if header != nil {
		if value := header.Get("Retry-After"); value != "" {
			if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
				return seconds
			}
		}
	}
	if defaultSeconds <= 0 {
		return 60
	}
	return defaultSeconds
}

// isServerError decides what counts against the circuit breaker: only 5xx responses.
func isServerError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 500
	}
	return false
}
