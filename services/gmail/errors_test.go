package gmail

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	mserrors "github.com/customeros/mailsync/internal/errors"
)

func TestClassifyError_TooManyRequestsUsesRetryAfter(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "17")
	err := classifyError(&googleapi.Error{Code: 429, Header: header}, 60, "get message")

	rl, ok := mserrors.AsRateLimited(err)
	require.True(t, ok)
	assert.Equal(t, 17, rl.RetryAfterSeconds)
}

func TestClassifyError_ForbiddenRateLimitDefaultsRetry(t *testing.T) {
	err := classifyError(&googleapi.Error{
		Code:   403,
		Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}},
	}, 60, "get message")

	rl, ok := mserrors.AsRateLimited(err)
	require.True(t, ok)
	assert.Equal(t, 60, rl.RetryAfterSeconds)
}

func TestClassifyError_Mapping(t *testing.T) {
	assert.ErrorIs(t, classifyError(&googleapi.Error{Code: 404}, 60, "op"), mserrors.ErrItemNotFound)
	assert.ErrorIs(t, classifyError(&googleapi.Error{Code: 401}, 60, "op"), mserrors.ErrMissingCredential)
	assert.ErrorIs(t, classifyError(gobreaker.ErrOpenState, 60, "op"), mserrors.ErrCircuitOpen)

	forbidden := classifyError(&googleapi.Error{Code: 403, Message: "insufficient permissions"}, 60, "op")
	_, isRateLimit := mserrors.AsRateLimited(forbidden)
	assert.False(t, isRateLimit)

	plain := errors.New("dial tcp: timeout")
	assert.ErrorIs(t, classifyError(plain, 60, "op"), plain)
	assert.Nil(t, classifyError(nil, 60, "op"))
}

func TestIsServerError(t *testing.T) {
	assert.True(t, isServerError(&googleapi.Error{Code: 503}))
	assert.False(t, isServerError(&googleapi.Error{Code: 429}))
	assert.False(t, isServerError(errors.New("x")))
}

func TestDecodeRaw(t *testing.T) {
	raw, err := decodeRaw("SGVsbG8")
	require.NoError(t, err)
	assert.Equal(t, "Hello", string(raw))

	raw, err = decodeRaw("SGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "Hello", string(raw))

	_, err = decodeRaw("")
	assert.Error(t, err)
}
