package gmail

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/dto"
	mserrors "github.com/customeros/mailsync/internal/errors"
)

type stubAPI struct {
	mu       sync.Mutex
	messages map[string]*dto.RawMessage
	errs     map[string]error
	calls    []string
}

func (s *stubAPI) GetRawMessage(_ context.Context, id string) (*dto.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, id)
	if err, ok := s.errs[id]; ok {
		return nil, err
	}
	if msg, ok := s.messages[id]; ok {
		return msg, nil
	}
	return nil, errors.Wrap(mserrors.ErrItemNotFound, id)
}

func (s *stubAPI) GetThread(_ context.Context, id string) (*dto.ThreadPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, id)
	if err, ok := s.errs[id]; ok {
		return nil, err
	}
	return &dto.ThreadPayload{ID: id}, nil
}

func (s *stubAPI) ListThreadIDs(context.Context, string, int) ([]string, error) { return nil, nil }
func (s *stubAPI) ListHistory(context.Context, uint64, string) (*dto.HistoryFeed, error) {
	return nil, nil
}
func (s *stubAPI) ListLabels(context.Context) ([]dto.RemoteLabel, error) { return nil, nil }
func (s *stubAPI) Watch(context.Context, string, []string) (*dto.WatchResponse, error) {
	return nil, nil
}
func (s *stubAPI) Stop(context.Context) error { return nil }

func TestBatchClient_FetchMessagesRaw_PerItemErrors(t *testing.T) {
	api := &stubAPI{
		messages: map[string]*dto.RawMessage{
			"m1": {ID: "m1", HistoryID: 10},
			"m3": {ID: "m3", HistoryID: 30},
		},
		errs: map[string]error{
			"m4": errors.Wrap(mserrors.ErrCorruptItem, "m4"),
		},
	}
	client := NewBatchClient(api, 2, 2)

	results, itemErrs, err := client.FetchMessagesRaw(context.Background(), []string{"m1", "m2", "m3", "m4"})
	require.NoError(t, err)

	assert.Len(t, results, 2)
	assert.Contains(t, results, "m1")
	assert.Contains(t, results, "m3")
	assert.NotContains(t, results, "m4")
	require.Len(t, itemErrs, 2)
	assert.ErrorIs(t, itemErrs["m2"], mserrors.ErrItemNotFound)
	assert.ErrorIs(t, itemErrs["m4"], mserrors.ErrCorruptItem)
}

func TestBatchClient_RateLimitFailsWholeCall(t *testing.T) {
	api := &stubAPI{
		messages: map[string]*dto.RawMessage{"m1": {ID: "m1"}},
		errs: map[string]error{
			"m2": &mserrors.RateLimitedError{RetryAfterSeconds: 30},
		},
	}
	client := NewBatchClient(api, 1, 1)

	results, itemErrs, err := client.FetchMessagesRaw(context.Background(), []string{"m1", "m2", "m3"})
	require.Error(t, err)

	rl, ok := mserrors.AsRateLimited(err)
	require.True(t, ok)
	assert.Equal(t, 30, rl.RetryAfterSeconds)
	assert.Nil(t, results)
	assert.Nil(t, itemErrs)
	assert.NotContains(t, api.calls, "m3")
}

func TestBatchClient_AllTransportFailuresIsTopLevel(t *testing.T) {
	boom := errors.New("connection reset")
	api := &stubAPI{errs: map[string]error{"t1": boom, "t2": boom}}
	client := NewBatchClient(api, 50, 4)

	_, _, err := client.FetchThreadsByIDs(context.Background(), []string{"t1", "t2"})
	require.ErrorIs(t, err, boom)
}

func TestBatchClient_PartialTransportFailuresArePerItem(t *testing.T) {
	boom := errors.New("connection reset")
	api := &stubAPI{errs: map[string]error{"t2": boom}}
	client := NewBatchClient(api, 50, 4)

	results, itemErrs, err := client.FetchThreadsByIDs(context.Background(), []string{"t1", "t2"})
	require.NoError(t, err)
	assert.Contains(t, results, "t1")
	assert.True(t, IsTransient(itemErrs["t2"]))
}

func TestBatchClient_CircuitOpenIsTopLevel(t *testing.T) {
	api := &stubAPI{errs: map[string]error{"t1": errors.Wrap(mserrors.ErrCircuitOpen, "get thread")}}
	client := NewBatchClient(api, 50, 4)

	_, _, err := client.FetchThreadsByIDs(context.Background(), []string{"t1", "t2"})
	require.ErrorIs(t, err, mserrors.ErrCircuitOpen)
}

func TestBatchClient_DeduplicatesIDs(t *testing.T) {
	api := &stubAPI{messages: map[string]*dto.RawMessage{"m1": {ID: "m1"}}}
	client := NewBatchClient(api, 50, 4)

	results, _, err := client.FetchMessagesRaw(context.Background(), []string{"m1", "m1"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Len(t, api.calls, 1)
}
