package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/internal/testutil"
)

func TestGetEventType(t *testing.T) {
	assert.Equal(t, "SyncAccountRequested", GetEventType[dto.SyncAccountRequested]())
	assert.Equal(t, "ThreadUpdated", GetEventType[*dto.ThreadUpdated]())
}

func TestNewEventsService_DisabledWithoutURL(t *testing.T) {
	svc, err := NewEventsService("", testutil.Logger(), nil, nil)
	require.NoError(t, err)

	assert.False(t, svc.Enabled())
	assert.NoError(t, svc.Notifier(testutil.Logger()).ThreadUpdated(context.Background(), dto.ThreadUpdated{ThreadID: "thread_1"}))
	assert.NoError(t, svc.Close())
}

func TestDecodeEventData(t *testing.T) {
	event := &dto.Event{Event: dto.EventDetails{Data: map[string]interface{}{
		"accountId":     "gacc_1",
		"dedupKey":      "sync-account::gacc_1",
		"historyIdHint": float64(42),
		"reason":        "push",
	}}}

	job, err := DecodeEventData[dto.SyncAccountRequested](context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, "gacc_1", job.AccountID)
	assert.Equal(t, uint64(42), job.HistoryIDHint)
	assert.Equal(t, "push", job.Reason.String())

	_, err = DecodeEventData[dto.SyncAccountRequested](context.Background(), &dto.Event{Event: dto.EventDetails{Data: "nope"}})
	assert.Error(t, err)
}
