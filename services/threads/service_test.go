package threads

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/internal/enum"
	mserrors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/testutil"
)

func setup(t *testing.T) (*testutil.Store, *testutil.RecordingNotifier, *models.EmailThread, *threadService) {
	t.Helper()
	store := testutil.NewStore()
	notifier := &testutil.RecordingNotifier{}
	thread := &models.EmailThread{AccountID: "gacc_1", RemoteThreadID: "r-1", Subject: "Plan"}
	_, err := store.Threads().Create(context.Background(), thread)
	require.NoError(t, err)
	svc := NewThreadService(testutil.Logger(), store.Threads(), notifier).(*threadService)
	return store, notifier, thread, svc
}

func TestLink_SetsReferenceAndStatus(t *testing.T) {
	_, notifier, thread, svc := setup(t)

	linked, err := svc.Link(context.Background(), thread.ID, "Opportunity", "opp-1")
	require.NoError(t, err)

	assert.Equal(t, enum.ThreadStatusLinked, linked.Status)
	assert.Equal(t, "Opportunity", linked.ReferenceType)
	assert.Equal(t, []dto.ThreadUpdated{
		{AccountID: "gacc_1", ThreadID: thread.ID, ReferenceType: "Opportunity", ReferenceID: "opp-1"},
	}, notifier.All())
}

func TestLink_MovingReferenceNotifiesBothDocuments(t *testing.T) {
	_, notifier, thread, svc := setup(t)
	ctx := context.Background()

	_, err := svc.Link(ctx, thread.ID, "Opportunity", "opp-1")
	require.NoError(t, err)
	_, err = svc.Link(ctx, thread.ID, "Ticket", "t-9")
	require.NoError(t, err)

	events := notifier.All()
	require.Len(t, events, 3)
	assert.Equal(t, "opp-1", events[1].ReferenceID)
	assert.Equal(t, "t-9", events[2].ReferenceID)
}

func TestLink_SameReferenceIsNoop(t *testing.T) {
	_, notifier, thread, svc := setup(t)
	ctx := context.Background()

	_, err := svc.Link(ctx, thread.ID, "Opportunity", "opp-1")
	require.NoError(t, err)
	_, err = svc.Link(ctx, thread.ID, "Opportunity", "opp-1")
	require.NoError(t, err)

	assert.Len(t, notifier.All(), 1)
}

func TestLink_Validation(t *testing.T) {
	_, _, thread, svc := setup(t)

	_, err := svc.Link(context.Background(), thread.ID, "", "opp-1")
	assert.Error(t, err)

	_, err = svc.Link(context.Background(), "thread_missing", "Opportunity", "opp-1")
	assert.ErrorIs(t, err, mserrors.ErrThreadNotFound)
}

func TestUnlink_ReopensThread(t *testing.T) {
	store, notifier, thread, svc := setup(t)
	ctx := context.Background()

	_, err := svc.Link(ctx, thread.ID, "Opportunity", "opp-1")
	require.NoError(t, err)
	unlinked, err := svc.Unlink(ctx, thread.ID)
	require.NoError(t, err)

	assert.Equal(t, enum.ThreadStatusOpen, unlinked.Status)
	assert.False(t, unlinked.HasReference())
	require.Len(t, notifier.All(), 2)
	assert.Equal(t, "opp-1", notifier.All()[1].ReferenceID, "the old document learns the thread left")

	linked, err := store.Threads().ListByReference(ctx, "Opportunity", "opp-1")
	require.NoError(t, err)
	assert.Empty(t, linked)
}

func TestListByReference(t *testing.T) {
	store, _, thread, svc := setup(t)
	ctx := context.Background()
	other := &models.EmailThread{AccountID: "gacc_1", RemoteThreadID: "r-2"}
	_, err := store.Threads().Create(ctx, other)
	require.NoError(t, err)

	_, err = svc.Link(ctx, thread.ID, "Opportunity", "opp-1")
	require.NoError(t, err)
	_, err = svc.Link(ctx, other.ID, "Opportunity", "opp-1")
	require.NoError(t, err)

	threads, err := svc.ListByReference(ctx, "Opportunity", "opp-1")
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, thread.ID, threads[0].ID)

	_, err = svc.ListByReference(ctx, "", "")
	assert.Error(t, err)
}
