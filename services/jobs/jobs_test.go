package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/testutil"
)

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []dto.SyncAccountRequested
	err  error
}

func (p *recordingPublisher) PublishSyncJob(_ context.Context, message dto.SyncAccountRequested) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, message)
	return nil
}

// blockingSyncer holds every SyncAccount call until release is closed.
type blockingSyncer struct {
	started chan string
	release chan struct{}
	err     error
}

func newBlockingSyncer() *blockingSyncer {
	return &blockingSyncer{started: make(chan string, 8), release: make(chan struct{})}
}

func (s *blockingSyncer) SyncAccount(_ context.Context, accountID string, _ uint64) error {
	s.started <- accountID
	<-s.release
	return s.err
}

func (s *blockingSyncer) ResetCursor(context.Context, string) error { return nil }

func TestDedupKey(t *testing.T) {
	assert.Equal(t, "sync-account::gacc_1", DedupKey("gacc_1"))
}

func TestJobDedup_RejectsSecondAdmission(t *testing.T) {
	store := testutil.NewStore()
	dedup := NewJobDedup(testutil.Logger(), store.SyncJobs(), time.Minute)
	ctx := context.Background()

	admitted, err := dedup.TryAdmit(ctx, "gacc_1")
	require.NoError(t, err)
	assert.True(t, admitted)

	admitted, err = dedup.TryAdmit(ctx, "gacc_1")
	require.NoError(t, err)
	assert.False(t, admitted)

	admitted, err = dedup.TryAdmit(ctx, "gacc_2")
	require.NoError(t, err)
	assert.True(t, admitted, "other accounts are independent")
}

func TestJobDedup_ReleaseAllowsNextJob(t *testing.T) {
	store := testutil.NewStore()
	dedup := NewJobDedup(testutil.Logger(), store.SyncJobs(), time.Minute)
	ctx := context.Background()

	_, err := dedup.TryAdmit(ctx, "gacc_1")
	require.NoError(t, err)
	require.NoError(t, dedup.Release(ctx, "gacc_1"))

	admitted, err := dedup.TryAdmit(ctx, "gacc_1")
	require.NoError(t, err)
	assert.True(t, admitted)
}

func TestJobDedup_TakesOverExpiredLease(t *testing.T) {
	store := testutil.NewStore()
	dedup := NewJobDedup(testutil.Logger(), store.SyncJobs(), time.Minute)
	ctx := context.Background()

	_, err := dedup.TryAdmit(ctx, "gacc_1")
	require.NoError(t, err)

	store.Now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	admitted, err := dedup.TryAdmit(ctx, "gacc_1")
	require.NoError(t, err)
	assert.True(t, admitted)
}

func TestJobDedup_RequiresAccount(t *testing.T) {
	dedup := NewJobDedup(testutil.Logger(), testutil.NewStore().SyncJobs(), time.Minute)
	_, err := dedup.TryAdmit(context.Background(), "")
	assert.Error(t, err)
}

func TestJobQueue_PublishesOncePerAccount(t *testing.T) {
	store := testutil.NewStore()
	dedup := NewJobDedup(testutil.Logger(), store.SyncJobs(), time.Minute)
	publisher := &recordingPublisher{}
	queue := NewJobQueue(testutil.Logger(), dedup, publisher, nil)
	ctx := context.Background()

	queued, err := queue.RequestSync(ctx, "gacc_1", 300, enum.SyncReasonPush)
	require.NoError(t, err)
	assert.True(t, queued)

	queued, err = queue.RequestSync(ctx, "gacc_1", 310, enum.SyncReasonPush)
	require.NoError(t, err)
	assert.False(t, queued)

	require.Len(t, publisher.jobs, 1)
	assert.Equal(t, dto.SyncAccountRequested{
		AccountID:     "gacc_1",
		DedupKey:      "sync-account::gacc_1",
		HistoryIDHint: 300,
		Reason:        enum.SyncReasonPush,
	}, publisher.jobs[0])
}

func TestJobQueue_ReleasesWhenPublishFails(t *testing.T) {
	store := testutil.NewStore()
	dedup := NewJobDedup(testutil.Logger(), store.SyncJobs(), time.Minute)
	publisher := &recordingPublisher{err: errors.New("broker down")}
	queue := NewJobQueue(testutil.Logger(), dedup, publisher, nil)
	ctx := context.Background()

	queued, err := queue.RequestSync(ctx, "gacc_1", 0, enum.SyncReasonPeriodic)
	assert.Error(t, err)
	assert.False(t, queued)

	admitted, err := dedup.TryAdmit(ctx, "gacc_1")
	require.NoError(t, err)
	assert.True(t, admitted)
}

func TestJobQueue_RejectsForeignDedupKey(t *testing.T) {
	dedup := NewJobDedup(testutil.Logger(), testutil.NewStore().SyncJobs(), time.Minute)
	queue := NewJobQueue(testutil.Logger(), dedup, &recordingPublisher{}, nil)

	_, err := queue.Enqueue(context.Background(), KindSyncAccount,
		dto.SyncAccountRequested{AccountID: "gacc_1"}, DedupKey("gacc_2"))
	assert.Error(t, err)

	_, err = queue.Enqueue(context.Background(), "send_email",
		dto.SyncAccountRequested{AccountID: "gacc_1"}, "")
	assert.Error(t, err)
}

// A job for an account that is already running is not admitted; once the running job
// finishes the account can be queued again.
func TestLocalPool_OneJobPerAccountInFlight(t *testing.T) {
	store := testutil.NewStore()
	log := testutil.Logger()
	dedup := NewJobDedup(log, store.SyncJobs(), time.Minute)
	syncer := newBlockingSyncer()
	pool := NewLocalPool(log, NewExecutor(log, syncer, dedup), 2)
	queue := NewJobQueue(log, dedup, nil, pool)
	ctx := context.Background()

	pool.Start(ctx)
	defer pool.Stop()

	queued, err := queue.RequestSync(ctx, "gacc_1", 0, enum.SyncReasonManual)
	require.NoError(t, err)
	require.True(t, queued)

	select {
	case accountID := <-syncer.started:
		assert.Equal(t, "gacc_1", accountID)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start")
	}

	admitted, err := dedup.TryAdmit(ctx, "gacc_1")
	require.NoError(t, err)
	assert.False(t, admitted, "running job blocks a second admission")

	close(syncer.release)

	assert.Eventually(t, func() bool {
		admitted, err := dedup.TryAdmit(ctx, "gacc_1")
		return err == nil && admitted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecutor_ReleasesOnFailure(t *testing.T) {
	store := testutil.NewStore()
	log := testutil.Logger()
	dedup := NewJobDedup(log, store.SyncJobs(), time.Minute)
	syncer := newBlockingSyncer()
	syncer.err = errors.New("boom")
	close(syncer.release)
	ctx := context.Background()

	_, err := dedup.TryAdmit(ctx, "gacc_1")
	require.NoError(t, err)

	err = NewExecutor(log, syncer, dedup).Run(ctx, dto.SyncAccountRequested{AccountID: "gacc_1"})
	assert.Error(t, err)

	admitted, err := dedup.TryAdmit(ctx, "gacc_1")
	require.NoError(t, err)
	assert.True(t, admitted)
}

func TestLocalPool_SubmitAfterStop(t *testing.T) {
	log := testutil.Logger()
	pool := NewLocalPool(log, nil, 1)
	assert.ErrorIs(t, pool.Submit(dto.SyncAccountRequested{AccountID: "gacc_1"}), ErrPoolStopped)
}
