package cron

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	cronv3 "github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"k8s.io/client-go/kubernetes"

	"github.com/customeros/mailsync/config"
	cron_config "github.com/customeros/mailsync/internal/cron/config"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/testutil"
)

type mockKubernetesInterface struct {
	kubernetes.Interface
	mock.Mock
}

type mockRequester struct {
	mock.Mock
}

func (m *mockRequester) RequestSync(ctx context.Context, accountID string, hint uint64, reason enum.SyncReason) (bool, error) {
	args := m.Called(ctx, accountID, hint, reason)
	return args.Bool(0), args.Error(1)
}

type mockWatchService struct {
	mock.Mock
}

func (m *mockWatchService) Apply(ctx context.Context, account *models.GmailAccount) error {
	return m.Called(ctx, account).Error(0)
}

func (m *mockWatchService) Enable(ctx context.Context, account *models.GmailAccount) error {
	return m.Called(ctx, account).Error(0)
}

func (m *mockWatchService) Disable(ctx context.Context, account *models.GmailAccount) error {
	return m.Called(ctx, account).Error(0)
}

func (m *mockWatchService) RenewAll(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func testConfig() *config.Config {
	return &config.Config{
		AppConfig: &config.AppConfig{PodName: "mailsync-0"},
		CronConfig: &cron_config.Config{
			CronScheduleHeartbeat:    "0 * * * * *",
			CronScheduleSyncAccounts: "0 */5 * * * *",
			CronScheduleRenewWatches: "0 0 3 * * *",
		},
	}
}

func TestNewCronManager(t *testing.T) {
	cfg := testConfig()
	log := testutil.Logger()
	k8s := &mockKubernetesInterface{}

	cm := NewCronManager(cfg, log, k8s, nil, nil, nil)

	assert.NotNil(t, cm)
	assert.Equal(t, cfg, cm.cfg)
	assert.Equal(t, log, cm.log)
	assert.Equal(t, k8s, cm.k8s)
	assert.NotNil(t, cm.jobIDs)
}

func TestCronManager_RegisterJobs(t *testing.T) {
	cm := NewCronManager(testConfig(), testutil.Logger(), nil, nil, nil, nil)
	c := cronv3.New(cronv3.WithSeconds())

	cm.registerJobs(c)

	assert.Len(t, cm.jobIDs, 3)
	assert.Contains(t, cm.jobIDs, JobHeartbeat)
	assert.Contains(t, cm.jobIDs, JobSyncAccounts)
	assert.Contains(t, cm.jobIDs, JobRenewWatches)
	assert.Len(t, c.Entries(), 3)
}

func TestCronManager_RegisterJobsSkipsEmptySchedule(t *testing.T) {
	cfg := testConfig()
	cfg.CronConfig.CronScheduleRenewWatches = ""
	cm := NewCronManager(cfg, testutil.Logger(), nil, nil, nil, nil)

	cm.registerJobs(cronv3.New(cronv3.WithSeconds()))

	assert.NotContains(t, cm.jobIDs, JobRenewWatches)
	assert.Len(t, cm.jobIDs, 2)
}

func TestCronManager_SyncAccountsQueuesSyncableAccounts(t *testing.T) {
	store := testutil.NewStore()
	active := store.AddAccount(&models.GmailAccount{EmailAddress: "a@acme.com", SyncEnabled: true, RefreshToken: "rt"})
	busy := store.AddAccount(&models.GmailAccount{EmailAddress: "b@acme.com", SyncEnabled: true, RefreshToken: "rt"})
	store.AddAccount(&models.GmailAccount{EmailAddress: "c@acme.com", SyncEnabled: false, RefreshToken: "rt"})
	store.AddAccount(&models.GmailAccount{EmailAddress: "d@acme.com", SyncEnabled: true})

	requester := &mockRequester{}
	requester.On("RequestSync", mock.Anything, active.ID, uint64(0), enum.SyncReasonPeriodic).Return(true, nil).Once()
	requester.On("RequestSync", mock.Anything, busy.ID, uint64(0), enum.SyncReasonPeriodic).Return(false, nil).Once()

	cm := NewCronManager(testConfig(), testutil.Logger(), nil, store.Accounts(), requester, nil)
	cm.syncAccounts()

	requester.AssertExpectations(t)
	requester.AssertNumberOfCalls(t, "RequestSync", 2)
}

func TestCronManager_SyncAccountsContinuesAfterFailure(t *testing.T) {
	store := testutil.NewStore()
	store.AddAccount(&models.GmailAccount{EmailAddress: "a@acme.com", SyncEnabled: true, RefreshToken: "rt"})
	store.AddAccount(&models.GmailAccount{EmailAddress: "b@acme.com", SyncEnabled: true, RefreshToken: "rt"})

	requester := &mockRequester{}
	requester.On("RequestSync", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("db down"))

	cm := NewCronManager(testConfig(), testutil.Logger(), nil, store.Accounts(), requester, nil)
	cm.syncAccounts()

	requester.AssertNumberOfCalls(t, "RequestSync", 2)
}

func TestCronManager_RenewWatches(t *testing.T) {
	watches := &mockWatchService{}
	watches.On("RenewAll", mock.Anything).Return(nil).Once()

	cm := NewCronManager(testConfig(), testutil.Logger(), nil, nil, nil, watches)
	cm.renewWatches()

	watches.AssertExpectations(t)
}

func TestCronManager_Stop(t *testing.T) {
	cm := NewCronManager(testConfig(), testutil.Logger(), &mockKubernetesInterface{}, nil, nil, nil)

	mockCron := cronv3.New()
	mockCron.Start()
	cm.cron = mockCron

	cm.Stop()
	cm.Stop()

	select {
	case <-cm.stopCh:
	default:
		t.Error("Stop channel was not closed")
	}
}
