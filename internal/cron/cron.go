package cron

import (
	"context"
	"sync"
	"time"

	cronv3 "github.com/robfig/cron/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/tracing"
)

// CONSTANTS
const (
	// GroupGmail is the group for jobs that talk to gmail accounts
	GroupGmail = "gmail"

	JobHeartbeat    = "heartbeat"
	JobSyncAccounts = "sync_accounts"
	JobRenewWatches = "renew_watches"
	leaderLockName  = "mailsync-cron-leader"
	localPodName    = "local"

	// LeaseDuration is how long a lease lasts before needing renewal
	LeaseDuration = 15 * time.Second
	// RenewDeadline is how long a leader has to renew its lease
	RenewDeadline = 10 * time.Second
	// RetryPeriod is how long to wait between leadership attempts
	RetryPeriod = 2 * time.Second
)

// LOCK MANAGEMENT
var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupGmail: new(sync.Mutex),
	},
}

type CronManager struct {
	cfg       *config.Config
	log       logger.Logger
	cron      *cronv3.Cron
	k8s       kubernetes.Interface
	stopCh    chan struct{}
	stopOnce  sync.Once
	jobIDs    map[string]cronv3.EntryID
	accounts  interfaces.GmailAccountRepository
	requester interfaces.SyncJobRequester
	watches   interfaces.WatchService
}

func NewCronManager(cfg *config.Config, log logger.Logger, k8s kubernetes.Interface, accounts interfaces.GmailAccountRepository, requester interfaces.SyncJobRequester, watches interfaces.WatchService) *CronManager {
	return &CronManager{
		cfg:       cfg,
		log:       log,
		k8s:       k8s,
		stopCh:    make(chan struct{}),
		jobIDs:    make(map[string]cronv3.EntryID),
		accounts:  accounts,
		requester: requester,
		watches:   watches,
	}
}

// Start initializes and starts the cron manager with leader election, so only one pod
// drives the periodic jobs. Without a k8s client it starts in local mode.
func (cm *CronManager) Start(podName, namespace string) error {
	if cm.k8s == nil {
		cm.log.Info("Starting cron manager in local mode")
		cm.StartCron()
		return nil
	}
	if podName == "" {
		podName = localPodName
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      leaderLockName,
			Namespace: namespace,
		},
		Client: cm.k8s.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: podName,
		},
	}

	errCh := make(chan error, 1)

	go func() {
		defer tracing.RecoverAndLogToJaeger(cm.log)

		le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
			Lock:            lock,
			ReleaseOnCancel: true,
			LeaseDuration:   LeaseDuration,
			RenewDeadline:   RenewDeadline,
			RetryPeriod:     RetryPeriod,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(ctx context.Context) {
					cm.StartCron()
				},
				OnStoppedLeading: func() {
					cm.log.Info("Leader lost - stopping crons")
					cm.Stop()
				},
				OnNewLeader: func(identity string) {
					cm.log.Infof("New leader elected: %s", identity)
				},
			},
		})
		if err != nil {
			errCh <- err
			return
		}

		le.Run(context.Background())
	}()

	// Wait briefly to see if leader election fails immediately
	select {
	case err := <-errCh:
		cm.log.Warnf("Leader election failed, falling back to local mode: %v", err)
		cm.StartCron()
	case <-time.After(5 * time.Second):
	}

	return nil
}

// Stop gracefully stops the cron manager, waiting for running jobs.
func (cm *CronManager) Stop() {
	cm.stopOnce.Do(func() {
		if cm.cron != nil {
			cm.log.Info("Stopping cron manager")
			ctx := cm.cron.Stop()
			<-ctx.Done()
		}
		close(cm.stopCh)
	})
}

// registerJobs adds all cron jobs to the scheduler. An empty schedule disables a job.
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	cronConfig := cm.cfg.CronConfig

	podName := cm.cfg.AppConfig.PodName
	if podName == "" {
		podName = localPodName
	}
	cm.addJob(c, JobHeartbeat, cronConfig.CronScheduleHeartbeat, "", func() {
		cm.log.Infof("Cron heartbeat from pod: %s", podName)
	})
	cm.addJob(c, JobSyncAccounts, cronConfig.CronScheduleSyncAccounts, GroupGmail, cm.syncAccounts)
	cm.addJob(c, JobRenewWatches, cronConfig.CronScheduleRenewWatches, GroupGmail, cm.renewWatches)
}

func (cm *CronManager) addJob(c *cronv3.Cron, name, schedule, group string, fn func()) {
	if schedule == "" {
		return
	}
	id, err := c.AddFunc(schedule, func() {
		defer tracing.RecoverAndLogToJaeger(cm.log)
		if group != "" {
			jobLocks.locks[group].Lock()
			defer jobLocks.locks[group].Unlock()
		}
		fn()
	})
	if err != nil {
		cm.log.Fatalf("Could not add %s cron job: %v", name, err)
	}
	cm.jobIDs[name] = id
	cm.log.Infof("Registered %s job with schedule: %s", name, schedule)
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

// syncAccounts queues an incremental sync for every account with sync enabled and a
// credential. Accounts with a job in flight are skipped by admission.
func (cm *CronManager) syncAccounts() {
	span, ctx := tracing.StartTracerSpan(context.Background(), "CronManager.syncAccounts")
	defer span.Finish()
	tracing.SetDefaultCronJobSpanTags(ctx, span)

	accounts, err := cm.accounts.ListSyncable(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to list syncable accounts: %v", err)
		return
	}

	queued := 0
	for _, account := range accounts {
		ok, err := cm.requester.RequestSync(ctx, account.ID, 0, enum.SyncReasonPeriodic)
		if err != nil {
			cm.log.Errorf("Failed to queue periodic sync for %s: %v", account.ID, err)
			continue
		}
		if ok {
			queued++
		}
	}
	span.LogKV("accounts", len(accounts), "queued", queued)
	cm.log.Infof("Periodic sync queued %d of %d accounts", queued, len(accounts))
}

func (cm *CronManager) renewWatches() {
	span, ctx := tracing.StartTracerSpan(context.Background(), "CronManager.renewWatches")
	defer span.Finish()
	tracing.SetDefaultCronJobSpanTags(ctx, span)

	if err := cm.watches.RenewAll(ctx); err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Watch renewal finished with errors: %v", err)
		return
	}
	cm.log.Info("Successfully renewed gmail watches")
}
