package services

import (
	"context"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/cache"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/services/attachments"
	"github.com/customeros/mailsync/services/events"
	"github.com/customeros/mailsync/services/gmail"
	"github.com/customeros/mailsync/services/jobs"
	"github.com/customeros/mailsync/services/labels"
	"github.com/customeros/mailsync/services/ratelimit"
	"github.com/customeros/mailsync/services/realtime"
	"github.com/customeros/mailsync/services/reconciler"
	"github.com/customeros/mailsync/services/storage"
	"github.com/customeros/mailsync/services/syncer"
	"github.com/customeros/mailsync/services/threads"
)

type Services struct {
	Cache             interfaces.TTLCache
	EventsService     *events.EventsService
	StorageService    interfaces.StorageService
	MailboxFactory    interfaces.MailboxAPIFactory
	RateLimitGate     interfaces.RateLimitGate
	AttachmentService interfaces.AttachmentService
	Reconciler        interfaces.MessageReconciler
	SyncService       interfaces.SyncService
	JobDedup          interfaces.JobDedup
	JobExecutor       *jobs.Executor
	LocalPool         *jobs.LocalPool
	JobQueue          *jobs.Queue
	LabelService      interfaces.LabelService
	WatchService      interfaces.WatchService
	ThreadService     interfaces.ThreadService
	RealtimeTrigger   interfaces.RealtimeTrigger

	closers []func() error
}

func InitServices(ctx context.Context, cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	services := &Services{}

	// cache, shared across pods when redis is configured
	if cfg.AppConfig.RedisURL != "" {
		redisCache, closeRedis, err := cache.NewRedisCache(ctx, cfg.AppConfig.RedisURL)
		if err != nil {
			return nil, err
		}
		services.Cache = redisCache
		services.closers = append(services.closers, closeRedis)
	} else {
		services.Cache = cache.NewMemoryCache(0, 0)
	}

	// events
	publisherConfig := &events.PublisherConfig{
		MessageTTL:          events.DefaultMessageTTL,
		MaxRetries:          events.DefaultMaxRetries,
		PublishTimeout:      events.DefaultPublishTimeout,
		ReconnectBackoff:    events.DefaultReconnectBackoff,
		MaxReconnectBackoff: events.DefaultMaxReconnectBackoff,
	}

	subscriberConfig := &events.SubscriberConfig{
		Prefetch:            cfg.SyncConfig.Workers,
		MaxRetries:          events.DefaultMaxRetries,
		ReconnectBackoff:    events.DefaultReconnectBackoff,
		MaxReconnectBackoff: events.DefaultMaxReconnectBackoff,
	}

	eventsService, err := events.NewEventsService(cfg.AppConfig.RabbitMQURL, log, publisherConfig, subscriberConfig)
	if err != nil {
		services.Close()
		return nil, err
	}
	services.EventsService = eventsService
	services.closers = append(services.closers, eventsService.Close)
	notifier := eventsService.Notifier(log)

	// attachments
	storageService, err := storage.NewR2StorageService(cfg.R2StorageConfig)
	if err != nil {
		services.Close()
		return nil, err
	}
	if storageService == nil {
		log.Warn("R2 storage not configured, attachment content will not be stored")
	}
	services.StorageService = storageService
	services.AttachmentService = attachments.NewAttachmentService(log, storageService, repos.EmailAttachmentRepository, cfg.R2StorageConfig.EmailAttachmentBucket)

	// sync engine
	services.MailboxFactory = gmail.NewClientFactory(cfg.GmailConfig, cfg.SyncConfig, log)
	services.RateLimitGate = ratelimit.NewRateLimitGate(services.Cache, log)
	services.Reconciler = reconciler.NewMessageReconciler(log, repos.GmailAccountRepository, repos.EmailRepository, repos.EmailThreadRepository, services.AttachmentService)
	services.SyncService = syncer.NewSyncService(
		log,
		cfg.SyncConfig,
		repos.GmailAccountRepository,
		repos.LabelSyncRepository,
		repos.EmailThreadRepository,
		services.MailboxFactory,
		services.RateLimitGate,
		services.Reconciler,
		notifier,
	)

	// jobs
	services.JobDedup = jobs.NewJobDedup(log, repos.SyncJobRepository, cfg.SyncConfig.JobLease)
	services.JobExecutor = jobs.NewExecutor(log, services.SyncService, services.JobDedup)
	if eventsService.Enabled() {
		services.JobQueue = jobs.NewJobQueue(log, services.JobDedup, eventsService.Publisher, nil)
	} else {
		log.Warn("RabbitMQ not configured, sync jobs run in process")
		services.LocalPool = jobs.NewLocalPool(log, services.JobExecutor, cfg.SyncConfig.Workers)
		services.JobQueue = jobs.NewJobQueue(log, services.JobDedup, nil, services.LocalPool)
	}

	// account management
	services.LabelService = labels.NewLabelService(log, repos.GmailAccountRepository, repos.GmailLabelRepository, services.MailboxFactory)
	services.WatchService = realtime.NewWatchService(log, cfg.GmailConfig, repos.GmailAccountRepository, services.MailboxFactory)
	services.ThreadService = threads.NewThreadService(log, repos.EmailThreadRepository, notifier)
	services.RealtimeTrigger = realtime.NewRealtimeTrigger(log, repos.GmailAccountRepository, services.JobQueue)

	return services, nil
}

// Close releases connections in reverse order of creation.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
	s.closers = nil
}
