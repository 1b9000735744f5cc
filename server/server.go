package server

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/customeros/mailsync/api"
	"github.com/customeros/mailsync/api/handlers"
	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/internal/cron"
	"github.com/customeros/mailsync/internal/listeners"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/services"
	"github.com/customeros/mailsync/services/events"
	"github.com/customeros/mailsync/services/realtime"
)

const shutdownTimeout = 15 * time.Second

type Server struct {
	config       *config.Config
	log          logger.Logger
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	repositories *repository.Repositories
	cronManager  *cron.CronManager
	receiver     *realtime.Receiver
	tracerCloser io.Closer
}

func NewServer(cfg *config.Config, mailsyncDB *gorm.DB) (*Server, error) {
	// Initialize logger
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	// Initialize tracing
	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		log.Fatalf("Could not initialize jaeger tracer: %s", err.Error())
	}
	opentracing.SetGlobalTracer(tracer)

	// Initialize repositories
	repos := repository.InitRepositories(mailsyncDB)

	// Initialize services
	svcs, err := services.InitServices(context.Background(), cfg, appLogger, repos)
	if err != nil {
		return nil, err
	}

	cronManager := cron.NewCronManager(
		cfg,
		appLogger,
		inClusterClient(appLogger),
		repos.GmailAccountRepository,
		svcs.JobQueue,
		svcs.WatchService,
	)

	// Initialize Gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	return &Server{
		config:       cfg,
		log:          appLogger,
		router:       router,
		services:     svcs,
		repositories: repos,
		cronManager:  cronManager,
		tracerCloser: closer,
		httpServer: &http.Server{
			Addr:              ":" + cfg.AppConfig.APIPort,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// inClusterClient returns nil outside kubernetes, which puts cron in local mode.
func inClusterClient(log logger.Logger) kubernetes.Interface {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		log.Info("Not running in kubernetes, leader election disabled")
		return nil
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		log.Warnf("Could not create kubernetes client: %v", err)
		return nil
	}
	return client
}

func (s *Server) Initialize(ctx context.Context) error {
	// sync job consumers
	if s.services.EventsService.Enabled() {
		subscriber := s.services.EventsService.Subscriber
		subscriber.RegisterListener(listeners.NewSyncAccountListener(s.log, s.services.JobExecutor))
		if err := subscriber.ListenQueue(events.QueueSyncJobs); err != nil {
			return err
		}
	} else {
		s.services.LocalPool.Start(ctx)
	}

	// gmail push notifications by pull subscription
	if s.config.GmailConfig.PubSubSubscription != "" {
		receiver, err := realtime.NewReceiver(ctx, s.log, s.config.GmailConfig, s.services.RealtimeTrigger)
		if err != nil {
			return err
		}
		s.receiver = receiver
	}

	// Setup API routes
	apiHandlers := handlers.InitHandlers(handlers.Dependencies{
		Accounts:    s.repositories.GmailAccountRepository,
		Attachments: s.repositories.EmailAttachmentRepository,
		Storage:     s.services.StorageService,
		Requester:   s.services.JobQueue,
		Sync:        s.services.SyncService,
		Labels:      s.services.LabelService,
		Watches:     s.services.WatchService,
		Threads:     s.services.ThreadService,
		Trigger:     s.services.RealtimeTrigger,
	})
	api.RegisterRoutes(s.router, apiHandlers, api.RouteConfig{
		APIKey:    s.config.AppConfig.APIKey,
		PushToken: s.config.GmailConfig.PubSubPushToken,
	})

	return nil
}

func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Initialize(ctx); err != nil {
		return err
	}

	if err := s.cronManager.Start(s.config.AppConfig.PodName, s.config.AppConfig.Namespace); err != nil {
		return err
	}

	if s.receiver != nil {
		go func() {
			defer tracing.RecoverAndLogToJaeger(s.log)
			if err := s.receiver.Run(ctx); err != nil {
				s.log.Errorf("Pub/Sub receiver stopped: %v", err)
			}
		}()
		s.log.Infof("Receiving gmail notifications from %s", s.config.GmailConfig.PubSubSubscription)
	}

	go func() {
		defer tracing.RecoverAndLogToJaeger(s.log)
		s.log.Infof("Starting HTTP server on :%s", s.config.AppConfig.APIPort)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("HTTP server error: %v", err)
		}
	}()
	s.log.Info("Mailsync is now running")

	return s.waitForShutdown(cancel)
}

func (s *Server) waitForShutdown(cancel context.CancelFunc) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	s.log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Errorf("HTTP server shutdown error: %v", err)
	}

	s.cronManager.Stop()

	// cancels in-flight syncs and the pubsub receiver
	cancel()
	if s.receiver != nil {
		if err := s.receiver.Close(); err != nil {
			s.log.Warnf("Pub/Sub client close error: %v", err)
		}
	}
	if s.services.LocalPool != nil {
		s.services.LocalPool.Stop()
	}

	s.services.Close()

	if s.tracerCloser != nil {
		_ = s.tracerCloser.Close()
	}

	s.log.Info("Shutdown complete")
	return nil
}
