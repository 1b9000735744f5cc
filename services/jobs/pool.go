package jobs

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/tracing"
)

var ErrPoolStopped = errors.New("sync worker pool is not running")
var ErrPoolFull = errors.New("sync worker pool is full")

// LocalPool runs sync jobs in-process when no broker is configured. Each job runs to
// completion on one worker.
type LocalPool struct {
	log      logger.Logger
	executor *Executor
	workers  int

	mu      sync.RWMutex
	jobs    chan dto.SyncAccountRequested
	running bool
	wg      sync.WaitGroup
}

func NewLocalPool(log logger.Logger, executor *Executor, workers int) *LocalPool {
	if workers < 1 {
		workers = 1
	}
	return &LocalPool{
		log:      log,
		executor: executor,
		workers:  workers,
	}
}

func (p *LocalPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.jobs = make(chan dto.SyncAccountRequested, p.workers*16)
	p.running = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, p.jobs)
	}
	p.log.Infof("Started %d sync workers", p.workers)
}

// Submit hands a job to the pool without blocking.
func (p *LocalPool) Submit(job dto.SyncAccountRequested) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrPoolFull
	}
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (p *LocalPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("Sync workers stopped")
}

func (p *LocalPool) work(ctx context.Context, jobs <-chan dto.SyncAccountRequested) {
	defer p.wg.Done()
	for job := range jobs {
		p.runOne(ctx, job)
	}
}

func (p *LocalPool) runOne(ctx context.Context, job dto.SyncAccountRequested) {
	defer tracing.RecoverAndLogToJaeger(p.log)

	deliveryID := uuid.New().String()
	p.log.With(zap.String("delivery_id", deliveryID), zap.String("account_id", job.AccountID)).
		Debugf("Running %s sync", job.Reason)

	// failures are logged by the executor, the next periodic run retries
	_ = p.executor.Run(ctx, job)
}
