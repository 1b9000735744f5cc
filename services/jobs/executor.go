package jobs

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/tracing"
)

// Executor runs one admitted sync job and always releases its admission afterwards.
// It is shared by the RabbitMQ listener and the in-process pool.
type Executor struct {
	log    logger.Logger
	syncer interfaces.SyncService
	dedup  interfaces.JobDedup
}

func NewExecutor(log logger.Logger, syncer interfaces.SyncService, dedup interfaces.JobDedup) *Executor {
	return &Executor{log: log, syncer: syncer, dedup: dedup}
}

func (e *Executor) Run(ctx context.Context, job dto.SyncAccountRequested) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Executor.Run")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, job.AccountID)
	span.SetTag("reason", job.Reason.String())
	span.SetTag("history_id_hint", job.HistoryIDHint)

	defer e.Release(ctx, job.AccountID)

	if err := e.dedup.MarkRunning(ctx, job.AccountID); err != nil {
		e.log.Warnf("Failed to mark sync job running for account %s: %v", job.AccountID, err)
	}

	if err := e.syncer.SyncAccount(ctx, job.AccountID, job.HistoryIDHint); err != nil {
		tracing.TraceErr(span, err)
		e.log.Errorf("Sync of account %s (%s) failed: %v", job.AccountID, job.Reason, err)
		return err
	}
	return nil
}

// Release drops the admission of accountID without running anything. It survives a
// cancelled ctx.
func (e *Executor) Release(ctx context.Context, accountID string) {
	if accountID == "" {
		return
	}
	if err := e.dedup.Release(context.WithoutCancel(ctx), accountID); err != nil {
		e.log.Errorf("Failed to release sync job for account %s: %v", accountID, err)
	}
}
