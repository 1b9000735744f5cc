package listeners

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/services/events"
	"github.com/customeros/mailsync/services/jobs"
)

type SyncAccountListener struct {
	events.BaseEventListener
	logger   logger.Logger
	executor *jobs.Executor
}

func NewSyncAccountListener(logger logger.Logger, executor *jobs.Executor) interfaces.EventListener {
	return &SyncAccountListener{
		BaseEventListener: events.NewBaseEventListener(
			logger,
			events.GetEventType[dto.SyncAccountRequested](), // subscribed event
			events.QueueSyncJobs,                             // listening on Direct queue
		),
		logger:   logger,
		executor: executor,
	}
}

// Handle runs the sync and acks regardless of its outcome. A failed job is not
// requeued; the next periodic run picks the account up again.
func (l *SyncAccountListener) Handle(ctx context.Context, baseEvent any) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncAccountListener.Handle")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)
	tracing.LogObjectAsJson(span, "event", baseEvent)

	validatedEvent, err := l.ValidateBaseEvent(ctx, baseEvent)
	if err != nil {
		tracing.TraceErr(span, err)
		// the publisher admitted the account, so a rejected message must not hold it until the lease ends
		if event, ok := baseEvent.(dto.Event); ok {
			l.executor.Release(ctx, event.Event.AccountId)
		}
		return err
	}

	job, err := events.DecodeEventData[dto.SyncAccountRequested](ctx, validatedEvent)
	if err != nil {
		tracing.TraceErr(span, err)
		l.executor.Release(ctx, validatedEvent.Event.AccountId)
		return err
	}
	if job.AccountID == "" {
		job.AccountID = validatedEvent.Event.AccountId
	}

	if err := l.executor.Run(ctx, job); err != nil {
		l.logger.Warnf("Sync job %s finished with error, not requeued: %v", job.DedupKey, err)
	}
	return nil
}
