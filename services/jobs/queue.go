package jobs

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/tracing"
)

const KindSyncAccount = "sync_account"

// SyncPublisher is the broker side of the queue, implemented by the RabbitMQ publisher.
type SyncPublisher interface {
	PublishSyncJob(ctx context.Context, message dto.SyncAccountRequested) error
}

type Queue struct {
	log       logger.Logger
	dedup     interfaces.JobDedup
	publisher SyncPublisher
	pool      *LocalPool
}

// NewJobQueue publishes admitted jobs to the broker, or to the local pool when
// publisher is nil.
func NewJobQueue(log logger.Logger, dedup interfaces.JobDedup, publisher SyncPublisher, pool *LocalPool) *Queue {
	return &Queue{log: log, dedup: dedup, publisher: publisher, pool: pool}
}

// Enqueue returns false without error when a job for the same account is already in
// flight.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload dto.SyncAccountRequested, dedupKey string) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "JobQueue.Enqueue")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, payload.AccountID)
	span.SetTag("kind", kind)

	if kind != KindSyncAccount {
		err := errors.Errorf("unsupported job kind %q", kind)
		tracing.TraceErr(span, err)
		return false, err
	}
	if dedupKey == "" {
		dedupKey = DedupKey(payload.AccountID)
	}
	if dedupKey != DedupKey(payload.AccountID) {
		err := errors.Errorf("dedup key %q does not belong to account %s", dedupKey, payload.AccountID)
		tracing.TraceErr(span, err)
		return false, err
	}
	payload.DedupKey = dedupKey

	admitted, err := q.dedup.TryAdmit(ctx, payload.AccountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}
	if !admitted {
		span.LogKV("result", "already in flight")
		return false, nil
	}

	if err := q.dispatch(ctx, payload); err != nil {
		tracing.TraceErr(span, err)
		if releaseErr := q.dedup.Release(ctx, payload.AccountID); releaseErr != nil {
			q.log.Errorf("Failed to release sync job for account %s: %v", payload.AccountID, releaseErr)
		}
		return false, err
	}
	return true, nil
}

func (q *Queue) dispatch(ctx context.Context, payload dto.SyncAccountRequested) error {
	if q.publisher != nil {
		return errors.Wrap(q.publisher.PublishSyncJob(ctx, payload), "failed to publish sync job")
	}
	if q.pool != nil {
		return q.pool.Submit(payload)
	}
	return errors.New("no sync job transport configured")
}

func (q *Queue) RequestSync(ctx context.Context, accountID string, historyIDHint uint64, reason enum.SyncReason) (bool, error) {
	return q.Enqueue(ctx, KindSyncAccount, dto.SyncAccountRequested{
		AccountID:     accountID,
		HistoryIDHint: historyIDHint,
		Reason:        reason,
	}, DedupKey(accountID))
}
