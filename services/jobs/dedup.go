package jobs

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

const dedupKeyPrefix = "sync-account::"

// DedupKey is the admission key shared by every sync job of one account.
func DedupKey(accountID string) string {
	return dedupKeyPrefix + accountID
}

type jobDedup struct {
	log   logger.Logger
	repo  interfaces.SyncJobRepository
	lease time.Duration
}

func NewJobDedup(log logger.Logger, repo interfaces.SyncJobRepository, lease time.Duration) interfaces.JobDedup {
	if lease <= 0 {
		lease = 30 * time.Minute
	}
	return &jobDedup{log: log, repo: repo, lease: lease}
}

// TryAdmit registers a pending job for the account. It returns false while another job
// for the same account is pending or running and its lease has not run out.
func (d *jobDedup) TryAdmit(ctx context.Context, accountID string) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "JobDedup.TryAdmit")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	if accountID == "" {
		err := errors.New("account id is required")
		tracing.TraceErr(span, err)
		return false, err
	}

	job := &models.SyncJob{
		DedupKey:       DedupKey(accountID),
		AccountID:      accountID,
		Status:         enum.SyncJobPending,
		LeaseExpiresAt: utils.Now().Add(d.lease),
	}

	admitted, err := d.repo.Insert(ctx, job)
	if err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}
	if !admitted {
		admitted, err = d.repo.TakeOver(ctx, job)
		if err != nil {
			tracing.TraceErr(span, err)
			return false, err
		}
		if admitted {
			d.log.Warnf("Took over expired sync job for account %s", accountID)
		}
	}

	span.SetTag("admitted", admitted)
	return admitted, nil
}

// MarkRunning flags an admitted job as picked up by a worker.
func (d *jobDedup) MarkRunning(ctx context.Context, accountID string) error {
	return d.repo.UpdateStatus(ctx, DedupKey(accountID), enum.SyncJobRunning)
}

func (d *jobDedup) Release(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "JobDedup.Release")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	if err := d.repo.Delete(ctx, DedupKey(accountID)); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}
