package repository

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

type syncJobRepository struct {
	db *gorm.DB
}

func NewSyncJobRepository(db *gorm.DB) interfaces.SyncJobRepository {
	return &syncJobRepository{db: db}
}

func (r *syncJobRepository) Insert(ctx context.Context, job *models.SyncJob) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncJobRepository.Insert")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag("dedup_key", job.DedupKey)

	now := utils.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(job)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return false, errors.Wrap(result.Error, "failed to insert sync job")
	}
	span.SetTag("admitted", result.RowsAffected > 0)
	return result.RowsAffected > 0, nil
}

// TakeOver replaces a registration whose lease ran out, e.g. after a worker crash
func (r *syncJobRepository) TakeOver(ctx context.Context, job *models.SyncJob) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncJobRepository.TakeOver")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag("dedup_key", job.DedupKey)

	now := utils.Now()
	result := r.db.WithContext(ctx).
		Model(&models.SyncJob{}).
		Where("dedup_key = ? AND lease_expires_at < ?", job.DedupKey, now).
		Updates(map[string]interface{}{
			"account_id":       job.AccountID,
			"status":           job.Status,
			"lease_expires_at": job.LeaseExpiresAt,
			"created_at":       now,
			"updated_at":       now,
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return false, errors.Wrap(result.Error, "failed to take over sync job")
	}
	return result.RowsAffected > 0, nil
}

func (r *syncJobRepository) UpdateStatus(ctx context.Context, dedupKey string, status enum.SyncJobStatus) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncJobRepository.UpdateStatus")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	err := r.db.WithContext(ctx).
		Model(&models.SyncJob{}).
		Where("dedup_key = ?", dedupKey).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to update sync job")
	}
	return nil
}

func (r *syncJobRepository) Delete(ctx context.Context, dedupKey string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncJobRepository.Delete")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	err := r.db.WithContext(ctx).
		Where("dedup_key = ?", dedupKey).
		Delete(&models.SyncJob{}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to delete sync job")
	}
	return nil
}
