package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/customeros/mailsync/interfaces"
	mserrors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

type emailThreadRepository struct {
	db *gorm.DB
}

// NewEmailThreadRepository creates a new email thread repository
func NewEmailThreadRepository(db *gorm.DB) interfaces.EmailThreadRepository {
	return &emailThreadRepository{
		db: db,
	}
}

// Create inserts a new email thread into the database. A concurrent writer that
// already created the thread for the same remote id surfaces as gorm.ErrDuplicatedKey.
func (r *emailThreadRepository) Create(ctx context.Context, thread *models.EmailThread) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailThreadRepository.Create")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	if thread == nil {
		err := errors.New("thread cannot be nil")
		tracing.TraceErr(span, err)
		return "", err
	}

	if thread.LastMessageID != "" {
		thread.LastMessageID = utils.NormalizeMessageID(thread.LastMessageID)
	}
	thread.UpdatedAt = utils.Now()

	if err := r.db.WithContext(ctx).Create(thread).Error; err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			tracing.TraceErr(span, err)
		}
		return "", err
	}

	span.SetTag("thread_id", thread.ID)
	return thread.ID, nil
}

// GetByID retrieves an email thread by its ID
func (r *emailThreadRepository) GetByID(ctx context.Context, id string) (*models.EmailThread, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailThreadRepository.GetByID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag("thread_id", id)

	if id == "" {
		err := errors.New("thread ID cannot be empty")
		tracing.TraceErr(span, err)
		return nil, err
	}

	var thread models.EmailThread
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&thread).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}

	return &thread, nil
}

func (r *emailThreadRepository) GetByRemoteThreadID(ctx context.Context, accountID, remoteThreadID string) (*models.EmailThread, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailThreadRepository.GetByRemoteThreadID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.SetTag("remote_thread_id", remoteThreadID)

	if remoteThreadID == "" {
		return nil, nil
	}

	var thread models.EmailThread
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND remote_thread_id = ?", accountID, remoteThreadID).
		First(&thread).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}

	return &thread, nil
}

// Update writes the aggregate fields the sync engine maintains
func (r *emailThreadRepository) Update(ctx context.Context, thread *models.EmailThread) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailThreadRepository.Update")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	if thread == nil {
		err := errors.New("thread cannot be nil")
		tracing.TraceErr(span, err)
		return err
	}
	if thread.ID == "" {
		err := errors.New("thread ID cannot be empty")
		tracing.TraceErr(span, err)
		return err
	}
	span.SetTag("thread_id", thread.ID)

	thread.UpdatedAt = utils.Now()

	result := r.db.WithContext(ctx).
		Model(&models.EmailThread{}).
		Where("id = ?", thread.ID).
		Updates(map[string]interface{}{
			"remote_thread_id": thread.RemoteThreadID,
			"subject":          thread.Subject,
			"participants":     thread.Participants,
			"message_count":    thread.MessageCount,
			"last_message_id":  utils.NormalizeMessageID(thread.LastMessageID),
			"has_attachments":  thread.HasAttachments,
			"first_message_at": thread.FirstMessageAt,
			"last_message_at":  thread.LastMessageAt,
			"reference_type":   thread.ReferenceType,
			"reference_id":     thread.ReferenceID,
			"status":           thread.Status,
			"updated_at":       thread.UpdatedAt,
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		err := fmt.Errorf("thread with ID %s: %w", thread.ID, mserrors.ErrThreadNotFound)
		tracing.TraceErr(span, err)
		return err
	}

	return nil
}

// SetBookkeeping stamps the historical modification time and owner. UpdateColumns skips
// hooks and the automatic updated_at bump.
func (r *emailThreadRepository) SetBookkeeping(ctx context.Context, threadID string, modifiedAt time.Time, ownerID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailThreadRepository.SetBookkeeping")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag("thread_id", threadID)

	columns := map[string]interface{}{
		"modified_at": modifiedAt,
	}
	if ownerID != "" {
		columns["owner_id"] = ownerID
	}

	err := r.db.WithContext(ctx).
		Model(&models.EmailThread{}).
		Where("id = ?", threadID).
		UpdateColumns(columns).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *emailThreadRepository) ListByReference(ctx context.Context, referenceType, referenceID string) ([]*models.EmailThread, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailThreadRepository.ListByReference")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag("reference_type", referenceType)
	span.SetTag("reference_id", referenceID)

	if referenceType == "" || referenceID == "" {
		err := errors.New("reference type and id cannot be empty")
		tracing.TraceErr(span, err)
		return nil, err
	}

	var threads []*models.EmailThread
	err := r.db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", referenceType, referenceID).
		Order("last_message_at DESC").
		Find(&threads).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	return threads, nil
}
