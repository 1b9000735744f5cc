package repository

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

type gmailAccountRepository struct {
	db *gorm.DB
}

func NewGmailAccountRepository(db *gorm.DB) interfaces.GmailAccountRepository {
	return &gmailAccountRepository{db: db}
}

// GetByID loads the account with its labels, nil when it does not exist
func (r *gmailAccountRepository) GetByID(ctx context.Context, id string) (*models.GmailAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gmailAccountRepository.GetByID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, id)

	var account models.GmailAccount
	err := r.db.WithContext(ctx).
		Preload("Labels", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("id = ?", id).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &account, nil
}

func (r *gmailAccountRepository) GetByEmailAddress(ctx context.Context, emailAddress string) (*models.GmailAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gmailAccountRepository.GetByEmailAddress")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag("email_address", emailAddress)

	var account models.GmailAccount
	err := r.db.WithContext(ctx).
		Preload("Labels").
		Where("LOWER(email_address) = ?", utils.NormalizeEmailAddress(emailAddress)).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &account, nil
}

// ListSyncable returns accounts the periodic driver should visit
func (r *gmailAccountRepository) ListSyncable(ctx context.Context) ([]*models.GmailAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gmailAccountRepository.ListSyncable")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var accounts []*models.GmailAccount
	err := r.db.WithContext(ctx).
		Where("sync_enabled = ? AND refresh_token <> ''", true).
		Order("created_at ASC").
		Find(&accounts).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	span.SetTag("count", len(accounts))
	return accounts, nil
}

// ListRealtime returns every account that has realtime sync switched on, labels included
func (r *gmailAccountRepository) ListRealtime(ctx context.Context) ([]*models.GmailAccount, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gmailAccountRepository.ListRealtime")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var accounts []*models.GmailAccount
	err := r.db.WithContext(ctx).
		Preload("Labels").
		Where("realtime_sync = ?", true).
		Find(&accounts).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return accounts, nil
}

// IsKnownIdentity reports whether the address belongs to any connected account
func (r *gmailAccountRepository) IsKnownIdentity(ctx context.Context, emailAddress string) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gmailAccountRepository.IsKnownIdentity")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	emailAddress = utils.NormalizeEmailAddress(emailAddress)
	if emailAddress == "" {
		return false, nil
	}

	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.GmailAccount{}).
		Where("LOWER(email_address) = ?", emailAddress).
		Count(&count).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}
	return count > 0, nil
}

func (r *gmailAccountRepository) UpdateWatchExpiry(ctx context.Context, accountID string, expiresAt *time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gmailAccountRepository.UpdateWatchExpiry")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	err := r.db.WithContext(ctx).
		Model(&models.GmailAccount{}).
		Where("id = ?", accountID).
		Update("watch_expires_at", expiresAt).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to update watch expiry")
	}
	return nil
}
