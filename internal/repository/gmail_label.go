package repository

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

type gmailLabelRepository struct {
	db *gorm.DB
}

func NewGmailLabelRepository(db *gorm.DB) interfaces.GmailLabelRepository {
	return &gmailLabelRepository{db: db}
}

func (r *gmailLabelRepository) ListByAccount(ctx context.Context, accountID string) ([]*models.GmailLabel, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gmailLabelRepository.ListByAccount")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	var labels []*models.GmailLabel
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC").
		Find(&labels).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return labels, nil
}

// Create inserts the label, silently skipping one that already exists for the account
func (r *gmailLabelRepository) Create(ctx context.Context, label *models.GmailLabel) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gmailLabelRepository.Create")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	if label == nil || label.AccountID == "" || label.RemoteID == "" {
		tracing.TraceErr(span, ErrInvalidInput)
		return ErrInvalidInput
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "remote_id"}},
			DoNothing: true,
		}).
		Create(label).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to create gmail label")
	}
	return nil
}

func (r *gmailLabelRepository) SetEnabled(ctx context.Context, accountID, remoteID string, enabled bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "gmailLabelRepository.SetEnabled")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	err := r.db.WithContext(ctx).
		Model(&models.GmailLabel{}).
		Where("account_id = ? AND remote_id = ?", accountID, remoteID).
		Updates(map[string]interface{}{
			"enabled":    enabled,
			"updated_at": utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to update gmail label")
	}
	return nil
}
