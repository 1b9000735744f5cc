package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

type labelSyncRepository struct {
	db *gorm.DB
}

func NewLabelSyncRepository(db *gorm.DB) interfaces.LabelSyncRepository {
	return &labelSyncRepository{db: db}
}

// GetSyncState retrieves the cursor for one label of an account
func (r *labelSyncRepository) GetSyncState(ctx context.Context, accountID, labelID string) (*models.LabelSyncState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "labelSyncRepository.GetSyncState")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.SetTag("label_id", labelID)

	var state models.LabelSyncState
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND label_id = ?", accountID, labelID).
		First(&state)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil // never synced
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get sync state: %w", result.Error)
	}

	return &state, nil
}

// CommitCursor raises the label cursor and the account cursor to historyID. Both are
// monotonic: a smaller value leaves the stored one untouched.
func (r *labelSyncRepository) CommitCursor(ctx context.Context, accountID, labelID string, historyID uint64) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "labelSyncRepository.CommitCursor")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.SetTag("label_id", labelID)
	span.SetTag("history_id", historyID)

	if historyID == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := utils.Now()

		// Try to update first
		result := tx.Model(&models.LabelSyncState{}).
			Where("account_id = ? AND label_id = ?", accountID, labelID).
			Updates(map[string]interface{}{
				"last_history_id": gorm.Expr("GREATEST(last_history_id, ?)", historyID),
				"last_sync":       now,
				"updated_at":      now,
			})
		if result.Error != nil {
			return result.Error
		}

		// If no record was updated, create a new one
		if result.RowsAffected == 0 {
			state := &models.LabelSyncState{
				AccountID:     accountID,
				LabelID:       labelID,
				LastHistoryID: historyID,
				LastSync:      now,
			}
			if err := tx.Create(state).Error; err != nil {
				return err
			}
		}

		return tx.Model(&models.GmailAccount{}).
			Where("id = ? AND last_history_id < ?", accountID, historyID).
			Update("last_history_id", historyID).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to commit sync cursor: %w", err)
	}

	return nil
}

// ResetCursor drops the cursor of one label so its next run is a full sync
func (r *labelSyncRepository) ResetCursor(ctx context.Context, accountID, labelID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "labelSyncRepository.ResetCursor")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	result := r.db.WithContext(ctx).
		Where("account_id = ? AND label_id = ?", accountID, labelID).
		Delete(&models.LabelSyncState{})

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to reset sync cursor: %w", result.Error)
	}

	return nil
}

// ResetAccount zeroes the account cursor and removes every label cursor of the account
func (r *labelSyncRepository) ResetAccount(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "labelSyncRepository.ResetAccount")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", accountID).Delete(&models.LabelSyncState{}).Error; err != nil {
			return err
		}
		return tx.Model(&models.GmailAccount{}).
			Where("id = ?", accountID).
			Update("last_history_id", 0).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to reset account sync state: %w", err)
	}

	return nil
}
