package models

import (
	"time"
)

// LabelSyncState is the history high-water mark for one (account, label) pair.
type LabelSyncState struct {
	ID            string    `gorm:"column:id;type:uuid;primaryKey;default:gen_random_uuid()"`
	AccountID     string    `gorm:"column:account_id;type:varchar(50);uniqueIndex:idx_label_sync_account_label;not null"`
	LabelID       string    `gorm:"column:label_id;type:varchar(255);uniqueIndex:idx_label_sync_account_label;not null"`
	LastHistoryID uint64    `gorm:"column:last_history_id;not null;default:0"`
	LastSync      time.Time `gorm:"column:last_sync;type:timestamp;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt     time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (LabelSyncState) TableName() string {
	return "label_sync_states"
}
