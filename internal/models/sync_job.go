package models

import (
	"time"

	"github.com/customeros/mailsync/internal/enum"
)

// SyncJob is the admission record for an in-flight sync. The unique dedup key is what
// keeps two jobs for the same account from running at once.
type SyncJob struct {
	DedupKey       string             `gorm:"column:dedup_key;type:varchar(255);primaryKey"`
	AccountID      string             `gorm:"column:account_id;type:varchar(50);index;not null"`
	Status         enum.SyncJobStatus `gorm:"column:status;type:varchar(20);not null"`
	LeaseExpiresAt time.Time          `gorm:"column:lease_expires_at;type:timestamp;not null"`
	CreatedAt      time.Time          `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (SyncJob) TableName() string {
	return "sync_jobs"
}
