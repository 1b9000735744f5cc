package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailsync/internal/utils"
)

type GmailLabel struct {
	ID        string    `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	AccountID string    `gorm:"column:account_id;type:varchar(50);uniqueIndex:idx_gmail_label_account_remote;not null" json:"accountId"`
	RemoteID  string    `gorm:"column:remote_id;type:varchar(255);uniqueIndex:idx_gmail_label_account_remote;not null" json:"remoteId"`
	Name      string    `gorm:"column:name;type:varchar(255)" json:"name"`
	Enabled   bool      `gorm:"column:enabled;default:false" json:"enabled"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (GmailLabel) TableName() string {
	return "gmail_labels"
}

func (l *GmailLabel) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = utils.GenerateNanoIDWithPrefix("glbl", 12)
	}
	l.CreatedAt = utils.Now()
	return nil
}
