package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailsync/internal/utils"
)

// GmailAccount is a connected remote mailbox. The sync engine only ever writes
// LastHistoryID and WatchExpiresAt; everything else belongs to the account owner.
type GmailAccount struct {
	ID             string       `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	EmailAddress   string       `gorm:"column:email_address;type:varchar(255);uniqueIndex;not null" json:"emailAddress"`
	LinkedUserID   string       `gorm:"column:linked_user_id;type:varchar(100);index" json:"linkedUserId"`
	RefreshToken   string       `gorm:"column:refresh_token;type:text" json:"-"`
	SyncEnabled    bool         `gorm:"column:sync_enabled;default:false" json:"syncEnabled"`
	RealtimeSync   bool         `gorm:"column:realtime_sync;default:false" json:"realtimeSync"`
	LastHistoryID  uint64       `gorm:"column:last_history_id;default:0" json:"lastHistoryId"`
	WatchExpiresAt *time.Time   `gorm:"column:watch_expires_at;type:timestamp" json:"watchExpiresAt"`
	Labels         []GmailLabel `gorm:"foreignKey:AccountID" json:"labels"`
	CreatedAt      time.Time    `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt      time.Time    `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (GmailAccount) TableName() string {
	return "gmail_accounts"
}

func (a *GmailAccount) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("gacc", 16)
	}
	a.CreatedAt = utils.Now()
	return nil
}

func (a *GmailAccount) HasCredential() bool {
	return a.RefreshToken != ""
}

// EnabledLabels returns the labels the owner selected for scanning, in stored order.
func (a *GmailAccount) EnabledLabels() []GmailLabel {
	enabled := make([]GmailLabel, 0, len(a.Labels))
	for _, label := range a.Labels {
		if label.Enabled {
			enabled = append(enabled, label)
		}
	}
	return enabled
}
