package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/customeros/mailsync/internal/utils"
)

// EmailAttachment represents an attachment to an email
type EmailAttachment struct {
	ID          string         `gorm:"type:varchar(50);primaryKey"`
	AccountID   string         `gorm:"type:varchar(50);index;not null"`
	Emails      pq.StringArray `gorm:"type:varchar(50)[];index;not null"`
	Threads     pq.StringArray `gorm:"type:varchar(50)[];index;not null"`
	Filename    string         `gorm:"type:varchar(500)"`
	ContentType string         `gorm:"type:varchar(255)"`
	ContentID   string         `gorm:"type:varchar(255)"` // inline parts only
	Size        int            `gorm:"default:0"`
	IsInline    bool           `gorm:"default:false"`

	StorageService string `gorm:"type:varchar(50)"`
	StorageBucket  string `gorm:"type:varchar(255)"`
	StorageKey     string `gorm:"type:varchar(1000)"`

	ContentHash string `gorm:"type:varchar(64);index"` // SHA-256 of content

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (EmailAttachment) TableName() string {
	return "email_attachments"
}

func (e *EmailAttachment) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = utils.GenerateNanoIDWithPrefix("file", 12)
	}
	e.CreatedAt = utils.Now()
	return nil
}
