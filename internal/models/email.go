package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/utils"
)

// Email is one synced message. MessageID is the dedup identity and is unique across the
// whole store; rows are written once and never updated by the sync engine.
type Email struct {
	ID              string              `gorm:"column:id;type:varchar(50);primaryKey"`
	AccountID       string              `gorm:"column:account_id;type:varchar(50);index;not null"`
	ThreadID        string              `gorm:"column:thread_id;type:varchar(50);index"`
	RemoteMessageID string              `gorm:"column:remote_message_id;type:varchar(255);index;not null"`
	RemoteThreadID  string              `gorm:"column:remote_thread_id;type:varchar(255);index"`
	MessageID       string              `gorm:"column:message_id;uniqueIndex;type:varchar(255);not null"`
	InReplyTo       string              `gorm:"column:in_reply_to;type:varchar(255);index"`
	References      pq.StringArray      `gorm:"column:references;type:text[]"`
	Direction       enum.EmailDirection `gorm:"column:direction;type:varchar(20);index"`
	HistoryID       uint64              `gorm:"column:history_id;default:0"`
	LabelIDs        pq.StringArray      `gorm:"column:label_ids;type:text[]"`

	// Core email metadata
	Subject      string         `gorm:"column:subject;type:varchar(1000)"`
	FromAddress  string         `gorm:"column:from_address;type:varchar(255);index"`
	FromName     string         `gorm:"column:from_name;type:varchar(255)"`
	ToAddresses  pq.StringArray `gorm:"column:to_addresses;type:text[]"`
	CcAddresses  pq.StringArray `gorm:"column:cc_addresses;type:text[]"`
	BccAddresses pq.StringArray `gorm:"column:bcc_addresses;type:text[]"`

	// Time information
	SentAt     *time.Time `gorm:"column:sent_at;type:timestamp;index"`
	ReceivedAt *time.Time `gorm:"column:received_at;type:timestamp;index"`

	// Content, quoted replies already stripped
	BodyText      string `gorm:"column:body_text;type:text"`
	BodyHTML      string `gorm:"column:body_html;type:text"`
	HasAttachment bool   `gorm:"column:has_attachment;default:false"`

	RawHeaders JSONMap `gorm:"column:raw_headers;type:jsonb"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
}

func (Email) TableName() string {
	return "emails"
}

func (e *Email) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = utils.GenerateNanoIDWithPrefix("email", 24)
	}
	e.CreatedAt = utils.Now()
	return nil
}

// Timestamp is the moment used to order emails inside a thread: the Date header when
// present, else the provider's arrival time.
func (e *Email) Timestamp() time.Time {
	if e.SentAt != nil && !e.SentAt.IsZero() {
		return *e.SentAt
	}
	if e.ReceivedAt != nil {
		return *e.ReceivedAt
	}
	return e.CreatedAt
}

// Addresses returns sender and every recipient, unnormalized.
func (e *Email) Addresses() []string {
	all := make([]string, 0, 1+len(e.ToAddresses)+len(e.CcAddresses)+len(e.BccAddresses))
	if e.FromAddress != "" {
		all = append(all, e.FromAddress)
	}
	all = append(all, e.ToAddresses...)
	all = append(all, e.CcAddresses...)
	all = append(all, e.BccAddresses...)
	return all
}
