package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/utils"
)

type EmailThread struct {
	ID             string            `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	AccountID      string            `gorm:"column:account_id;type:varchar(50);index;not null" json:"accountId"`
	RemoteThreadID string            `gorm:"column:remote_thread_id;type:varchar(255);index:idx_email_thread_remote,unique,where:remote_thread_id <> ''" json:"remoteThreadId"`
	Subject        string            `gorm:"column:subject;type:varchar(1000)" json:"subject"`
	Participants   pq.StringArray    `gorm:"column:participants;type:text[]" json:"participants"`
	MessageCount   int               `gorm:"column:message_count;default:0" json:"messageCount"`
	LastMessageID  string            `gorm:"column:last_message_id;type:varchar(255)" json:"lastMessageId"`
	HasAttachments bool              `gorm:"column:has_attachments;default:false" json:"hasAttachments"`
	FirstMessageAt *time.Time        `gorm:"column:first_message_at;type:timestamp" json:"firstMessageAt"`
	LastMessageAt  *time.Time        `gorm:"column:last_message_at;type:timestamp" json:"lastMessageAt"`
	ReferenceType  string            `gorm:"column:reference_type;type:varchar(100);index:idx_email_thread_reference" json:"referenceType"`
	ReferenceID    string            `gorm:"column:reference_id;type:varchar(255);index:idx_email_thread_reference" json:"referenceId"`
	Status         enum.ThreadStatus `gorm:"column:status;type:varchar(20);default:open" json:"status"`
	OwnerID        string            `gorm:"column:owner_id;type:varchar(100);index" json:"ownerId"`
	ModifiedAt     *time.Time        `gorm:"column:modified_at;type:timestamp" json:"modifiedAt"`
	CreatedAt      time.Time         `gorm:"column:created_at;type:timestamp" json:"createdAt"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;type:timestamp" json:"updatedAt"`
}

func (EmailThread) TableName() string {
	return "email_threads"
}

func (e *EmailThread) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = utils.GenerateNanoIDWithPrefix("thread", 16)
	}
	if e.Status == "" {
		e.Status = enum.ThreadStatusOpen
	}
	e.CreatedAt = utils.Now()
	return nil
}

func (e *EmailThread) HasReference() bool {
	return e.ReferenceType != "" && e.ReferenceID != ""
}

// SetReference attaches or clears the external document link and keeps the status in
// step with it: Linked while a reference is present, Open otherwise.
func (e *EmailThread) SetReference(referenceType, referenceID string) {
	e.ReferenceType = strings.TrimSpace(referenceType)
	e.ReferenceID = strings.TrimSpace(referenceID)
	if e.HasReference() {
		e.Status = enum.ThreadStatusLinked
	} else {
		e.ReferenceType = ""
		e.ReferenceID = ""
		e.Status = enum.ThreadStatusOpen
	}
}

// AddParticipants unions addresses into the participant set. Addresses are compared
// lower-cased. It reports whether the set changed.
func (e *EmailThread) AddParticipants(addresses ...string) bool {
	existing := make(map[string]struct{}, len(e.Participants))
	for _, p := range e.Participants {
		existing[strings.ToLower(p)] = struct{}{}
	}
	changed := false
	for _, address := range addresses {
		key := strings.ToLower(strings.TrimSpace(address))
		if key == "" {
			continue
		}
		if _, ok := existing[key]; ok {
			continue
		}
		existing[key] = struct{}{}
		e.Participants = append(e.Participants, key)
		changed = true
	}
	return changed
}
