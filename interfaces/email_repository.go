package interfaces

import (
	"context"
	"time"

	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
)

type EmailRepository interface {
	// Create inserts the email; a second insert with the same MessageID returns
	// errors.ErrDuplicateMessage and writes nothing.
	Create(ctx context.Context, email *models.Email) error
	GetByID(ctx context.Context, id string) (*models.Email, error)
	GetByMessageID(ctx context.Context, messageID string) (*models.Email, error)
	// FindFirstThreaded returns the account's email linked to a thread whose MessageID
	// appears earliest in messageIDs.
	FindFirstThreaded(ctx context.Context, accountID string, messageIDs []string) (*models.Email, error)
	ListByThread(ctx context.Context, threadID string) ([]*models.Email, error)
}

type EmailThreadRepository interface {
	Create(ctx context.Context, thread *models.EmailThread) (string, error)
	GetByID(ctx context.Context, id string) (*models.EmailThread, error)
	GetByRemoteThreadID(ctx context.Context, accountID, remoteThreadID string) (*models.EmailThread, error)
	Update(ctx context.Context, thread *models.EmailThread) error
	// SetBookkeeping backfills historical modification time and owner without touching
	// updated_at.
	SetBookkeeping(ctx context.Context, threadID string, modifiedAt time.Time, ownerID string) error
	ListByReference(ctx context.Context, referenceType, referenceID string) ([]*models.EmailThread, error)
}

type EmailAttachmentRepository interface {
	Create(ctx context.Context, attachment *models.EmailAttachment) error
	GetByID(ctx context.Context, id string) (*models.EmailAttachment, error)
	ListByEmail(ctx context.Context, emailID string) ([]*models.EmailAttachment, error)
}

type SyncJobRepository interface {
	// Insert registers the job and reports false when the key is already taken.
	Insert(ctx context.Context, job *models.SyncJob) (bool, error)
	// TakeOver re-registers a key whose lease already expired.
	TakeOver(ctx context.Context, job *models.SyncJob) (bool, error)
	UpdateStatus(ctx context.Context, dedupKey string, status enum.SyncJobStatus) error
	Delete(ctx context.Context, dedupKey string) error
}
