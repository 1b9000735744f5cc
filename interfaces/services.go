package interfaces

import (
	"context"

	"github.com/customeros/mailsync/internal/models"
)

type LabelService interface {
	SyncLabels(ctx context.Context, accountID string) ([]*models.GmailLabel, error)
}

type WatchService interface {
	Apply(ctx context.Context, account *models.GmailAccount) error
	Enable(ctx context.Context, account *models.GmailAccount) error
	Disable(ctx context.Context, account *models.GmailAccount) error
	RenewAll(ctx context.Context) error
}

type ThreadService interface {
	Link(ctx context.Context, threadID, referenceType, referenceID string) (*models.EmailThread, error)
	Unlink(ctx context.Context, threadID string) (*models.EmailThread, error)
	ListByReference(ctx context.Context, referenceType, referenceID string) ([]*models.EmailThread, error)
}

type RealtimeTrigger interface {
	OnPush(ctx context.Context, envelope []byte) string
	HandleNotification(ctx context.Context, data []byte) error
}
