package interfaces

import (
	"context"
	"time"

	"github.com/customeros/mailsync/internal/models"
)

type GmailAccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.GmailAccount, error)
	GetByEmailAddress(ctx context.Context, emailAddress string) (*models.GmailAccount, error)
	ListSyncable(ctx context.Context) ([]*models.GmailAccount, error)
	ListRealtime(ctx context.Context) ([]*models.GmailAccount, error)
	IsKnownIdentity(ctx context.Context, emailAddress string) (bool, error)
	UpdateWatchExpiry(ctx context.Context, accountID string, expiresAt *time.Time) error
}

type GmailLabelRepository interface {
	ListByAccount(ctx context.Context, accountID string) ([]*models.GmailLabel, error)
	Create(ctx context.Context, label *models.GmailLabel) error
	SetEnabled(ctx context.Context, accountID, remoteID string, enabled bool) error
}

// LabelSyncRepository persists history cursors. CommitCursor raises the label cursor and
// the account cursor together in one transaction and never lowers either.
type LabelSyncRepository interface {
	GetSyncState(ctx context.Context, accountID, labelID string) (*models.LabelSyncState, error)
	CommitCursor(ctx context.Context, accountID, labelID string, historyID uint64) error
	ResetCursor(ctx context.Context, accountID, labelID string) error
	ResetAccount(ctx context.Context, accountID string) error
}
