package interfaces

import (
	"context"
	"time"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
)

type RateLimitGate interface {
	IsCoolingDown(ctx context.Context, accountID string) time.Duration
	SetCooldown(ctx context.Context, accountID string, seconds int)
}

// ParsedMessage is the decoded form of a raw message kept next to the Email built from
// it, for the thread and attachment steps.
type ParsedMessage struct {
	Subject     string
	MessageID   string
	References  []string
	Attachments []ParsedAttachment
}

// ThreadingIDs is the lookup chain for the reference fallback: the message's own id,
// then its References, in header order.
func (p *ParsedMessage) ThreadingIDs() []string {
	ids := make([]string, 0, 1+len(p.References))
	if p.MessageID != "" {
		ids = append(ids, p.MessageID)
	}
	return append(ids, p.References...)
}

type ParsedAttachment struct {
	FileName    string
	ContentType string
	ContentID   string
	Inline      bool
	Content     []byte
}

type MessageReconciler interface {
	Reconcile(ctx context.Context, raw *dto.RawMessage, account *models.GmailAccount) (*models.Email, *ParsedMessage, error)
	ResolveThread(ctx context.Context, accountID, remoteThreadID string, fallbackReferenceIDs []string) (*models.EmailThread, error)
	// ApplyToThread persists email into thread, creating the thread when it is nil.
	ApplyToThread(ctx context.Context, account *models.GmailAccount, thread *models.EmailThread, email *models.Email, parsed *ParsedMessage) (*models.EmailThread, error)
}

type SyncService interface {
	SyncAccount(ctx context.Context, accountID string, historyIDHint uint64) error
	ResetCursor(ctx context.Context, accountID string) error
}

type AttachmentService interface {
	// Materialize uploads the attachments of email and rewrites inline cid: sources in its
	// HTML body. It runs before the email is persisted and returns the rows to record
	// once it is.
	Materialize(ctx context.Context, thread *models.EmailThread, email *models.Email, attachments []ParsedAttachment) ([]*models.EmailAttachment, error)
	Record(ctx context.Context, attachments []*models.EmailAttachment) error
}

type Notifier interface {
	ThreadUpdated(ctx context.Context, event dto.ThreadUpdated) error
}

type JobDedup interface {
	TryAdmit(ctx context.Context, accountID string) (bool, error)
	MarkRunning(ctx context.Context, accountID string) error
	Release(ctx context.Context, accountID string) error
}

type JobQueue interface {
	Enqueue(ctx context.Context, kind string, payload dto.SyncAccountRequested, dedupKey string) (bool, error)
}

// SyncJobRequester is the account level entry used by triggers and the API.
type SyncJobRequester interface {
	RequestSync(ctx context.Context, accountID string, historyIDHint uint64, reason enum.SyncReason) (bool, error)
}
