package interfaces

import (
	"context"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/internal/models"
)

// MailboxAPI is the remote mailbox for one account. Implementations classify failures:
// a missing item wraps errors.ErrItemNotFound, throttling is *errors.RateLimitedError,
// and an expired history cursor wraps errors.ErrCursorExpired.
type MailboxAPI interface {
	ListThreadIDs(ctx context.Context, labelID string, max int) ([]string, error)
	GetThread(ctx context.Context, threadID string) (*dto.ThreadPayload, error)
	GetRawMessage(ctx context.Context, messageID string) (*dto.RawMessage, error)
	ListHistory(ctx context.Context, startHistoryID uint64, labelID string) (*dto.HistoryFeed, error)
	ListLabels(ctx context.Context) ([]dto.RemoteLabel, error)
	Watch(ctx context.Context, topicName string, labelIDs []string) (*dto.WatchResponse, error)
	Stop(ctx context.Context) error
}

type MailboxAPIFactory interface {
	ForAccount(ctx context.Context, account *models.GmailAccount) (MailboxAPI, error)
}

// BatchClient fetches many items per round trip. Per-item failures come back in the
// error map; the returned error is reserved for failures of the whole round trip.
type BatchClient interface {
	FetchThreadsByIDs(ctx context.Context, ids []string) (map[string]*dto.ThreadPayload, map[string]error, error)
	FetchMessagesRaw(ctx context.Context, ids []string) (map[string]*dto.RawMessage, map[string]error, error)
}
