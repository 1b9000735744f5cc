package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

// AckResponse is the body returned to the push sender whatever happened to the push.
const AckResponse = "OK"

type trigger struct {
	log       logger.Logger
	accounts  interfaces.GmailAccountRepository
	requester interfaces.SyncJobRequester
}

func NewRealtimeTrigger(log logger.Logger, accounts interfaces.GmailAccountRepository, requester interfaces.SyncJobRequester) interfaces.RealtimeTrigger {
	return &trigger{log: log, accounts: accounts, requester: requester}
}

// OnPush decodes a push envelope and requests an incremental sync. It always
// acknowledges; a non-success reply would only make the sender redeliver.
func (t *trigger) OnPush(ctx context.Context, envelope []byte) string {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RealtimeTrigger.OnPush")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	var push dto.PubSubPushEnvelope
	if err := json.Unmarshal(envelope, &push); err != nil {
		tracing.TraceErr(span, err)
		t.log.Warnf("Dropping push with malformed envelope: %v", err)
		return AckResponse
	}
	span.SetTag("pubsub.message_id", push.Message.MessageID)

	if push.Message.Data == "" {
		span.LogKV("result", "empty message")
		return AckResponse
	}

	data, err := decodeData(push.Message.Data)
	if err != nil {
		tracing.TraceErr(span, err)
		t.log.Warnf("Dropping push %s with undecodable data: %v", push.Message.MessageID, err)
		return AckResponse
	}

	if err := t.HandleNotification(ctx, data); err != nil {
		tracing.TraceErr(span, err)
		t.log.Errorf("Failed to handle push %s: %v", push.Message.MessageID, err)
	}
	return AckResponse
}

// HandleNotification resolves the mailbox of a decoded notification and queues a sync
// for it. Unknown mailboxes are dropped without error.
func (t *trigger) HandleNotification(ctx context.Context, data []byte) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RealtimeTrigger.HandleNotification")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	var notification dto.GmailPushNotification
	if err := json.Unmarshal(data, &notification); err != nil {
		t.log.Warnf("Dropping undecodable notification %q: %v", string(data), err)
		return nil
	}
	span.LogKV("emailAddress", notification.EmailAddress, "historyId", uint64(notification.HistoryID))

	if notification.EmailAddress == "" || notification.HistoryID == 0 {
		t.log.Warnf("Dropping incomplete notification %q", string(data))
		return nil
	}

	account, err := t.accounts.GetByEmailAddress(ctx, notification.EmailAddress)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to resolve account")
	}
	if account == nil {
		span.LogKV("result", "unknown mailbox")
		t.log.Infof("Push for unknown mailbox %s dropped", notification.EmailAddress)
		return nil
	}
	tracing.TagAccount(span, account.ID)

	ctx = utils.SetAccountInContext(ctx, account.ID, account.EmailAddress)
	queued, err := t.requester.RequestSync(ctx, account.ID, uint64(notification.HistoryID), enum.SyncReasonPush)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	span.SetTag("queued", queued)
	if !queued {
		t.log.Debugf("Sync for %s already in flight, push %d coalesced", account.ID, uint64(notification.HistoryID))
	}
	return nil
}

// decodeData accepts both padded standard and url-safe base64.
func decodeData(data string) ([]byte, error) {
	data = strings.TrimSpace(data)
	if decoded, err := base64.StdEncoding.DecodeString(data); err == nil {
		return decoded, nil
	}
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return nil, errors.Wrap(err, "invalid base64 payload")
	}
	return decoded, nil
}
