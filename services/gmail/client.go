package gmail

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	mserrors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

const (
	me = "me"

	listPageSize    = 500
	historyPageSize = 500

	labelFilterInclude = "include"
)

// client is the MailboxAPI of one account on top of the Gmail REST API. Every call waits
// on the account's limiter and runs inside the shared circuit breaker.
type client struct {
	accountID         string
	service           *gmail.Service
	breaker           *gobreaker.CircuitBreaker
	limiter           *rate.Limiter
	defaultRetryAfter int
}

func newClient(accountID string, service *gmail.Service, breaker *gobreaker.CircuitBreaker, limiter *rate.Limiter, defaultRetryAfter int) interfaces.MailboxAPI {
	return &client{
		accountID:         accountID,
		service:           service,
		breaker:           breaker,
		limiter:           limiter,
		defaultRetryAfter: defaultRetryAfter,
	}
}

func (c *client) call(ctx context.Context, op string, fn func() error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, op)
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return classifyError(err, c.defaultRetryAfter, op)
}

func (c *client) ListThreadIDs(ctx context.Context, labelID string, max int) ([]string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailClient.ListThreadIDs")
	defer span.Finish()
	tracing.TagComponentGmailClient(span)
	tracing.TagAccount(span, c.accountID)
	span.SetTag("label_id", labelID)

	var ids []string
	pageToken := ""
	for {
		var resp *gmail.ListThreadsResponse
		err := c.call(ctx, "list threads", func() error {
			req := c.service.Users.Threads.List(me).LabelIds(labelID).MaxResults(listPageSize).Context(ctx)
			if pageToken != "" {
				req = req.PageToken(pageToken)
			}
			var err error
			resp, err = req.Do()
			return err
		})
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}

		for _, thread := range resp.Threads {
			ids = append(ids, thread.Id)
			if max > 0 && len(ids) >= max {
				span.SetTag("count", len(ids))
				return ids, nil
			}
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	span.SetTag("count", len(ids))
	return ids, nil
}

func (c *client) GetThread(ctx context.Context, threadID string) (*dto.ThreadPayload, error) {
	var thread *gmail.Thread
	err := c.call(ctx, "get thread "+threadID, func() error {
		var err error
		thread, err = c.service.Users.Threads.Get(me, threadID).Format("minimal").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	payload := &dto.ThreadPayload{
		ID:        thread.Id,
		HistoryID: thread.HistoryId,
		Messages:  make([]dto.ThreadMessageRef, 0, len(thread.Messages)),
	}
	for _, message := range thread.Messages {
		payload.Messages = append(payload.Messages, dto.ThreadMessageRef{
			ID:        message.Id,
			LabelIDs:  message.LabelIds,
			HistoryID: message.HistoryId,
		})
	}
	return payload, nil
}

func (c *client) GetRawMessage(ctx context.Context, messageID string) (*dto.RawMessage, error) {
	var message *gmail.Message
	err := c.call(ctx, "get message "+messageID, func() error {
		var err error
		message, err = c.service.Users.Messages.Get(me, messageID).Format("raw").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	raw, err := decodeRaw(message.Raw)
	if err != nil {
		return nil, errors.Wrapf(mserrors.ErrCorruptItem, "message %s: %v", messageID, err)
	}

	return &dto.RawMessage{
		ID:           message.Id,
		ThreadID:     message.ThreadId,
		LabelIDs:     message.LabelIds,
		HistoryID:    message.HistoryId,
		InternalDate: message.InternalDate,
		Raw:          raw,
	}, nil
}

// ListHistory walks the whole delta feed from startHistoryID. Added message ids are
// returned in feed order without duplicates.
func (c *client) ListHistory(ctx context.Context, startHistoryID uint64, labelID string) (*dto.HistoryFeed, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailClient.ListHistory")
	defer span.Finish()
	tracing.TagComponentGmailClient(span)
	tracing.TagAccount(span, c.accountID)
	span.SetTag("label_id", labelID)
	span.SetTag("start_history_id", startHistoryID)

	feed := &dto.HistoryFeed{}
	pageToken := ""
	for {
		var resp *gmail.ListHistoryResponse
		err := c.call(ctx, "list history", func() error {
			req := c.service.Users.History.List(me).
				StartHistoryId(startHistoryID).
				HistoryTypes("messageAdded", "labelAdded").
				MaxResults(historyPageSize).
				Context(ctx)
			if labelID != "" {
				req = req.LabelId(labelID)
			}
			if pageToken != "" {
				req = req.PageToken(pageToken)
			}
			var err error
			resp, err = req.Do()
			return err
		})
		if err != nil {
			if errors.Is(err, mserrors.ErrItemNotFound) {
				err = errors.Wrapf(mserrors.ErrCursorExpired, "start history id %d", startHistoryID)
			}
			tracing.TraceErr(span, err)
			return nil, err
		}

		for _, history := range resp.History {
			for _, added := range history.MessagesAdded {
				if added.Message != nil {
					feed.MessageIDs = append(feed.MessageIDs, added.Message.Id)
				}
			}
			for _, added := range history.LabelsAdded {
				if added.Message != nil {
					feed.MessageIDs = append(feed.MessageIDs, added.Message.Id)
				}
			}
		}
		if resp.HistoryId > feed.HistoryID {
			feed.HistoryID = resp.HistoryId
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	feed.MessageIDs = utils.UniqueStrings(feed.MessageIDs)
	span.SetTag("messages", len(feed.MessageIDs))
	span.SetTag("history_id", feed.HistoryID)
	return feed, nil
}

func (c *client) ListLabels(ctx context.Context) ([]dto.RemoteLabel, error) {
	var resp *gmail.ListLabelsResponse
	err := c.call(ctx, "list labels", func() error {
		var err error
		resp, err = c.service.Users.Labels.List(me).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	labels := make([]dto.RemoteLabel, 0, len(resp.Labels))
	for _, label := range resp.Labels {
		labels = append(labels, dto.RemoteLabel{ID: label.Id, Name: label.Name, Type: label.Type})
	}
	return labels, nil
}

func (c *client) Watch(ctx context.Context, topicName string, labelIDs []string) (*dto.WatchResponse, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailClient.Watch")
	defer span.Finish()
	tracing.TagComponentGmailClient(span)
	tracing.TagAccount(span, c.accountID)
	span.LogKV("topic", topicName, "labels", strings.Join(labelIDs, ","))

	var resp *gmail.WatchResponse
	err := c.call(ctx, "watch", func() error {
		var err error
		resp, err = c.service.Users.Watch(me, &gmail.WatchRequest{
			TopicName:           topicName,
			LabelIds:            labelIDs,
			LabelFilterBehavior: labelFilterInclude,
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	return &dto.WatchResponse{
		HistoryID:  resp.HistoryId,
		Expiration: time.UnixMilli(resp.Expiration).UTC(),
	}, nil
}

func (c *client) Stop(ctx context.Context) error {
	return c.call(ctx, "stop watch", func() error {
		return c.service.Users.Stop(me).Context(ctx).Do()
	})
}

// decodeRaw accepts the base64url payload with or without padding
func decodeRaw(raw string) ([]byte, error) {
	if raw == "" {
		return nil, errors.New("empty raw payload")
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
}
