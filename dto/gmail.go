package dto

import (
	"strconv"
	"strings"
	"time"

	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/utils"
)

// RawMessage is one message fetched in raw (RFC 822) format with its decoded bytes.
type RawMessage struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	HistoryID    uint64
	InternalDate int64 // milliseconds since epoch
	Raw          []byte
}

func (m *RawMessage) IsDraft() bool {
	return utils.IsStringInSlice(enum.GmailLabelDraft, m.LabelIDs)
}

func (m *RawMessage) ReceivedAt() *time.Time {
	if m.InternalDate <= 0 {
		return nil
	}
	t := time.UnixMilli(m.InternalDate).UTC()
	return &t
}

// ThreadPayload is a remote thread with the ids of its member messages, oldest first.
type ThreadPayload struct {
	ID        string
	HistoryID uint64
	Messages  []ThreadMessageRef
}

type ThreadMessageRef struct {
	ID        string
	LabelIDs  []string
	HistoryID uint64
}

func (r ThreadMessageRef) IsDraft() bool {
	return utils.IsStringInSlice(enum.GmailLabelDraft, r.LabelIDs)
}

// HistoryFeed is the flattened delta since a start cursor: the ids of all added
// messages in feed order and the mailbox's current history id.
type HistoryFeed struct {
	HistoryID  uint64
	MessageIDs []string
}

type RemoteLabel struct {
	ID   string
	Name string
	Type string
}

type WatchResponse struct {
	HistoryID  uint64
	Expiration time.Time
}

// GmailPushNotification is the JSON object carried inside a Pub/Sub message.
type GmailPushNotification struct {
	EmailAddress string     `json:"emailAddress"`
	HistoryID    FlexUint64 `json:"historyId"`
}

// PubSubPushEnvelope is the body Pub/Sub POSTs to a push endpoint.
type PubSubPushEnvelope struct {
	Message struct {
		Data        string            `json:"data"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
		Attributes  map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// FlexUint64 accepts both JSON numbers and numeric strings.
type FlexUint64 uint64

func (f *FlexUint64) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return err
	}
	*f = FlexUint64(v)
	return nil
}
