package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	mserrors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
)

// FakeMailbox is a scriptable remote mailbox.
type FakeMailbox struct {
	mu sync.Mutex

	// LabelThreads lists thread ids per label, newest first like the real API.
	LabelThreads map[string][]string
	Threads      map[string]*dto.ThreadPayload
	Messages     map[string]*dto.RawMessage
	// MessageErrors fails single message gets.
	MessageErrors map[string]error
	History       map[string]*dto.HistoryFeed
	HistoryErr    error
	Labels        []dto.RemoteLabel

	HistoryCalls []uint64
	MessageGets  map[string]int
	WatchCalls   [][]string
	WatchTopic   string
	StopCalls    int
	WatchExpiry  time.Time
}

func NewFakeMailbox() *FakeMailbox {
	return &FakeMailbox{
		LabelThreads:  make(map[string][]string),
		Threads:       make(map[string]*dto.ThreadPayload),
		Messages:      make(map[string]*dto.RawMessage),
		MessageErrors: make(map[string]error),
		History:       make(map[string]*dto.HistoryFeed),
		MessageGets:   make(map[string]int),
	}
}

// AddThread registers a thread under label with its messages, oldest first. The thread
// is listed before the ones added earlier.
func (m *FakeMailbox) AddThread(label, threadID string, messages ...*dto.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload := &dto.ThreadPayload{ID: threadID}
	for _, msg := range messages {
		msg.ThreadID = threadID
		m.Messages[msg.ID] = msg
		payload.Messages = append(payload.Messages, dto.ThreadMessageRef{ID: msg.ID, LabelIDs: msg.LabelIDs, HistoryID: msg.HistoryID})
		if msg.HistoryID > payload.HistoryID {
			payload.HistoryID = msg.HistoryID
		}
	}
	m.Threads[threadID] = payload
	m.LabelThreads[label] = append([]string{threadID}, m.LabelThreads[label]...)
}

// AddMessage registers a message for history based fetches only.
func (m *FakeMailbox) AddMessage(msg *dto.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages[msg.ID] = msg
}

func (m *FakeMailbox) ListThreadIDs(_ context.Context, labelID string, max int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := append([]string(nil), m.LabelThreads[labelID]...)
	if max > 0 && len(ids) > max {
		ids = ids[:max]
	}
	return ids, nil
}

func (m *FakeMailbox) GetThread(_ context.Context, threadID string) (*dto.ThreadPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	thread, ok := m.Threads[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", threadID, mserrors.ErrItemNotFound)
	}
	return thread, nil
}

func (m *FakeMailbox) GetRawMessage(_ context.Context, messageID string) (*dto.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessageGets[messageID]++
	if err, ok := m.MessageErrors[messageID]; ok {
		return nil, err
	}
	msg, ok := m.Messages[messageID]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", messageID, mserrors.ErrItemNotFound)
	}
	copied := *msg
	return &copied, nil
}

func (m *FakeMailbox) ListHistory(_ context.Context, startHistoryID uint64, labelID string) (*dto.HistoryFeed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HistoryCalls = append(m.HistoryCalls, startHistoryID)
	if m.HistoryErr != nil {
		return nil, m.HistoryErr
	}
	feed, ok := m.History[labelID]
	if !ok {
		return &dto.HistoryFeed{HistoryID: startHistoryID}, nil
	}
	return feed, nil
}

func (m *FakeMailbox) ListLabels(_ context.Context) ([]dto.RemoteLabel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]dto.RemoteLabel(nil), m.Labels...), nil
}

func (m *FakeMailbox) Watch(_ context.Context, topicName string, labelIDs []string) (*dto.WatchResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WatchTopic = topicName
	m.WatchCalls = append(m.WatchCalls, append([]string(nil), labelIDs...))
	expiry := m.WatchExpiry
	if expiry.IsZero() {
		expiry = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &dto.WatchResponse{HistoryID: 1, Expiration: expiry}, nil
}

func (m *FakeMailbox) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopCalls++
	return nil
}

// MailboxFactory hands out the same FakeMailbox for every account.
type MailboxFactory struct {
	Mailbox *FakeMailbox
	Err     error
}

func (f *MailboxFactory) ForAccount(_ context.Context, account *models.GmailAccount) (interfaces.MailboxAPI, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if !account.HasCredential() {
		return nil, mserrors.ErrMissingCredential
	}
	return f.Mailbox, nil
}

// RawMessageSpec describes a message for BuildRawMessage.
type RawMessageSpec struct {
	ID         string
	HistoryID  uint64
	Labels     []string
	MessageID  string
	From       string
	To         string
	Cc         string
	Subject    string
	Date       time.Time
	InReplyTo  string
	References string
	Text       string
	HTML       string
}

// BuildRawMessage renders spec as an RFC 822 message wrapped the way the API returns it.
func BuildRawMessage(spec RawMessageSpec) *dto.RawMessage {
	var b strings.Builder
	header := func(name, value string) {
		if value != "" {
			b.WriteString(name + ": " + value + "\r\n")
		}
	}
	header("From", spec.From)
	header("To", spec.To)
	header("Cc", spec.Cc)
	header("Subject", spec.Subject)
	if !spec.Date.IsZero() {
		header("Date", spec.Date.Format(time.RFC1123Z))
	}
	if spec.MessageID != "" {
		header("Message-ID", "<"+spec.MessageID+">")
	}
	header("In-Reply-To", spec.InReplyTo)
	header("References", spec.References)
	b.WriteString("MIME-Version: 1.0\r\n")

	switch {
	case spec.HTML != "" && spec.Text != "":
		b.WriteString("Content-Type: multipart/alternative; boundary=\"alt\"\r\n\r\n")
		b.WriteString("--alt\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n" + spec.Text + "\r\n")
		b.WriteString("--alt\r\nContent-Type: text/html; charset=utf-8\r\n\r\n" + spec.HTML + "\r\n")
		b.WriteString("--alt--\r\n")
	case spec.HTML != "":
		b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n" + spec.HTML + "\r\n")
	default:
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n" + spec.Text + "\r\n")
	}

	labels := spec.Labels
	if labels == nil {
		labels = []string{"INBOX"}
	}
	var internalDate int64
	if !spec.Date.IsZero() {
		internalDate = spec.Date.UnixMilli()
	}
	return &dto.RawMessage{
		ID:           spec.ID,
		LabelIDs:     labels,
		HistoryID:    spec.HistoryID,
		InternalDate: internalDate,
		Raw:          []byte(b.String()),
	}
}

// Logger returns a development logger for tests.
func Logger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true, LogLevel: "error"})
	appLogger.InitLogger()
	return appLogger
}

// MemoryStorage keeps uploaded objects in a map.
type MemoryStorage struct {
	mu        sync.Mutex
	Objects   map[string][]byte
	PublicURL string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{Objects: make(map[string][]byte)}
}

func (s *MemoryStorage) Upload(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStorage) Download(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.Objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, mserrors.ErrItemNotFound)
	}
	return data, nil
}

func (s *MemoryStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Objects, key)
	return nil
}

func (s *MemoryStorage) GetPublicURL(key string) string {
	if s.PublicURL == "" {
		return ""
	}
	return strings.TrimSuffix(s.PublicURL, "/") + "/" + key
}
