// Package testutil holds in-memory implementations of the repository and collaborator
// interfaces so services can be tested without Postgres, Google or RabbitMQ.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	mserrors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/utils"
)

// Store is a single in-memory database shared by all fake repositories.
type Store struct {
	mu          sync.Mutex
	accounts    map[string]*models.GmailAccount
	labelStates map[string]*models.LabelSyncState
	threads     map[string]*models.EmailThread
	emails      map[string]*models.Email
	attachments map[string]*models.EmailAttachment
	jobs        map[string]*models.SyncJob

	// Commits records every CommitCursor call in order.
	Commits []uint64
	// BookkeepingCalls counts SetBookkeeping calls per thread.
	BookkeepingCalls map[string]int
	// Now drives lease expiry of sync jobs.
	Now func() time.Time
}

func NewStore() *Store {
	return &Store{
		accounts:         make(map[string]*models.GmailAccount),
		labelStates:      make(map[string]*models.LabelSyncState),
		threads:          make(map[string]*models.EmailThread),
		emails:           make(map[string]*models.Email),
		attachments:      make(map[string]*models.EmailAttachment),
		jobs:             make(map[string]*models.SyncJob),
		BookkeepingCalls: make(map[string]int),
		Now:              utils.Now,
	}
}

func (s *Store) Accounts() interfaces.GmailAccountRepository       { return &accountRepo{s} }
func (s *Store) Labels() interfaces.GmailLabelRepository           { return &labelRepo{s} }
func (s *Store) LabelSync() interfaces.LabelSyncRepository         { return &labelSyncRepo{s} }
func (s *Store) Emails() interfaces.EmailRepository                { return &emailRepo{s} }
func (s *Store) Threads() interfaces.EmailThreadRepository         { return &threadRepo{s} }
func (s *Store) Attachments() interfaces.EmailAttachmentRepository { return &attachmentRepo{s} }
func (s *Store) SyncJobs() interfaces.SyncJobRepository            { return &syncJobRepo{s} }

// AddAccount stores a copy of account, generating an id when it has none.
func (s *Store) AddAccount(account *models.GmailAccount) *models.GmailAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account.ID == "" {
		account.ID = utils.GenerateNanoIDWithPrefix("gacc", 16)
	}
	for i := range account.Labels {
		account.Labels[i].AccountID = account.ID
		if account.Labels[i].ID == "" {
			account.Labels[i].ID = utils.GenerateNanoIDWithPrefix("glbl", 12)
		}
	}
	s.accounts[account.ID] = cloneAccount(account)
	return account
}

// SetLabelCursor seeds the cursor of one label.
func (s *Store) SetLabelCursor(accountID, labelID string, historyID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labelStates[labelKey(accountID, labelID)] = &models.LabelSyncState{
		AccountID:     accountID,
		LabelID:       labelID,
		LastHistoryID: historyID,
		LastSync:      s.Now(),
	}
}

// LabelCursor returns the stored cursor, zero when the label has none.
func (s *Store) LabelCursor(accountID, labelID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.labelStates[labelKey(accountID, labelID)]; ok {
		return state.LastHistoryID
	}
	return 0
}

func (s *Store) HasLabelCursor(accountID, labelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.labelStates[labelKey(accountID, labelID)]
	return ok
}

func (s *Store) Account(id string) *models.GmailAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account, ok := s.accounts[id]; ok {
		return cloneAccount(account)
	}
	return nil
}

// AllThreads returns the stored threads ordered by creation.
func (s *Store) AllThreads() []*models.EmailThread {
	s.mu.Lock()
	defer s.mu.Unlock()
	threads := make([]*models.EmailThread, 0, len(s.threads))
	for _, thread := range s.threads {
		copied := *thread
		threads = append(threads, &copied)
	}
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].CreatedAt.Before(threads[j].CreatedAt)
	})
	return threads
}

func (s *Store) AllEmails() []*models.Email {
	s.mu.Lock()
	defer s.mu.Unlock()
	emails := make([]*models.Email, 0, len(s.emails))
	for _, email := range s.emails {
		copied := *email
		emails = append(emails, &copied)
	}
	sort.SliceStable(emails, func(i, j int) bool {
		return emails[i].Timestamp().Before(emails[j].Timestamp())
	})
	return emails
}

func (s *Store) AllAttachments() []*models.EmailAttachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	attachments := make([]*models.EmailAttachment, 0, len(s.attachments))
	for _, attachment := range s.attachments {
		copied := *attachment
		attachments = append(attachments, &copied)
	}
	return attachments
}

// PutThread stores a copy of thread as is, for seeding references.
func (s *Store) PutThread(thread *models.EmailThread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *thread
	s.threads[thread.ID] = &copied
}

func labelKey(accountID, labelID string) string {
	return accountID + "/" + labelID
}

func cloneAccount(account *models.GmailAccount) *models.GmailAccount {
	copied := *account
	copied.Labels = append([]models.GmailLabel(nil), account.Labels...)
	return &copied
}

type accountRepo struct{ s *Store }

func (r *accountRepo) GetByID(_ context.Context, id string) (*models.GmailAccount, error) {
	return r.s.Account(id), nil
}

func (r *accountRepo) GetByEmailAddress(_ context.Context, emailAddress string) (*models.GmailAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, account := range r.s.accounts {
		if strings.EqualFold(account.EmailAddress, strings.TrimSpace(emailAddress)) {
			return cloneAccount(account), nil
		}
	}
	return nil, nil
}

func (r *accountRepo) ListSyncable(_ context.Context) ([]*models.GmailAccount, error) {
	return r.list(func(a *models.GmailAccount) bool { return a.SyncEnabled && a.HasCredential() }), nil
}

func (r *accountRepo) ListRealtime(_ context.Context) ([]*models.GmailAccount, error) {
	return r.list(func(a *models.GmailAccount) bool { return a.SyncEnabled && a.RealtimeSync }), nil
}

func (r *accountRepo) list(keep func(*models.GmailAccount) bool) []*models.GmailAccount {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []*models.GmailAccount
	for _, account := range r.s.accounts {
		if keep(account) {
			result = append(result, cloneAccount(account))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (r *accountRepo) IsKnownIdentity(_ context.Context, emailAddress string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, account := range r.s.accounts {
		if strings.EqualFold(account.EmailAddress, emailAddress) {
			return true, nil
		}
	}
	return false, nil
}

func (r *accountRepo) UpdateWatchExpiry(_ context.Context, accountID string, expiresAt *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	account, ok := r.s.accounts[accountID]
	if !ok {
		return mserrors.ErrAccountNotFound
	}
	account.WatchExpiresAt = expiresAt
	return nil
}

type labelRepo struct{ s *Store }

func (r *labelRepo) ListByAccount(_ context.Context, accountID string) ([]*models.GmailLabel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	account, ok := r.s.accounts[accountID]
	if !ok {
		return nil, nil
	}
	labels := make([]*models.GmailLabel, 0, len(account.Labels))
	for i := range account.Labels {
		label := account.Labels[i]
		labels = append(labels, &label)
	}
	return labels, nil
}

func (r *labelRepo) Create(_ context.Context, label *models.GmailLabel) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	account, ok := r.s.accounts[label.AccountID]
	if !ok {
		return mserrors.ErrAccountNotFound
	}
	for _, existing := range account.Labels {
		if existing.RemoteID == label.RemoteID {
			return nil
		}
	}
	if label.ID == "" {
		label.ID = utils.GenerateNanoIDWithPrefix("glbl", 12)
	}
	account.Labels = append(account.Labels, *label)
	return nil
}

func (r *labelRepo) SetEnabled(_ context.Context, accountID, remoteID string, enabled bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	account, ok := r.s.accounts[accountID]
	if !ok {
		return mserrors.ErrAccountNotFound
	}
	for i := range account.Labels {
		if account.Labels[i].RemoteID == remoteID {
			account.Labels[i].Enabled = enabled
		}
	}
	return nil
}

type labelSyncRepo struct{ s *Store }

func (r *labelSyncRepo) GetSyncState(_ context.Context, accountID, labelID string) (*models.LabelSyncState, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if state, ok := r.s.labelStates[labelKey(accountID, labelID)]; ok {
		copied := *state
		return &copied, nil
	}
	return nil, nil
}

func (r *labelSyncRepo) CommitCursor(_ context.Context, accountID, labelID string, historyID uint64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.Commits = append(r.s.Commits, historyID)
	if historyID == 0 {
		return nil
	}
	key := labelKey(accountID, labelID)
	state, ok := r.s.labelStates[key]
	if !ok {
		state = &models.LabelSyncState{AccountID: accountID, LabelID: labelID}
		r.s.labelStates[key] = state
	}
	if historyID > state.LastHistoryID {
		state.LastHistoryID = historyID
	}
	state.LastSync = r.s.Now()
	if account, ok := r.s.accounts[accountID]; ok && historyID > account.LastHistoryID {
		account.LastHistoryID = historyID
	}
	return nil
}

func (r *labelSyncRepo) ResetCursor(_ context.Context, accountID, labelID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.labelStates, labelKey(accountID, labelID))
	return nil
}

func (r *labelSyncRepo) ResetAccount(_ context.Context, accountID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for key, state := range r.s.labelStates {
		if state.AccountID == accountID {
			delete(r.s.labelStates, key)
		}
	}
	if account, ok := r.s.accounts[accountID]; ok {
		account.LastHistoryID = 0
	}
	return nil
}

type emailRepo struct{ s *Store }

func (r *emailRepo) Create(_ context.Context, email *models.Email) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.emails {
		if existing.MessageID == email.MessageID {
			return mserrors.ErrDuplicateMessage
		}
	}
	if email.ID == "" {
		email.ID = utils.GenerateNanoIDWithPrefix("email", 24)
	}
	email.CreatedAt = r.s.Now()
	copied := *email
	r.s.emails[email.ID] = &copied
	return nil
}

func (r *emailRepo) GetByID(_ context.Context, id string) (*models.Email, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if email, ok := r.s.emails[id]; ok {
		copied := *email
		return &copied, nil
	}
	return nil, nil
}

func (r *emailRepo) GetByMessageID(_ context.Context, messageID string) (*models.Email, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	messageID = utils.NormalizeMessageID(messageID)
	for _, email := range r.s.emails {
		if email.MessageID == messageID {
			copied := *email
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *emailRepo) FindFirstThreaded(_ context.Context, accountID string, messageIDs []string) (*models.Email, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range messageIDs {
		id = utils.NormalizeMessageID(id)
		for _, email := range r.s.emails {
			if email.AccountID == accountID && email.MessageID == id && email.ThreadID != "" {
				copied := *email
				return &copied, nil
			}
		}
	}
	return nil, nil
}

func (r *emailRepo) ListByThread(_ context.Context, threadID string) ([]*models.Email, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var emails []*models.Email
	for _, email := range r.s.emails {
		if email.ThreadID == threadID {
			copied := *email
			emails = append(emails, &copied)
		}
	}
	sort.SliceStable(emails, func(i, j int) bool {
		return emails[i].Timestamp().Before(emails[j].Timestamp())
	})
	return emails, nil
}

type threadRepo struct{ s *Store }

func (r *threadRepo) Create(_ context.Context, thread *models.EmailThread) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if thread.RemoteThreadID != "" {
		for _, existing := range r.s.threads {
			if existing.RemoteThreadID == thread.RemoteThreadID {
				return "", gorm.ErrDuplicatedKey
			}
		}
	}
	if thread.ID == "" {
		thread.ID = utils.GenerateNanoIDWithPrefix("thread", 16)
	}
	if thread.Status == "" {
		thread.Status = enum.ThreadStatusOpen
	}
	// strictly increasing so creation order survives equal clock readings
	thread.CreatedAt = r.s.Now().Add(time.Duration(len(r.s.threads)) * time.Nanosecond)
	copied := *thread
	r.s.threads[thread.ID] = &copied
	return thread.ID, nil
}

func (r *threadRepo) GetByID(_ context.Context, id string) (*models.EmailThread, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if thread, ok := r.s.threads[id]; ok {
		copied := *thread
		return &copied, nil
	}
	return nil, nil
}

func (r *threadRepo) GetByRemoteThreadID(_ context.Context, accountID, remoteThreadID string) (*models.EmailThread, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if remoteThreadID == "" {
		return nil, nil
	}
	for _, thread := range r.s.threads {
		if thread.AccountID == accountID && thread.RemoteThreadID == remoteThreadID {
			copied := *thread
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *threadRepo) Update(_ context.Context, thread *models.EmailThread) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.threads[thread.ID]
	if !ok {
		return mserrors.ErrThreadNotFound
	}
	copied := *thread
	copied.CreatedAt = existing.CreatedAt
	copied.OwnerID = existing.OwnerID
	copied.ModifiedAt = existing.ModifiedAt
	copied.Participants = append([]string(nil), thread.Participants...)
	r.s.threads[thread.ID] = &copied
	return nil
}

func (r *threadRepo) SetBookkeeping(_ context.Context, threadID string, modifiedAt time.Time, ownerID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	thread, ok := r.s.threads[threadID]
	if !ok {
		return mserrors.ErrThreadNotFound
	}
	thread.ModifiedAt = &modifiedAt
	if ownerID != "" {
		thread.OwnerID = ownerID
	}
	r.s.BookkeepingCalls[threadID]++
	return nil
}

func (r *threadRepo) ListByReference(_ context.Context, referenceType, referenceID string) ([]*models.EmailThread, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var threads []*models.EmailThread
	for _, thread := range r.s.threads {
		if thread.ReferenceType == referenceType && thread.ReferenceID == referenceID {
			copied := *thread
			threads = append(threads, &copied)
		}
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i].CreatedAt.Before(threads[j].CreatedAt) })
	return threads, nil
}

type attachmentRepo struct{ s *Store }

func (r *attachmentRepo) Create(_ context.Context, attachment *models.EmailAttachment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if attachment.ID == "" {
		attachment.ID = utils.GenerateNanoIDWithPrefix("file", 12)
	}
	copied := *attachment
	r.s.attachments[attachment.ID] = &copied
	return nil
}

func (r *attachmentRepo) GetByID(_ context.Context, id string) (*models.EmailAttachment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if attachment, ok := r.s.attachments[id]; ok {
		copied := *attachment
		return &copied, nil
	}
	return nil, nil
}

func (r *attachmentRepo) ListByEmail(_ context.Context, emailID string) ([]*models.EmailAttachment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []*models.EmailAttachment
	for _, attachment := range r.s.attachments {
		if utils.IsStringInSlice(emailID, attachment.Emails) {
			copied := *attachment
			result = append(result, &copied)
		}
	}
	return result, nil
}

type syncJobRepo struct{ s *Store }

func (r *syncJobRepo) Insert(_ context.Context, job *models.SyncJob) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.jobs[job.DedupKey]; ok {
		return false, nil
	}
	copied := *job
	r.s.jobs[job.DedupKey] = &copied
	return true, nil
}

func (r *syncJobRepo) TakeOver(_ context.Context, job *models.SyncJob) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.jobs[job.DedupKey]
	if ok && existing.LeaseExpiresAt.After(r.s.Now()) {
		return false, nil
	}
	copied := *job
	r.s.jobs[job.DedupKey] = &copied
	return true, nil
}

func (r *syncJobRepo) UpdateStatus(_ context.Context, dedupKey string, status enum.SyncJobStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if job, ok := r.s.jobs[dedupKey]; ok {
		job.Status = status
	}
	return nil
}

func (r *syncJobRepo) Delete(_ context.Context, dedupKey string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.jobs, dedupKey)
	return nil
}

// RecordingNotifier collects thread updated events.
type RecordingNotifier struct {
	mu     sync.Mutex
	Events []dto.ThreadUpdated
}

func (n *RecordingNotifier) ThreadUpdated(_ context.Context, event dto.ThreadUpdated) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Events = append(n.Events, event)
	return nil
}

func (n *RecordingNotifier) All() []dto.ThreadUpdated {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]dto.ThreadUpdated(nil), n.Events...)
}
