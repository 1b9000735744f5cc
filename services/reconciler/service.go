package reconciler

import (
	"context"
	"strings"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	mserrors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

type reconcilerService struct {
	log         logger.Logger
	accounts    interfaces.GmailAccountRepository
	emails      interfaces.EmailRepository
	threads     interfaces.EmailThreadRepository
	attachments interfaces.AttachmentService
}

func NewMessageReconciler(
	log logger.Logger,
	accounts interfaces.GmailAccountRepository,
	emails interfaces.EmailRepository,
	threads interfaces.EmailThreadRepository,
	attachments interfaces.AttachmentService,
) interfaces.MessageReconciler {
	return &reconcilerService{
		log:         log,
		accounts:    accounts,
		emails:      emails,
		threads:     threads,
		attachments: attachments,
	}
}

// Reconcile turns a raw message into an unsaved Email. A message whose identity is
// already stored returns errors.ErrDuplicateMessage and nothing else happens.
func (s *reconcilerService) Reconcile(ctx context.Context, raw *dto.RawMessage, account *models.GmailAccount) (*models.Email, *interfaces.ParsedMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "reconcilerService.Reconcile")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("account_id", account.ID)
	if raw != nil {
		span.SetTag("remote_message_id", raw.ID)
	}

	email, parsed, err := parseRaw(raw, account.ID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, nil, err
	}
	span.SetTag("message_id", email.MessageID)

	existing, err := s.emails.GetByMessageID(ctx, email.MessageID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, nil, errors.Wrap(err, "failed to check for existing message")
	}
	if existing != nil {
		span.LogFields(tracingLog.Bool("duplicate", true))
		return nil, nil, mserrors.ErrDuplicateMessage
	}

	direction, err := s.direction(ctx, account, email.FromAddress)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, nil, err
	}
	email.Direction = direction

	return email, parsed, nil
}

func (s *reconcilerService) direction(ctx context.Context, account *models.GmailAccount, from string) (enum.EmailDirection, error) {
	if from == "" {
		return enum.EmailReceived, nil
	}
	if strings.EqualFold(from, account.EmailAddress) {
		return enum.EmailSent, nil
	}
	known, err := s.accounts.IsKnownIdentity(ctx, from)
	if err != nil {
		return "", errors.Wrap(err, "failed to classify direction")
	}
	if known {
		return enum.EmailSent, nil
	}
	return enum.EmailReceived, nil
}

// ResolveThread finds the local thread a message belongs to: by remote thread id first,
// then through the first already-threaded message of the reference chain.
func (s *reconcilerService) ResolveThread(ctx context.Context, accountID, remoteThreadID string, fallbackReferenceIDs []string) (*models.EmailThread, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "reconcilerService.ResolveThread")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("account_id", accountID)
	span.SetTag("remote_thread_id", remoteThreadID)

	if remoteThreadID != "" {
		thread, err := s.threads.GetByRemoteThreadID(ctx, accountID, remoteThreadID)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		if thread != nil {
			return thread, nil
		}
	}

	if len(fallbackReferenceIDs) == 0 {
		return nil, nil
	}

	email, err := s.emails.FindFirstThreaded(ctx, accountID, fallbackReferenceIDs)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if email == nil {
		return nil, nil
	}

	thread, err := s.threads.GetByID(ctx, email.ThreadID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if thread != nil {
		span.LogFields(tracingLog.String("matched_message_id", email.MessageID))
	}
	return thread, nil
}

func (s *reconcilerService) ApplyToThread(ctx context.Context, account *models.GmailAccount, thread *models.EmailThread, email *models.Email, parsed *interfaces.ParsedMessage) (*models.EmailThread, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "reconcilerService.ApplyToThread")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("account_id", account.ID)
	span.SetTag("message_id", email.MessageID)

	if thread == nil {
		created, err := s.createThread(ctx, account, email, parsed)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		thread = created
	}
	span.SetTag("thread_id", thread.ID)

	if email.ID == "" {
		email.ID = utils.GenerateNanoIDWithPrefix("email", 24)
	}
	email.ThreadID = thread.ID
	if email.RemoteThreadID == "" {
		email.RemoteThreadID = thread.RemoteThreadID
	}

	var records []*models.EmailAttachment
	if parsed != nil && len(parsed.Attachments) > 0 {
		materialized, err := s.attachments.Materialize(ctx, thread, email, parsed.Attachments)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, errors.Wrap(err, "failed to materialize attachments")
		}
		records = materialized
	}

	if err := s.emails.Create(ctx, email); err != nil {
		if !errors.Is(err, mserrors.ErrDuplicateMessage) {
			tracing.TraceErr(span, err)
		}
		return nil, err
	}

	if len(records) > 0 {
		if err := s.attachments.Record(ctx, records); err != nil {
			// the email is stored; a missing attachment row is not worth failing the message
			tracing.TraceErr(span, err)
			s.log.Errorf("failed to record attachments of email %s: %v", email.ID, err)
		}
	}

	movedFirst := aggregate(thread, account, email)
	if subject := strings.TrimSpace(subjectOf(email, parsed)); subject != "" && (thread.Subject == "" || movedFirst) {
		thread.Subject = subject
	}
	if err := s.threads.Update(ctx, thread); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to update thread aggregates")
	}

	if thread.HasReference() {
		s.checkCanonicalReference(ctx, thread)
	}

	return thread, nil
}

func (s *reconcilerService) createThread(ctx context.Context, account *models.GmailAccount, email *models.Email, parsed *interfaces.ParsedMessage) (*models.EmailThread, error) {
	thread := &models.EmailThread{
		AccountID:      account.ID,
		RemoteThreadID: email.RemoteThreadID,
		Subject:        strings.TrimSpace(subjectOf(email, parsed)),
		Status:         enum.ThreadStatusOpen,
	}

	_, err := s.threads.Create(ctx, thread)
	if err == nil {
		return thread, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) || thread.RemoteThreadID == "" {
		return nil, errors.Wrap(err, "failed to create thread")
	}

	// another worker created the same remote thread first
	existing, getErr := s.threads.GetByRemoteThreadID(ctx, account.ID, thread.RemoteThreadID)
	if getErr != nil {
		return nil, getErr
	}
	if existing == nil {
		return nil, errors.Wrap(err, "failed to create thread")
	}
	return existing, nil
}

// aggregate folds a newly stored email into the thread's counters. It reports whether the
// email predates every message the thread had seen, so the thread subject follows the
// earliest email even when it arrives in a later run.
func aggregate(thread *models.EmailThread, account *models.GmailAccount, email *models.Email) bool {
	thread.MessageCount++
	movedFirst := false

	ts := email.Timestamp()
	if !ts.IsZero() {
		if thread.FirstMessageAt == nil || ts.Before(*thread.FirstMessageAt) {
			movedFirst = thread.FirstMessageAt != nil
			thread.FirstMessageAt = utils.TimePtr(ts)
		}
		if thread.LastMessageAt == nil || !ts.Before(*thread.LastMessageAt) {
			thread.LastMessageAt = utils.TimePtr(ts)
			thread.LastMessageID = email.MessageID
		}
	} else if thread.LastMessageID == "" {
		thread.LastMessageID = email.MessageID
	}

	if thread.RemoteThreadID == "" && email.RemoteThreadID != "" {
		thread.RemoteThreadID = email.RemoteThreadID
	}
	if email.HasAttachment && !thread.HasAttachments {
		thread.HasAttachments = true
	}

	thread.AddParticipants(append(email.Addresses(), account.EmailAddress)...)
	return movedFirst
}

// checkCanonicalReference warns when another thread is linked to the same document.
func (s *reconcilerService) checkCanonicalReference(ctx context.Context, thread *models.EmailThread) {
	linked, err := s.threads.ListByReference(ctx, thread.ReferenceType, thread.ReferenceID)
	if err != nil {
		s.log.Warnf("failed to check reference %s/%s of thread %s: %v", thread.ReferenceType, thread.ReferenceID, thread.ID, err)
		return
	}
	for _, other := range linked {
		if other.ID != thread.ID {
			s.log.Warnf("reference %s/%s is already claimed by thread %s, thread %s also points to it",
				thread.ReferenceType, thread.ReferenceID, other.ID, thread.ID)
			return
		}
	}
}

func subjectOf(email *models.Email, parsed *interfaces.ParsedMessage) string {
	if parsed != nil && parsed.Subject != "" {
		return parsed.Subject
	}
	return email.Subject
}
